package cmd

import (
	"context"
	"fmt"

	"SliceFM/core/payserver"
	"SliceFM/logger"
	"SliceFM/server"

	"github.com/spf13/cobra"
)

var (
	payPort   string
	payStore  string
	payBudget int64

	depositPayID  string
	depositAmount int64
)

var payserverCmd = &cobra.Command{
	Use:   "payserver",
	Short: "启动参考支付服务和钱包桥接",
	Long:  `启动账本服务（claimDeposit、getWebBalance、deposit）和 /bridge 钱包 websocket。`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("port") {
			cfg.PayServerPort = payPort
		}
		if cmd.Flags().Changed("store") {
			cfg.PayServerStore = payStore
		}
		if cmd.Flags().Changed("budget") {
			cfg.WalletBudget = payBudget
		}
		if err := server.StartPayServer(cfg); err != nil {
			logger.Fatal("payserver failed", logger.ErrorField(err))
		}
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "向支付 ID 充值",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := payserver.NewClient(cfg.PayServerURL, cfg.Provider, []byte(cfg.PayServerSecret), cfg.PayTimeout)
		balance, err := client.Deposit(context.Background(), depositPayID, depositAmount)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d\n", depositPayID, balance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(payserverCmd)
	payserverCmd.AddCommand(depositCmd)

	payserverCmd.Flags().StringVar(&payPort, "port", "", "监听端口 (默认 PAYSERVER_PORT)")
	payserverCmd.Flags().StringVar(&payStore, "store", "", "账本存储: memory 或 redis")
	payserverCmd.Flags().Int64Var(&payBudget, "budget", 0, "钱包预算")

	depositCmd.Flags().StringVar(&depositPayID, "pay-id", "", "支付 ID")
	depositCmd.Flags().Int64Var(&depositAmount, "amount", 0, "充值金额")
	depositCmd.MarkFlagRequired("pay-id")
	depositCmd.MarkFlagRequired("amount")
}
