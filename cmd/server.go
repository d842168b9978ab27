package cmd

import (
	"context"

	"SliceFM/logger"
	"SliceFM/server"

	"github.com/spf13/cobra"
)

var (
	serverPort   string
	serverIndex  string
	serverStore  string
	serverImport bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动切片流媒体服务",
	Long:  `启动提供 /slice、/search、/info 和 /cover 的 HTTP 服务，付费切片在支付服务扣款后发送。`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("port") {
			cfg.Port = serverPort
		}
		if cmd.Flags().Changed("index") {
			cfg.TrackIndex = serverIndex
		}
		if cmd.Flags().Changed("store") {
			cfg.SliceStore = serverStore
		}
		if serverImport {
			n, err := server.ImportIndex(context.Background(), cfg)
			if err != nil {
				logger.Fatal("import track index failed", logger.ErrorField(err))
			}
			logger.Info("track index imported", logger.Int("tracks", n))
		}
		if err := server.Start(cfg); err != nil {
			logger.Fatal("stream server failed", logger.ErrorField(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverPort, "port", "", "监听端口 (默认 PORT)")
	serverCmd.Flags().StringVar(&serverIndex, "index", "", "曲目索引: file 或 mysql")
	serverCmd.Flags().StringVar(&serverStore, "store", "", "切片存储: fs 或 minio")
	serverCmd.Flags().BoolVar(&serverImport, "import", false, "启动前把 STREAMS_DB 导入 MySQL")
}
