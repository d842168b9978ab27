package cmd

import (
	"context"
	"fmt"
	"log"

	"SliceFM/cache"
	"SliceFM/storage"

	"github.com/spf13/cobra"
)

var redisInvalidate string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并进行基本读写操作；可按前缀清除切片缓存。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer cache.CloseRedis()
		fmt.Println("Redis连接成功！")

		ctx := context.Background()
		if err := cache.TestRedis(ctx); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if cmd.Flags().Changed("invalidate") {
			sc := cache.NewSliceCache(cache.RedisClient, storage.MemoryStore{}, cfg.SliceCacheTTL)
			n, err := sc.Invalidate(ctx, redisInvalidate)
			if err != nil {
				log.Fatalf("清除切片缓存失败: %v", err)
			}
			fmt.Printf("已清除 %d 个缓存切片\n", n)
		}
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().StringVar(&redisInvalidate, "invalidate", "", "清除该前缀下的切片缓存")
}
