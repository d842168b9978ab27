package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"SliceFM/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioUpload string
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `列出存储桶中的切片和封面，或把本地切片目录上传到存储桶。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := context.Background()
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}

		if minioUpload != "" {
			n, err := store.UploadDir(ctx, minioUpload)
			if err != nil {
				log.Fatalf("上传失败: %v", err)
			}
			fmt.Printf("已上传 %d 个文件\n", n)
			return
		}

		objects, err := store.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		var total int64
		for _, o := range objects {
			fmt.Fprintf(w, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format("2006-01-02 15:04:05"))
			total += o.Size
		}
		w.Flush()
		fmt.Printf("\n共 %d 个对象, %d 字节\n", len(objects), total)
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件")
	minioCmd.Flags().StringVarP(&minioUpload, "upload", "u", "", "上传本地目录（如 db/audio）")

	minioCmd.Example = `  # 列出所有文件
  slicefm minio

  # 按前缀过滤文件
  slicefm minio -p "db/audio/alb1/"

  # 上传切片目录
  slicefm minio -u db/audio`
}
