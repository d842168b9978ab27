package cmd

import (
	"context"
	"encoding/json"
	"os"

	"SliceFM/core/slicecomm"
	"SliceFM/model"

	"github.com/spf13/cobra"
)

var (
	searchStream  string
	searchAlbums  string
	searchAlbumID string
	searchInfo    bool
	searchReq     model.SearchRequest
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "搜索流媒体服务上的曲目和专辑",
	Long:  `按标签搜索曲目（同一标签内为或，不同标签间为与），或按名称搜索专辑、列出专辑曲目，结果以 JSON 输出。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := slicecomm.NewClient(searchStream)
		ctx := context.Background()

		var (
			res interface{}
			err error
		)
		switch {
		case searchInfo:
			res, err = client.ServerInfo(ctx)
		case searchAlbumID != "":
			res, err = client.AlbumTitles(ctx, searchAlbumID)
		case cmd.Flags().Changed("albums"):
			res, err = client.Albums(ctx, searchAlbums)
		default:
			res, err = client.Search(ctx, searchReq)
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	f := searchCmd.Flags()
	f.StringVarP(&searchStream, "stream", "s", "http://localhost:10010", "流媒体服务地址")
	f.BoolVar(&searchInfo, "info", false, "只显示服务器信息")
	f.StringVar(&searchAlbums, "albums", "", "按名称搜索专辑")
	f.StringVar(&searchAlbumID, "album-id", "", "列出专辑内的曲目")
	f.StringSliceVar(&searchReq.Title, "title", nil, "标题包含")
	f.StringSliceVar(&searchReq.Album, "album", nil, "专辑包含")
	f.StringSliceVar(&searchReq.Artist, "artist", nil, "艺术家包含")
	f.StringSliceVar(&searchReq.AlbumArtist, "album-artist", nil, "专辑艺术家包含")
	f.StringSliceVar(&searchReq.Genre, "genre", nil, "流派包含")
	f.StringSliceVar(&searchReq.Date, "date", nil, "日期包含")
}
