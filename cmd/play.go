package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SliceFM/core/audio"
	"SliceFM/core/bridge"
	"SliceFM/core/loop"
	"SliceFM/core/player"
	"SliceFM/logger"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// PlaylistFile 是 play 命令读取的 YAML 播放列表
type PlaylistFile struct {
	Stream string  `yaml:"stream"`
	Pay    string  `yaml:"pay"`
	Repeat string  `yaml:"repeat"`
	Volume float64 `yaml:"volume"`
	Titles []struct {
		ID     int64  `yaml:"id"`
		Stream string `yaml:"stream"`
		Pay    string `yaml:"pay"`
	} `yaml:"titles"`
}

type playItem struct {
	stream, pay string
	id          int64
}

var (
	playFile   string
	playStream string
	playIDs    []int64
	playRepeat string
	playVolume float64
	playSilent bool
	playBridge string
	playStatus time.Duration
)

func parseRepeat(s string) (player.Repeat, error) {
	switch s {
	case "", "off":
		return player.RepeatOff, nil
	case "all":
		return player.RepeatAll, nil
	case "one":
		return player.RepeatOne, nil
	}
	return player.RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
}

// loadPlaylist 读取 YAML 播放列表，条目未写 stream/pay 时继承顶层设置
func loadPlaylist(path string) (*PlaylistFile, []playItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var pl PlaylistFile
	if err := yaml.Unmarshal(data, &pl); err != nil {
		return nil, nil, fmt.Errorf("parse playlist %s: %w", path, err)
	}
	items := make([]playItem, 0, len(pl.Titles))
	for _, t := range pl.Titles {
		it := playItem{stream: t.Stream, pay: t.Pay, id: t.ID}
		if it.stream == "" {
			it.stream = pl.Stream
		}
		if it.pay == "" {
			it.pay = pl.Pay
		}
		if it.stream == "" {
			return nil, nil, fmt.Errorf("title %d has no stream server", t.ID)
		}
		items = append(items, it)
	}
	return &pl, items, nil
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "按切片付费播放曲目",
	Long:  `从流媒体服务拉取切片并通过钱包桥接付费播放；曲目来自 --ids 或 YAML 播放列表。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		items := make([]playItem, 0, len(playIDs))
		for _, id := range playIDs {
			items = append(items, playItem{stream: playStream, pay: cfg.PayServerURL, id: id})
		}
		if playFile != "" {
			pl, fileItems, err := loadPlaylist(playFile)
			if err != nil {
				return err
			}
			items = append(items, fileItems...)
			if !cmd.Flags().Changed("repeat") && pl.Repeat != "" {
				playRepeat = pl.Repeat
			}
			if !cmd.Flags().Changed("volume") && pl.Volume > 0 {
				playVolume = pl.Volume
			}
		}
		if len(items) == 0 {
			return fmt.Errorf("nothing to play: pass --ids or --playlist")
		}
		repeat, err := parseRepeat(playRepeat)
		if err != nil {
			return err
		}

		var out audio.Output
		if playSilent {
			out = audio.NewClockOutput()
		} else {
			speaker, err := audio.NewSpeakerOutput(audio.DefaultFormat, 100*time.Millisecond)
			if err != nil {
				return err
			}
			defer speaker.Close()
			out = speaker
		}

		var b bridge.Bridge = bridge.Absent{}
		if playBridge != "" {
			client := bridge.NewClient(playBridge, cfg.BridgeTimeout)
			defer client.Close()
			b = client
		}

		l := loop.New()
		go l.Run()
		defer l.Stop()

		p := player.New(player.Config{
			Loop:    l,
			Bridge:  b,
			Output:  out,
			Decoder: audio.NewBeepDecoder(),
			Options: player.OptionsFromConfig(cfg),
		})
		defer p.Close()
		p.SetRepeat(repeat)
		p.SetVolume(playVolume)

		log := logger.Named("play")
		p.Subscribe(func(ev player.Event) {
			switch ev.Type {
			case player.StateChanged:
				log.Info("state changed")
			case player.PaymentFailed:
				log.Warn("payments keep failing, check the wallet balance")
			}
		})

		ctx := context.Background()
		for _, it := range items {
			if _, err := p.AddToPlaylist(ctx, it.stream, it.pay, it.id); err != nil {
				logger.Warn("title skipped", logger.Int64("id", it.id), logger.ErrorField(err))
			}
		}
		if err := p.Play(ctx, 0, 0); err != nil {
			return fmt.Errorf("play failed (code %d): %w", player.Code(err), err)
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)
		ticker := time.NewTicker(playStatus)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return p.Stop(ctx)
			case <-ticker.C:
				c, ok := p.Current()
				if !ok {
					continue
				}
				fmt.Printf("[%d] %s - %s  %s (%.0f%%) %s\n",
					c.Index, c.Title.Artist, c.Title.Title,
					c.Status.PosHuman.String, c.Status.PosPct, c.Status.State)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().StringVarP(&playFile, "playlist", "f", "", "YAML 播放列表")
	playCmd.Flags().StringVarP(&playStream, "stream", "s", "http://localhost:10010", "流媒体服务地址")
	playCmd.Flags().Int64SliceVarP(&playIDs, "ids", "i", nil, "曲目 ID 列表")
	playCmd.Flags().StringVar(&playRepeat, "repeat", "off", "循环模式: off, all, one")
	playCmd.Flags().Float64Var(&playVolume, "volume", 1, "音量 0..1")
	playCmd.Flags().BoolVar(&playSilent, "silent", false, "不输出声音，只按时钟推进")
	playCmd.Flags().StringVar(&playBridge, "bridge", "", "钱包桥接 websocket 地址，留空则不付费")
	playCmd.Flags().DurationVar(&playStatus, "status-every", 5*time.Second, "状态输出间隔")
}
