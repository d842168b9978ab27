package player

import (
	"errors"
	"time"

	"SliceFM/config"
	"SliceFM/core/streamer"
)

// Repeat 循环模式
type Repeat int

const (
	RepeatOff Repeat = iota
	RepeatAll
	RepeatOne
)

var (
	ErrInvalidIndex   = errors.New("player: invalid playlist index")
	ErrEndOfPlaylist  = errors.New("player: end of playlist")
	ErrEmptyPlaylist  = errors.New("player: playlist is empty")
	ErrInitFailed     = errors.New("player: title could not be initialized")
	ErrNotStopped     = errors.New("player: current title is not stopped")
	ErrNotInitialized = errors.New("player: title is not initialized")
	ErrClosed         = errors.New("player: closed")
)

// Code 把错误映射为播放列表接口的数字结果码
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrEndOfPlaylist):
		return -2
	case errors.Is(err, ErrEmptyPlaylist):
		return -3
	default:
		return -1
	}
}

// Options 播放列表参数
type Options struct {
	PreinitStreams      int
	KeepPlayedTitle     bool
	Volume              float64
	OverRegisterFactor  float64
	Repeat              Repeat
	InitDelayPlay       time.Duration
	InitDelayChange     time.Duration
	PrebufferBusyRetry  time.Duration
	PrebufferPayRetry   time.Duration
	PaymentFailureLimit int
	Streamer            streamer.Options
}

func DefaultOptions() Options {
	return Options{
		PreinitStreams:      5,
		KeepPlayedTitle:     true,
		Volume:              1,
		OverRegisterFactor:  1.5,
		Repeat:              RepeatOff,
		InitDelayPlay:       12 * time.Second,
		InitDelayChange:     time.Second,
		PrebufferBusyRetry:  5 * time.Second,
		PrebufferPayRetry:   15 * time.Second,
		PaymentFailureLimit: 3,
		Streamer:            streamer.DefaultOptions(),
	}
}

// OptionsFromConfig 应用 cfg 中的客户端设置
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.PreinitStreams > 0 {
		opts.PreinitStreams = cfg.PreinitStreams
	}
	opts.Streamer = streamer.OptionsFromConfig(cfg)
	return opts
}
