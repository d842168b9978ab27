package streamer

import (
	"errors"
	"math"
	"time"

	"SliceFM/config"
)

// State 播放器/切片流的状态码
type State int

const (
	StateGeneralError  State = -1
	StateUninitialized State = 0
	StateStopped       State = 1
	StateFinishing     State = 9
	StatePlaying       State = 10
)

func (s State) String() string {
	switch s {
	case StateGeneralError:
		return "error"
	case StateUninitialized:
		return "uninitialized"
	case StateStopped:
		return "stopped"
	case StateFinishing:
		return "finishing"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

// Resume 传给 Play 时从保存的游标继续。取值不对应任何真实位置，
// 负的跳转目标一律归零。
const Resume time.Duration = math.MinInt64

// FreePayID 请求零金额支付时记入的支付 id
const FreePayID = "FREE_ITEM_DUMMY_PAY_ID"

var (
	// ErrBufferBusy 上一轮缓冲尚未结束，稍后重试
	ErrBufferBusy = errors.New("streamer: previous buffer pass not finished")
	ErrKilled     = errors.New("streamer: killed")
	// ErrSuperseded 尚未开始的 Play 被 Stop 或新的 Play 取代
	ErrSuperseded = errors.New("streamer: play superseded")
)

// Options 缓冲与支付参数
type Options struct {
	Prebuffer     int           // slices kept ahead of the cursor
	ManageEvery   time.Duration // buffer manager period
	LowBalanceSec float64       // pay when less than this many seconds are funded
	PayAmountSec  float64       // seconds of stream bought per payment
	PayRateLimit  time.Duration // minimum time between two payment requests
	PrepayAllowed bool          // allow payments before the first Play
	StartLead     time.Duration // delay between Play and the first sample
	BusyRetry     time.Duration // Play retry delay when the buffer manager is busy
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Prebuffer:     4,
		ManageEvery:   500 * time.Millisecond,
		LowBalanceSec: 31,
		PayAmountSec:  60,
		PayRateLimit:  5 * time.Second,
		PrepayAllowed: true,
		StartLead:     100 * time.Millisecond,
		BusyRetry:     time.Second,
	}
}

// OptionsFromConfig 在默认值上应用 cfg 中的客户端参数
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	if cfg.Prebuffer > 0 {
		opts.Prebuffer = cfg.Prebuffer
	}
	if cfg.ManageBuffersEvery > 0 {
		opts.ManageEvery = cfg.ManageBuffersEvery
	}
	if cfg.LowBalanceSec > 0 {
		opts.LowBalanceSec = cfg.LowBalanceSec
	}
	if cfg.PayAmountSec > 0 {
		opts.PayAmountSec = cfg.PayAmountSec
	}
	opts.PayRateLimit = cfg.PayRateLimitDelay
	return opts
}
