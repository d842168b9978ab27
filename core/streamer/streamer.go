// Package streamer 播放一首付费曲目：在播放游标前方下载切片，
// 余额不足时请求支付，并把解码后的切片首尾相接地排到音频输出上。
//
// Streamer 属于一个 loop.Loop，所有方法都必须在该循环的 goroutine 上调用，
// 完成回调同样在循环上执行。
package streamer

import (
	"context"
	"fmt"
	"time"

	"SliceFM/core/audio"
	"SliceFM/core/loop"
	"SliceFM/core/slicecomm"
	"SliceFM/logger"
	"SliceFM/model"
)

// Fetcher 下载切片，*slicecomm.Client 实现了它
type Fetcher interface {
	Slice(ctx context.Context, trackID int64, no int, payID string) (*slicecomm.Slice, error)
}

// PaymentFunc 请求向 streamID 支付 amount，已发起时返回 true，结果经 PaymentFinished 报告
type PaymentFunc func(amount int64, streamID string) bool

type cursor struct {
	number int
	offset time.Duration
}

// slot 一个已排期的切片
type slot struct {
	number int
	offset time.Duration
	start  time.Duration
	length time.Duration
	source audio.Source
}

type Streamer struct {
	loop    *loop.Loop
	fetcher Fetcher
	decoder audio.Decoder
	out     audio.Output
	opts    Options
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	trackID int64
	state   State
	meta    *model.SliceMeta

	payIDs    []string
	balances  map[string]int64
	remaining int64

	buffers  map[int]*audio.Buffer
	inflight map[int]bool
	pass     *pass
	dnf      int

	cur          cursor
	current      *slot
	next         *slot
	awaiting     int
	draining     bool
	nextStart    time.Duration
	hasNextStart bool
	playGen      int
	volume       float64

	streamID         string
	pay              PaymentFunc
	paymentRequested bool
	rateLimited      bool
	prepayPending    bool
	prepayDefault    bool
	noPrepay         bool
	settled          int

	play      *playReq
	onPayment []payWaiter
	onInit    loop.Hooks
	onStop    []func(ended bool)
	ticker    *loop.Ticker
	killed    bool
}

// New 为 trackID 创建未初始化的 Streamer，payIDs 按优先级排列
func New(l *loop.Loop, trackID int64, fetcher Fetcher, decoder audio.Decoder, out audio.Output, payIDs []string, opts Options) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		loop:     l,
		fetcher:  fetcher,
		decoder:  decoder,
		out:      out,
		opts:     opts,
		log:      logger.Named("streamer").With(logger.Int64("track", trackID)),
		ctx:      ctx,
		cancel:   cancel,
		trackID:  trackID,
		state:    StateUninitialized,
		balances: make(map[string]int64),
		buffers:  make(map[int]*audio.Buffer),
		inflight: make(map[int]bool),
		awaiting: -1,
		volume:   1,

		prepayDefault: opts.PrepayAllowed,
	}
	s.addPayIDs(payIDs...)
	return s
}

func (s *Streamer) TrackID() int64 { return s.trackID }
func (s *Streamer) State() State   { return s.state }

// Meta 曲目元数据，Init 之前为 nil
func (s *Streamer) Meta() *model.SliceMeta { return s.meta }

func (s *Streamer) StreamID() string { return s.streamID }

// SetStreamID 设置支付所进入的网桥流
func (s *Streamer) SetStreamID(id string) { s.streamID = id }

// SetPaymentFunc 设置需要支付时调用的函数
func (s *Streamer) SetPaymentFunc(fn PaymentFunc) { s.pay = fn }

// DoNotPrepay 在下一次 Play 之前不再请求支付
func (s *Streamer) DoNotPrepay() {
	s.opts.PrepayAllowed = false
	s.noPrepay = true
	s.log.Info("prepayment disabled until play")
}

// OnStop 注册播放停止时的一次性回调，最后一个切片播完时 ended 为 true
func (s *Streamer) OnStop(fn func(ended bool)) {
	s.onStop = append(s.onStop, fn)
}

// SetNextStartTime 设置下一次 Play(Resume) 的起始位置
func (s *Streamer) SetNextStartTime(at time.Duration) {
	s.nextStart = at
	s.hasNextStart = at >= 0
}

// SetVolume 设置当前及后续切片的音量，0 为静音
func (s *Streamer) SetVolume(v float64) {
	s.volume = v
	for _, sl := range []*slot{s.current, s.next} {
		if sl != nil {
			sl.source.SetVolume(v)
		}
	}
}

func (s *Streamer) Volume() float64 { return s.volume }

// Kill 停止一切并释放缓冲，之后不可再用
func (s *Streamer) Kill() {
	if s.killed {
		return
	}
	s.ticker.Stop()
	s.halt()
	s.killed = true
	s.cancel()
	s.buffers = make(map[int]*audio.Buffer)
	s.pass = nil
	s.play = nil
	s.onPayment = nil
	s.onInit = nil
	s.onStop = nil
}

func (s *Streamer) sliceCount() int {
	if s.meta == nil {
		return 0
	}
	return s.meta.SliceCount
}

func (s *Streamer) sliceDuration() time.Duration {
	if s.meta == nil {
		return 0
	}
	return time.Duration(s.meta.SliceDuration * float64(time.Second))
}

// split 把绝对位置换算为切片号和片内偏移
func (s *Streamer) split(at time.Duration) (int, time.Duration) {
	sd := s.sliceDuration()
	if sd <= 0 {
		return 0, at
	}
	no := int(at / sd)
	return no, at - time.Duration(no)*sd
}

func (s *Streamer) position() time.Duration {
	sd := s.sliceDuration()
	if (s.state == StatePlaying || s.state == StateFinishing) && s.awaiting < 0 && s.current != nil {
		played := s.out.Now() - s.current.start
		if played < 0 {
			played = 0
		}
		return time.Duration(s.current.number)*sd + s.current.offset + played
	}
	return time.Duration(s.cur.number)*sd + s.cur.offset
}

// PosHuman 按时分秒拆分的位置
type PosHuman struct {
	H      int    `json:"h"`
	M      int    `json:"m"`
	S      int    `json:"s"`
	MS     int    `json:"ms"`
	String string `json:"string"`
}

// HumanPosition 把秒数格式化为 [hh:]mm:ss
func HumanPosition(sec float64) PosHuman {
	d := time.Duration(sec * float64(time.Second))
	p := PosHuman{
		H:  int(d / time.Hour),
		M:  int(d/time.Minute) % 60,
		S:  int(d/time.Second) % 60,
		MS: int(d/time.Millisecond) % 1000,
	}
	if p.H > 0 {
		p.String = fmt.Sprintf("%02d:%02d:%02d", p.H, p.M, p.S)
	} else {
		p.String = fmt.Sprintf("%02d:%02d", p.M, p.S)
	}
	return p
}

// Info 状态快照
type Info struct {
	State    State    `json:"state"`
	Duration float64  `json:"duration"`
	Pos      float64  `json:"pos"`
	PosHuman PosHuman `json:"pos_human"`
	PosPct   float64  `json:"pos_pc"`
	PPM      float64  `json:"ppm"`
	Volume   float64  `json:"volume"`
}

// Info 返回当前状态、位置和价格
func (s *Streamer) Info() Info {
	info := Info{State: s.state, Volume: s.volume}
	if s.meta == nil || s.state == StateUninitialized {
		return info
	}
	info.Duration = s.meta.Info.Duration
	if s.meta.SliceDuration > 0 {
		info.PPM = float64(s.meta.Price) * 60 / s.meta.SliceDuration
	}
	pos := s.position().Seconds()
	if pos < 0 {
		pos = 0
	}
	if pos > info.Duration {
		pos = info.Duration
	}
	info.Pos = pos
	if info.Duration > 0 {
		info.PosPct = pos * 100 / info.Duration
	}
	info.PosHuman = HumanPosition(pos)
	return info
}
