// Package player 在播放列表上编排 Streamer：向支付网桥初始化每个条目、
// 代理支付并驱动播放控制。
package player

import (
	"context"
	"time"

	"SliceFM/core/audio"
	"SliceFM/core/bridge"
	"SliceFM/core/loop"
	"SliceFM/core/slicecomm"
	"SliceFM/core/streamer"
	"SliceFM/logger"
	"SliceFM/model"
)

// Client 条目使用的、按服务器区分的切片协议
type Client interface {
	streamer.Fetcher
	TitleInfo(ctx context.Context, trackID int64) (*model.SliceMeta, error)
	CoverURL(albumID string) string
}

// Config 播放器依赖
type Config struct {
	Loop    *loop.Loop
	Bridge  bridge.Bridge
	Output  audio.Output
	Decoder audio.Decoder
	// Dial 返回流服务器 URL 对应的客户端，默认使用 slicecomm
	Dial    func(streamURL string) Client
	Options Options
}

// Player 持有播放列表，所有字段只在循环上访问
type Player struct {
	loop    *loop.Loop
	bridge  bridge.Bridge
	out     audio.Output
	decoder audio.Decoder
	dial    func(string) Client
	opts    Options
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	playlist []*entry
	index    int
	state    streamer.State
	volume   float64

	playing   bool
	playSeq   int
	playDone  func(error)
	playQueue []func()

	initFlight   loop.Flight
	prebufFlight loop.Flight
	initTimer    *loop.Timer
	retryTimer   *loop.Timer
	payFailures  int

	clients     map[string]Client
	subscribers []func(Event)
	closed      bool
}

// New 创建播放器，Loop 需由调用方运行
func New(cfg Config) *Player {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Player{
		loop:    cfg.Loop,
		bridge:  cfg.Bridge,
		out:     cfg.Output,
		decoder: cfg.Decoder,
		dial:    cfg.Dial,
		opts:    cfg.Options,
		log:     logger.Named("player"),
		ctx:     ctx,
		cancel:  cancel,
		state:   streamer.StateStopped,
		volume:  cfg.Options.Volume,
		clients: make(map[string]Client),
	}
	if p.bridge == nil {
		p.bridge = bridge.Absent{}
	}
	if p.dial == nil {
		p.dial = func(url string) Client { return slicecomm.NewClient(url) }
	}
	return p
}

// client 每个流服务器共享一个客户端
func (p *Player) client(streamURL string) Client {
	c, ok := p.clients[streamURL]
	if !ok {
		c = p.dial(streamURL)
		p.clients[streamURL] = c
	}
	return c
}

// await 在循环上执行 op，阻塞到 op 调用 finish
func (p *Player) await(ctx context.Context, op func(finish func(error))) error {
	result := make(chan error, 1)
	ok := p.loop.Post(func() {
		if p.closed {
			result <- ErrClosed
			return
		}
		op(func(err error) {
			select {
			case result <- err:
			default:
			}
		})
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.loop.Done():
		return ErrClosed
	}
}

// query 在循环上执行 fn 并等待
func (p *Player) query(fn func()) bool {
	return p.loop.Call(fn)
}

// bridgeCall 在循环外发起网桥请求，结果投递回循环
func bridgeCall[T any](p *Player, call func(ctx context.Context) (T, error), then func(T, error)) {
	loop.Go(p.loop, func() (T, error) { return call(p.ctx) }, func(v T, err error) {
		if p.closed {
			return
		}
		then(v, err)
	})
}

func (p *Player) current() *entry {
	if p.index < 0 || p.index >= len(p.playlist) {
		return nil
	}
	return p.playlist[p.index]
}

func (p *Player) indexOf(e *entry) int {
	for i, x := range p.playlist {
		if x == e {
			return i
		}
	}
	return -1
}

// scheduleInit 重新计时去抖的初始化，之后进行预缓冲
func (p *Player) scheduleInit(delay time.Duration) {
	p.initTimer.Stop()
	p.initTimer = p.loop.AfterFunc(delay, func() {
		p.initNext(p.opts.PreinitStreams, func(error) {
			p.prebuffer(-1, nil)
		})
	})
}

// SetVolume 设置所有已初始化条目的音量
func (p *Player) SetVolume(v float64) {
	p.query(func() {
		p.volume = v
		for _, e := range p.playlist {
			if e.streamer != nil {
				e.streamer.SetVolume(v)
			}
		}
	})
}

func (p *Player) Volume() float64 {
	var v float64
	p.query(func() { v = p.volume })
	return v
}

// SetRepeat 设置循环模式
func (p *Player) SetRepeat(r Repeat) {
	p.query(func() { p.opts.Repeat = r })
}

// SetNextStartTime 设置当前曲目的续播位置，只在停止时有效
func (p *Player) SetNextStartTime(at time.Duration) error {
	err := ErrEmptyPlaylist
	p.query(func() {
		e := p.current()
		if e == nil {
			return
		}
		if e.streamer == nil || e.streamer.State() != streamer.StateStopped {
			err = ErrNotStopped
			return
		}
		e.streamer.SetNextStartTime(at)
		err = nil
	})
	return err
}

// State 播放器状态
func (p *Player) State() streamer.State {
	var s streamer.State
	p.query(func() { s = p.state })
	return s
}

// Close 结束所有 Streamer 并关闭对应的网桥流
func (p *Player) Close() {
	p.query(func() {
		if p.closed {
			return
		}
		p.closed = true
		p.initTimer.Stop()
		p.retryTimer.Stop()
		for _, e := range p.playlist {
			e.kill()
		}
		p.playlist = nil
		p.subscribers = nil
	})
	p.cancel()
}
