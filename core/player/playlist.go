package player

import (
	"context"
	"fmt"
	"time"

	"SliceFM/core/bridge"
	"SliceFM/core/streamer"
	"SliceFM/logger"
	"SliceFM/model"
)

type entry struct {
	state      streamer.State
	streamURL  string
	payURL     string
	trackID    int64
	meta       *model.SliceMeta
	provider   string
	collateral int64
	client     Client

	providerID  string
	channels    []string
	streamID    string
	streamer    *streamer.Streamer
	prebuffered bool
	removed     bool
	watching    bool
}

func (e *entry) initialized() bool {
	return e.state != streamer.StateUninitialized && e.streamer != nil
}

// kill 释放 Streamer，之后条目不可再播放
func (e *entry) kill() {
	e.removed = true
	if e.streamer != nil {
		e.streamer.Kill()
	}
}

// Title 播放列表条目的对外视图
type Title struct {
	model.TrackInfo
	TrackID     int64          `json:"id"`
	State       streamer.State `json:"state"`
	StreamURL   string         `json:"srv_stream"`
	PayURL      string         `json:"srv_pay"`
	Provider    string         `json:"provider"`
	PPM         float64        `json:"ppm"`
	Prebuffered bool           `json:"prebuffered"`
}

func (e *entry) title() Title {
	t := Title{
		TrackID:     e.trackID,
		State:       e.state,
		StreamURL:   e.streamURL,
		PayURL:      e.payURL,
		Provider:    e.provider,
		Prebuffered: e.prebuffered,
	}
	if e.meta != nil {
		t.TrackInfo = e.meta.Info
		if e.meta.SliceDuration > 0 {
			t.PPM = float64(e.meta.Price) * 60 / e.meta.SliceDuration
		}
	}
	return t
}

// Current 当前曲目与播放状态的合并视图
type Current struct {
	Title    Title         `json:"title"`
	Status   streamer.Info `json:"status"`
	Index    int           `json:"index"`
	CoverURL string        `json:"coverUrl"`
}

// AddToPlaylist 获取曲目信息并追加到播放列表末尾，返回新条目的位置
func (p *Player) AddToPlaylist(ctx context.Context, streamURL, payURL string, trackID int64) (int, error) {
	var client Client
	if !p.query(func() { client = p.client(streamURL) }) {
		return -1, ErrClosed
	}
	meta, err := client.TitleInfo(ctx, trackID)
	if err != nil {
		return -1, fmt.Errorf("get title info %d: %w", trackID, err)
	}

	idx := -1
	err = p.await(ctx, func(finish func(error)) {
		p.initTimer.Stop()
		p.playlist = append(p.playlist, &entry{
			state:      streamer.StateUninitialized,
			streamURL:  streamURL,
			payURL:     payURL,
			trackID:    trackID,
			meta:       meta,
			provider:   meta.Provider,
			collateral: meta.Collateral,
			client:     client,
		})
		idx = len(p.playlist) - 1
		p.log.Info("title added",
			logger.Int64("track", trackID),
			logger.String("title", string(meta.Info.Title)),
			logger.String("server_version", meta.ServerVersion),
			logger.String("provider", meta.Provider))
		p.emit(PlaylistChanged, nil)
		p.scheduleInit(p.opts.InitDelayChange)
		finish(nil)
	})
	return idx, err
}

// AddPlayInstant 停止播放，追加曲目并从 at 开始播放
func (p *Player) AddPlayInstant(ctx context.Context, streamURL, payURL string, trackID int64, at time.Duration) error {
	if err := p.Stop(ctx); err != nil {
		return err
	}
	idx, err := p.AddToPlaylist(ctx, streamURL, payURL, trackID)
	if err != nil {
		return err
	}
	return p.Play(ctx, at, idx)
}

// RemoveFromPlaylist 移除 idx 处的条目，正在播放时先停止
func (p *Player) RemoveFromPlaylist(ctx context.Context, idx int) error {
	return p.await(ctx, func(finish func(error)) {
		p.remove(idx, finish)
	})
}

func (p *Player) remove(idx int, done func(error)) {
	if idx < 0 || idx >= len(p.playlist) {
		done(ErrInvalidIndex)
		return
	}
	p.initTimer.Stop()
	e := p.playlist[idx]
	if idx == p.index && p.state == streamer.StatePlaying {
		p.stop(func(error) { p.removeEntry(e, done) })
		return
	}
	p.removeEntry(e, done)
}

func (p *Player) removeEntry(e *entry, done func(error)) {
	idx := p.indexOf(e)
	if idx < 0 {
		done(ErrInvalidIndex)
		return
	}
	p.playlist = append(p.playlist[:idx], p.playlist[idx+1:]...)
	if p.index > idx {
		p.index--
	}
	if p.index >= len(p.playlist) {
		p.index = 0
	}
	e.kill()
	if e.streamID != "" && e.streamID != bridge.DummyStream {
		streamID := e.streamID
		bridgeCall(p, func(ctx context.Context) (string, error) {
			return p.bridge.CloseStream(ctx, streamID)
		}, func(_ string, err error) {
			if err != nil {
				p.log.Warn("close stream failed", logger.String("stream", streamID), logger.ErrorField(err))
			}
		})
	}
	p.log.Info("title removed", logger.Int64("track", e.trackID), logger.Int("index", idx))
	p.emit(PlaylistChanged, nil)
	p.scheduleInit(p.opts.InitDelayChange)
	done(nil)
}

// MovePlaylistPosition 把 from 处的条目移到 to，当前条目保持不变
func (p *Player) MovePlaylistPosition(ctx context.Context, from, to int) error {
	return p.await(ctx, func(finish func(error)) {
		finish(p.move(from, to))
	})
}

func (p *Player) move(from, to int) error {
	n := len(p.playlist)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrInvalidIndex
	}
	if from == to {
		return nil
	}
	p.initTimer.Stop()
	cur := p.current()
	e := p.playlist[from]
	p.playlist = append(p.playlist[:from], p.playlist[from+1:]...)
	p.playlist = append(p.playlist[:to], append([]*entry{e}, p.playlist[to:]...)...)
	if cur != nil {
		p.index = p.indexOf(cur)
	}
	p.emit(PlaylistChanged, nil)
	p.scheduleInit(p.opts.InitDelayChange)
	return nil
}

// Playlist 播放列表快照
func (p *Player) Playlist() []Title {
	var titles []Title
	p.query(func() {
		titles = make([]Title, 0, len(p.playlist))
		for _, e := range p.playlist {
			titles = append(titles, e.title())
		}
	})
	return titles
}

// Index 返回当前条目位置
func (p *Player) Index() int {
	idx := 0
	p.query(func() { idx = p.index })
	return idx
}

func (p *Player) info() streamer.Info {
	if e := p.current(); e != nil && e.initialized() {
		return e.streamer.Info()
	}
	return streamer.Info{State: streamer.StateUninitialized, Volume: p.volume}
}

// Info 当前曲目的状态
func (p *Player) Info() streamer.Info {
	var info streamer.Info
	p.query(func() { info = p.info() })
	return info
}

// Current 返回当前曲目，列表为空时返回 false
func (p *Player) Current() (Current, bool) {
	var (
		c  Current
		ok bool
	)
	p.query(func() {
		e := p.current()
		if e == nil {
			return
		}
		ok = true
		c = Current{Title: e.title(), Status: p.info(), Index: p.index}
		c.CoverURL = e.client.CoverURL(c.Title.AlbumID)
	})
	return c, ok
}
