package player

import (
	"context"
	"errors"
	"time"

	"SliceFM/core/bridge"
	"SliceFM/core/slicecomm"
	"SliceFM/core/streamer"
	"SliceFM/logger"
)

// Play 从 at 开始播放 index 处的条目。index 为 -1 时沿用当前条目，
// at == streamer.Resume 时从停止处继续，越界的 index 收敛到列表两端。
// 播放进行中收到的请求排队到其后执行。
func (p *Player) Play(ctx context.Context, at time.Duration, index int) error {
	return p.await(ctx, func(finish func(error)) {
		p.play(at, index, finish)
	})
}

// Stop 立即停止当前曲目
func (p *Player) Stop(ctx context.Context) error {
	return p.await(ctx, func(finish func(error)) {
		p.stop(finish)
	})
}

// Next 播放下一条，已在末尾时停止并返回 ErrEndOfPlaylist
func (p *Player) Next(ctx context.Context) error {
	return p.await(ctx, func(finish func(error)) {
		p.next(finish)
	})
}

// Previous 播放上一条，位于第一条时从头重播
func (p *Player) Previous(ctx context.Context) error {
	return p.await(ctx, func(finish func(error)) {
		p.previous(finish)
	})
}

// Seek 从 at 重新播放当前条目
func (p *Player) Seek(ctx context.Context, at time.Duration) error {
	return p.await(ctx, func(finish func(error)) {
		p.play(at, -1, finish)
	})
}

// Prebuffer 提前为条目 no 付费并缓冲；-1 在停止时选当前条目，否则选下一条
func (p *Player) Prebuffer(ctx context.Context, no int) error {
	return p.await(ctx, func(finish func(error)) {
		p.prebuffer(no, finish)
	})
}

func (p *Player) play(at time.Duration, index int, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	p.initTimer.Stop()
	if len(p.playlist) == 0 {
		done(ErrEmptyPlaylist)
		return
	}
	if p.playing {
		p.playQueue = append(p.playQueue, func() { p.play(at, index, done) })
		return
	}
	switch {
	case index >= len(p.playlist):
		index = len(p.playlist) - 1
	case index < -1:
		index = 0
	}
	p.playing = true
	p.playSeq++
	seq := p.playSeq
	over := false
	finish := func(err error) {
		if over {
			return
		}
		over = true
		if p.playSeq == seq {
			p.playDone = nil
		}
		p.playFinished(err, done)
	}
	p.playDone = finish
	p.playNow(seq, at, index, finish)
}

// superseded 播放请求 seq 是否已被 Stop 或更新的播放取消
func (p *Player) superseded(seq int, done func(error)) bool {
	if seq == p.playSeq {
		return false
	}
	done(streamer.ErrSuperseded)
	return true
}

func (p *Player) playNow(seq int, at time.Duration, index int, done func(error)) {
	if index < 0 {
		index = p.index
	}
	if cur := p.current(); cur != nil && cur.initialized() {
		if st := cur.streamer.State(); st == streamer.StatePlaying || st == streamer.StateFinishing {
			cur.streamer.Stop(true)
			if index != p.index {
				p.stopStream(cur)
			}
		}
	}
	if index != p.index {
		p.index = index
		p.emit(PlaylistChanged, nil)
	}
	e := p.current()

	if !e.initialized() {
		p.log.Debug("play waits for init", logger.Int64("track", e.trackID))
		p.ensureInit(e, func(err error) {
			if p.superseded(seq, done) {
				return
			}
			if err != nil {
				done(err)
				return
			}
			idx := p.indexOf(e)
			if idx < 0 {
				done(ErrInvalidIndex)
				return
			}
			p.playNow(seq, at, idx, done)
		})
		return
	}

	if !p.opts.KeepPlayedTitle && p.index > 0 {
		for _, played := range p.playlist[:p.index] {
			played.kill()
		}
		p.playlist = append([]*entry(nil), p.playlist[p.index:]...)
		p.index = 0
		p.emit(PlaylistChanged, nil)
	}
	p.startEntry(seq, e, at, done)
}

// startEntry 先开启网桥流，再启动 Streamer
func (p *Player) startEntry(seq int, e *entry, at time.Duration, done func(error)) {
	play := func() {
		if p.superseded(seq, done) {
			return
		}
		if e.removed {
			done(ErrInvalidIndex)
			return
		}
		if !e.watching {
			e.watching = true
			e.streamer.OnStop(func(ended bool) { p.entryStopped(e, ended) })
		}
		e.streamer.Play(at, func(err error) {
			if err != nil {
				done(err)
				return
			}
			e.state = streamer.StatePlaying
			p.state = streamer.StatePlaying
			p.scheduleInit(p.opts.InitDelayPlay)
			done(nil)
		})
	}
	if e.streamID == bridge.DummyStream {
		play()
		return
	}
	streamID := e.streamID
	bridgeCall(p, func(ctx context.Context) (string, error) {
		return p.bridge.StartStream(ctx, streamID)
	}, func(_ string, err error) {
		if err != nil && !errors.Is(err, bridge.ErrNoResponse) {
			done(err)
			return
		}
		play()
	})
}

func (p *Player) playFinished(err error, done func(error)) {
	p.playing = false
	if err != nil {
		p.log.Warn("play failed", logger.Int("index", p.index), logger.ErrorField(err))
	}
	p.emit(StateChanged, err)
	done(err)
	p.runQueued()
}

// runQueued 执行最早排队等待的请求
func (p *Player) runQueued() {
	if p.playing || len(p.playQueue) == 0 {
		return
	}
	next := p.playQueue[0]
	p.playQueue = p.playQueue[1:]
	next()
}

// entryStopped 跟随 Streamer 的停止，自然播完后按循环模式前进
func (p *Player) entryStopped(e *entry, ended bool) {
	e.watching = false
	if e.removed {
		return
	}
	e.state = streamer.StateStopped
	if !ended {
		return
	}
	p.stopStream(e)
	idx := p.indexOf(e)
	if idx != p.index {
		return
	}
	switch {
	case idx < len(p.playlist)-1 && p.state == streamer.StatePlaying && p.opts.Repeat != RepeatOne:
		p.play(0, idx+1, nil)
	case p.opts.Repeat == RepeatAll:
		p.play(0, 0, nil)
	case p.opts.Repeat == RepeatOne:
		p.play(0, idx, nil)
	default:
		p.state = streamer.StateStopped
		p.log.Info("playlist finished")
		p.emit(StateChanged, nil)
	}
}

func (p *Player) stopStream(e *entry) {
	if e.streamID == "" || e.streamID == bridge.DummyStream {
		return
	}
	streamID := e.streamID
	bridgeCall(p, func(ctx context.Context) (string, error) {
		return p.bridge.StopStream(ctx, streamID)
	}, func(_ string, err error) {
		if err != nil {
			p.log.Warn("stop stream failed", logger.String("stream", streamID), logger.ErrorField(err))
		}
	})
}

// stop 停止当前曲目；进行中的播放请求以 ErrSuperseded 结束，排队的请求随后执行
func (p *Player) stop(done func(error)) {
	if len(p.playlist) == 0 || (p.state != streamer.StatePlaying && !p.playing) {
		done(nil)
		return
	}
	p.state = streamer.StateStopped
	inflight := p.playDone
	p.playDone = nil
	p.playSeq++
	queued := p.playQueue
	p.playQueue = nil
	if e := p.current(); e != nil && e.initialized() {
		e.streamer.Stop(true)
		e.state = streamer.StateStopped
		p.stopStream(e)
	}
	if inflight != nil {
		inflight(streamer.ErrSuperseded)
	} else {
		p.emit(StateChanged, nil)
	}
	done(nil)
	p.playQueue = append(queued, p.playQueue...)
	p.runQueued()
}

func (p *Player) next(done func(error)) {
	if len(p.playlist) == 0 {
		done(ErrEmptyPlaylist)
		return
	}
	if p.index >= len(p.playlist)-1 {
		p.stop(func(error) { done(ErrEndOfPlaylist) })
		return
	}
	p.play(0, p.index+1, done)
}

func (p *Player) previous(done func(error)) {
	if len(p.playlist) == 0 {
		done(ErrEmptyPlaylist)
		return
	}
	if p.index == 0 {
		p.play(0, 0, done)
		return
	}
	p.play(0, p.index-1, done)
}

func (p *Player) prebuffer(no int, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if p.prebufFlight.Running() {
		p.prebufFlight.Do(nil, func(error) { p.prebuffer(no, done) })
		return
	}
	p.prebufFlight.Do(func(finish func(error)) {
		p.runPrebuffer(no, finish)
	}, done)
}

func (p *Player) runPrebuffer(no int, done func(error)) {
	if len(p.playlist) == 0 {
		done(ErrEmptyPlaylist)
		return
	}
	if no < 0 {
		no = p.index
		if e := p.current(); e == nil || e.state != streamer.StateStopped {
			no = p.index + 1
		}
	}
	if no >= len(p.playlist) {
		done(ErrEndOfPlaylist)
		return
	}
	e := p.playlist[no]
	if !e.initialized() {
		done(ErrNotInitialized)
		return
	}
	if e.prebuffered {
		done(nil)
		return
	}
	e.streamer.CheckRequestPayment(no != p.index)
	e.streamer.Init(true, func(err error) {
		switch {
		case err == nil:
			e.prebuffered = true
			p.log.Debug("title prebuffered", logger.Int64("track", e.trackID))
		case errors.Is(err, streamer.ErrBufferBusy):
			p.retryPrebuffer(e, p.opts.PrebufferBusyRetry)
		case errors.Is(err, slicecomm.ErrPaymentRejected):
			p.retryPrebuffer(e, p.opts.PrebufferPayRetry)
		default:
			p.log.Warn("prebuffer failed", logger.Int64("track", e.trackID), logger.ErrorField(err))
		}
		done(err)
	})
}

func (p *Player) retryPrebuffer(e *entry, after time.Duration) {
	p.retryTimer.Stop()
	p.retryTimer = p.loop.AfterFunc(after, func() {
		if idx := p.indexOf(e); idx >= 0 && !e.prebuffered {
			p.prebuffer(idx, nil)
		}
	})
}
