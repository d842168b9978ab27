package streamer

import (
	"errors"
	"time"

	"SliceFM/core/audio"
	"SliceFM/logger"
)

// playReq 是一次进行中的 Play，done 只回调一次
type playReq struct {
	done func(error)
	over bool
}

func (r *playReq) finish(err error) {
	if r.over {
		return
	}
	r.over = true
	r.done(err)
}

// Play 从绝对位置 at 开始播放，Resume 时从保存的游标继续，非法位置从头开始。
// 排期完成后回调 done；被 Stop 或新的 Play 取代时 done 收到 ErrSuperseded。
func (s *Streamer) Play(at time.Duration, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if s.killed {
		done(ErrKilled)
		return
	}
	if r := s.play; r != nil {
		s.play = nil
		r.finish(ErrSuperseded)
	}
	s.opts.PrepayAllowed = true
	s.noPrepay = false

	if s.state == StatePlaying || s.state == StateFinishing {
		s.halt()
	}
	r := &playReq{done: done}
	s.play = r
	if s.state == StateUninitialized {
		s.log.Debug("play deferred until init")
		s.onInit.Add(func() {
			if !r.over && s.play == r {
				s.play = nil
				s.Play(at, r.done)
			}
		})
		if len(s.onPayment) > 0 {
			s.CheckRequestPayment(true)
		}
		return
	}

	no, off := s.cur.number, s.cur.offset
	if at == Resume {
		if s.hasNextStart {
			no, off = s.split(s.nextStart)
			s.hasNextStart = false
		}
	} else {
		no, off = s.split(at)
	}
	if off < 0 || no < 0 || no >= s.sliceCount() {
		s.log.Warn("invalid start position, playing from beginning", logger.Duration("at", at))
		no, off = 0, 0
	}
	s.cur = cursor{number: no, offset: off}
	s.playGen++
	s.start(s.playGen, r)
}

func (s *Streamer) start(gen int, r *playReq) {
	s.ManageBuffers(true, func(err error) {
		if r.over {
			return
		}
		if s.killed {
			r.finish(ErrKilled)
			return
		}
		if gen != s.playGen {
			r.finish(ErrSuperseded)
			return
		}
		if errors.Is(err, ErrBufferBusy) {
			s.log.Debug("buffer manager busy, retrying play")
			s.loop.AfterFunc(s.opts.BusyRetry, func() { s.start(gen, r) })
			return
		}
		if s.play == r {
			s.play = nil
		}
		if err != nil {
			r.finish(err)
			return
		}
		s.schedule(s.cur.number, s.cur.offset)
		r.finish(nil)
	})
}

// schedule 从 off 开始播放切片 no，并把下一个切片排在其后
func (s *Streamer) schedule(no int, off time.Duration) {
	buf := s.buffers[no]
	if buf == nil {
		s.await(no, off)
		return
	}
	s.stopSources()
	s.draining = false
	s.awaiting = -1
	s.cur = cursor{number: no}
	s.current = s.enqueue(buf, no, off, s.out.Now()+s.opts.StartLead)
	s.state = StatePlaying
	s.scheduleNext()
}

func (s *Streamer) enqueue(buf *audio.Buffer, no int, off, at time.Duration) *slot {
	b := buf.From(off)
	sl := &slot{number: no, offset: off, start: at, length: b.Duration()}
	sl.source = s.out.Schedule(b, at, s.volume, func() {
		s.loop.Post(func() { s.sourceEnded(sl) })
	})
	return sl
}

func (s *Streamer) scheduleNext() {
	c := s.current
	if c == nil || s.next != nil || s.draining {
		return
	}
	n := c.number + 1
	if n >= s.sliceCount() {
		return
	}
	if buf := s.buffers[n]; buf != nil {
		s.next = s.enqueue(buf, n, 0, c.start+c.length)
	}
}

func (s *Streamer) sliceArrived(no int) {
	switch {
	case s.state == StatePlaying && s.current != nil && s.next == nil && no == s.current.number+1:
		s.scheduleNext()
	case s.state == StateFinishing && s.awaiting == no:
		s.resumeAwaited()
	}
}

func (s *Streamer) sourceEnded(sl *slot) {
	if s.killed || sl != s.current {
		return
	}
	if s.state != StatePlaying && s.state != StateFinishing {
		return
	}
	if s.next != nil && s.next.number == sl.number+1 {
		s.current, s.next = s.next, nil
		s.cur = cursor{number: s.current.number}
		s.scheduleNext()
		return
	}

	n := sl.number + 1
	s.current = nil
	switch {
	case n >= s.sliceCount():
		s.cur = cursor{}
		s.setStopped(true)
	case s.draining:
		s.cur = cursor{number: n}
		s.setStopped(false)
	default:
		s.await(n, 0)
	}
}

// await 停在 FINISHING，直到切片 no 下载完成或一次支付结束
func (s *Streamer) await(no int, off time.Duration) {
	s.log.Warn("slice not downloaded yet, waiting", logger.Int("slice", no))
	s.stopSources()
	s.state = StateFinishing
	s.awaiting = no
	s.cur = cursor{number: no, offset: off}
	s.waitPayment(s.resumeAwaited, nil)
	s.ManageBuffers(false, nil)
}

func (s *Streamer) resumeAwaited() {
	if s.killed || s.state != StateFinishing || s.awaiting < 0 {
		return
	}
	s.awaiting = -1
	if s.buffers[s.cur.number] != nil {
		s.playGen++
		s.schedule(s.cur.number, s.cur.offset)
		return
	}
	s.state = StateStopped
	s.Play(Resume, nil)
}

func (s *Streamer) stopSources() {
	if s.current != nil {
		s.current.source.Stop()
		s.current = nil
	}
	if s.next != nil {
		s.next.source.Stop()
		s.next = nil
	}
}

// halt 停止播放并保存游标，不通知 OnStop
func (s *Streamer) halt() {
	s.playGen++
	if s.state != StatePlaying && s.state != StateFinishing {
		return
	}
	if s.awaiting < 0 && s.current != nil {
		no, off := s.split(s.position())
		if no >= s.sliceCount() {
			no, off = 0, 0
		}
		s.cur = cursor{number: no, offset: off}
	}
	s.stopSources()
	s.state = StateStopped
	s.awaiting = -1
	s.draining = false
}

func (s *Streamer) setStopped(ended bool) {
	s.stopSources()
	s.state = StateStopped
	s.awaiting = -1
	s.draining = false
	hooks := s.onStop
	s.onStop = nil
	for _, fn := range hooks {
		fn(ended)
	}
}

// Stop 停止播放。immediate 时立即停止并保留游标供 Resume，否则先播完已排期的切片。
// 立即停止同时取消仍在等待切片或支付的 Play，以及所有挂在下一次支付上的续作。
func (s *Streamer) Stop(immediate bool) {
	if s.killed {
		return
	}
	if s.state != StatePlaying && s.state != StateFinishing {
		s.playGen++
		s.dropPending(ErrSuperseded)
		return
	}
	if !immediate && s.awaiting < 0 {
		s.state = StateFinishing
		s.draining = true
		return
	}
	s.halt()
	s.dropPending(ErrSuperseded)
	s.setStopped(false)
}
