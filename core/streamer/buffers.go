package streamer

import (
	"errors"
	"fmt"

	"SliceFM/core/audio"
	"SliceFM/core/loop"
	"SliceFM/core/slicecomm"
	"SliceFM/logger"
	"SliceFM/model"
)

// pass 缓冲管理器的一轮下载
type pass struct {
	pending     int
	playRequest bool
	gen         int
	done        func(error)
	over        bool
}

func (p *pass) finish(err error) {
	if p.over {
		return
	}
	p.over = true
	p.done(err)
}

type fetched struct {
	meta *model.SliceMeta
	buf  *audio.Buffer
}

// fetch 在循环之外执行
func (s *Streamer) fetch(no int, payID string) (*fetched, error) {
	sl, err := s.fetcher.Slice(s.ctx, s.trackID, no, payID)
	if err != nil {
		if sl != nil && sl.Meta != nil {
			return &fetched{meta: sl.Meta}, err
		}
		return nil, err
	}
	f := &fetched{meta: sl.Meta}
	if no >= 0 {
		buf, err := s.decoder.Decode(sl.Meta.Mime, sl.Data)
		if err != nil {
			return nil, fmt.Errorf("decode slice %d: %w", no, err)
		}
		f.buf = buf
	}
	return f, nil
}

// Init 加载元数据（startBuffering 时改为切片 0）并进入 STOPPED；
// startBuffering 时同时填满预缓冲窗口。
func (s *Streamer) Init(startBuffering bool, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if s.killed {
		done(ErrKilled)
		return
	}
	if s.paymentRequested {
		s.waitPayment(func() { s.Init(startBuffering, done) }, done)
		return
	}

	finished := func() {
		if !startBuffering {
			s.initialized()
			done(nil)
			return
		}
		s.ManageBuffers(false, func(err error) {
			if err != nil {
				done(err)
				return
			}
			s.initialized()
			done(nil)
		})
	}

	if s.buffers[0] != nil || (s.meta != nil && !startBuffering) {
		finished()
		return
	}

	no := model.MetadataSlice
	if startBuffering {
		no = 0
	}
	payID := s.payID()
	loop.Go(s.loop, func() (*fetched, error) { return s.fetch(no, payID) }, func(f *fetched, err error) {
		if s.killed {
			done(ErrKilled)
			return
		}
		if errors.Is(err, slicecomm.ErrPaymentRejected) {
			s.rejected(payID, func() { s.Init(startBuffering, done) }, done)
			return
		}
		if err != nil {
			s.log.Error("init failed", logger.ErrorField(err))
			done(err)
			return
		}
		s.meta = f.meta
		s.setBalance(payID, f.meta.Remaining)
		if f.buf != nil {
			s.buffers[0] = f.buf
		}
		finished()
	})
}

func (s *Streamer) initialized() {
	if s.state < StateStopped {
		s.state = StateStopped
	}
	s.onInit.Fire()
}

func (s *Streamer) mayBuffer(playRequest bool) bool {
	switch s.state {
	case StatePlaying:
		return true
	case StateFinishing:
		return s.awaiting >= 0
	case StateStopped, StateUninitialized:
		return s.meta != nil && (s.settled > 0 || playRequest)
	}
	return false
}

func (s *Streamer) startTicker() {
	if s.ticker == nil {
		s.ticker = s.loop.Every(s.opts.ManageEvery, s.tick)
	}
}

// tick 只在播放期间补缓冲和续费
func (s *Streamer) tick() {
	if s.killed || (s.state != StatePlaying && s.state != StateFinishing) {
		return
	}
	if len(s.payIDs) > 0 && s.mayBuffer(false) {
		s.ManageBuffers(false, nil)
	}
	s.CheckRequestPayment(false)
}

// ManageBuffers 下载 [cursor, cursor+prebuffer) 中缺失的切片。
// 非播放状态下若不是播放请求，先等待一次支付。
// 上一轮仍在下载时 done 收到 ErrBufferBusy。
func (s *Streamer) ManageBuffers(playRequest bool, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if s.killed {
		done(ErrKilled)
		return
	}
	s.startTicker()

	if p := s.pass; p != nil {
		s.dnf++
		if s.dnf > 5*p.pending {
			s.log.Warn("buffer pass did not finish, resetting", logger.Int("pending", p.pending))
			s.pass = nil
			p.finish(ErrBufferBusy)
		}
		done(ErrBufferBusy)
		return
	}
	s.dnf = 0

	if !s.mayBuffer(playRequest) {
		s.waitPayment(func() { s.ManageBuffers(playRequest, done) }, done)
		s.CheckRequestPayment(true)
		return
	}

	p := &pass{playRequest: playRequest, gen: s.playGen, done: done}
	end := s.cur.number + s.opts.Prebuffer
	if n := s.sliceCount(); end > n {
		end = n
	}
	for i := s.cur.number; i < end; i++ {
		if s.buffers[i] != nil || s.inflight[i] {
			continue
		}
		p.pending++
		s.download(i, p)
	}
	if p.pending == 0 {
		p.finish(nil)
		return
	}
	s.pass = p
}

func (s *Streamer) endPass(p *pass, err error) {
	if s.pass == p {
		s.pass = nil
	}
	p.finish(err)
}

func (s *Streamer) download(no int, p *pass) {
	payID := s.payID()
	s.inflight[no] = true
	loop.Go(s.loop, func() (*fetched, error) { return s.fetch(no, payID) }, func(f *fetched, err error) {
		delete(s.inflight, no)
		if s.killed {
			return
		}
		// 发起后被停止的下载不再触发支付
		stale := p.gen != s.playGen && s.state != StatePlaying && s.state != StateFinishing
		switch {
		case err == nil:
			s.setBalance(payID, f.meta.Remaining)
			s.buffers[no] = f.buf
			if !stale {
				s.CheckRequestPayment(false)
			}
			s.sliceArrived(no)
			p.pending--
			if p.pending <= 0 {
				s.endPass(p, nil)
			}
		case errors.Is(err, slicecomm.ErrPaymentRejected):
			if p.over {
				return
			}
			p.over = true
			if s.pass == p {
				s.pass = nil
			}
			if stale {
				s.dropPayID(payID)
				p.done(ErrSuperseded)
				return
			}
			s.rejected(payID, func() { s.ManageBuffers(p.playRequest, p.done) }, p.done)
		default:
			s.log.Warn("slice download failed", logger.Int("slice", no), logger.ErrorField(err))
			s.endPass(p, err)
		}
	})
}

// Buffered 切片 no 是否已下载
func (s *Streamer) Buffered(no int) bool {
	return s.buffers[no] != nil
}
