package player

import (
	"context"
	"errors"
	"fmt"
	"math"

	"SliceFM/core/bridge"
	"SliceFM/core/streamer"
	"SliceFM/logger"
)

// stage 条目初始化的一步，next 必须恰好调用一次
type stage func(p *Player, e *entry, next func(error))

var initStages = []struct {
	name string
	run  stage
}{
	{"registerProvider", (*Player).registerProvider},
	{"listChannels", (*Player).listChannels},
	{"initStreamer", (*Player).initStreamer},
	{"registerStream", (*Player).registerStream},
	{"ready", (*Player).ready},
}

// InitNext 从当前位置起初始化至多 amount 个条目
func (p *Player) InitNext(ctx context.Context, amount int) error {
	return p.await(ctx, func(finish func(error)) {
		p.initNext(amount, finish)
	})
}

func (p *Player) initNext(amount int, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if p.initFlight.Running() {
		p.initFlight.Do(nil, func(error) { p.initNext(amount, done) })
		return
	}
	from := p.index
	to := from + amount
	if to > len(p.playlist) {
		to = len(p.playlist)
	}
	var batch []*entry
	if from < to {
		batch = append(batch, p.playlist[from:to]...)
	}
	p.initFlight.Do(func(finish func(error)) {
		p.initEntries(batch, finish)
	}, done)
}

// ensureInit 按需初始化 e，失败时返回错误
func (p *Player) ensureInit(e *entry, done func(error)) {
	switch {
	case e.removed:
		done(ErrInvalidIndex)
		return
	case e.initialized():
		done(nil)
		return
	case p.initFlight.Running():
		p.initFlight.Do(nil, func(error) { p.ensureInit(e, done) })
		return
	}
	p.initFlight.Do(func(finish func(error)) {
		p.initEntries([]*entry{e}, finish)
	}, func(error) {
		if !e.initialized() {
			done(ErrInitFailed)
			return
		}
		done(nil)
	})
}

// initEntries 依次初始化，失败的条目跳过
func (p *Player) initEntries(batch []*entry, done func(error)) {
	if len(batch) == 0 {
		done(nil)
		return
	}
	e, rest := batch[0], batch[1:]
	if e.removed || e.initialized() {
		p.initEntries(rest, done)
		return
	}
	p.runStages(e, 0, func(err error) {
		if err != nil {
			p.log.Warn("title skipped, init failed",
				logger.Int64("track", e.trackID), logger.ErrorField(err))
			if e.streamer != nil && e.state == streamer.StateUninitialized {
				e.streamer.Kill()
				e.streamer = nil
			}
		}
		p.initEntries(rest, done)
	})
}

func (p *Player) runStages(e *entry, i int, done func(error)) {
	if p.closed || e.removed {
		done(ErrInvalidIndex)
		return
	}
	if i == len(initStages) {
		done(nil)
		return
	}
	st := initStages[i]
	st.run(p, e, func(err error) {
		if err != nil {
			done(fmt.Errorf("%s: %w", st.name, err))
			return
		}
		p.runStages(e, i+1, done)
	})
}

func (p *Player) registerProvider(e *entry, next func(error)) {
	opts := bridge.ProviderOptions{URLPayServer: e.payURL}
	bridgeCall(p, func(ctx context.Context) (bridge.ProviderRegistration, error) {
		return p.bridge.RegisterProvider(ctx, e.provider, e.collateral, opts)
	}, func(r bridge.ProviderRegistration, err error) {
		switch {
		case errors.Is(err, bridge.ErrNoResponse):
			p.log.Warn("bridge not answering, using dummy provider", logger.String("provider", e.provider))
			e.providerID = bridge.DummyProvider
		case err != nil:
			next(err)
			return
		default:
			e.providerID = r.ProviderID
		}
		next(nil)
	})
}

func (p *Player) listChannels(e *entry, next func(error)) {
	providerID := e.providerID
	bridgeCall(p, func(ctx context.Context) ([]string, error) {
		return p.bridge.ListChannels(ctx, providerID)
	}, func(channels []string, err error) {
		switch {
		case errors.Is(err, bridge.ErrNoResponse):
			p.log.Warn("bridge not answering, using dummy channel", logger.String("provider", providerID))
			e.channels = []string{bridge.DummyChannel}
		case err != nil:
			next(err)
			return
		default:
			e.channels = channels
		}
		next(nil)
	})
}

func (p *Player) initStreamer(e *entry, next func(error)) {
	s := streamer.New(p.loop, e.trackID, e.client, p.decoder, p.out, e.channels, p.opts.Streamer)
	s.SetVolume(p.volume)
	e.streamer = s
	s.Init(false, func(err error) {
		if err != nil {
			next(err)
			return
		}
		if m := s.Meta(); m != nil {
			e.meta = m
		}
		next(nil)
	})
}

// registerStream 以略高于单价的上限注册流
func (p *Player) registerStream(e *entry, next func(error)) {
	ppm := int64(math.Ceil(e.streamer.Info().PPM * p.opts.OverRegisterFactor))
	providerID := e.providerID
	bridgeCall(p, func(ctx context.Context) (bridge.StreamRegistration, error) {
		return p.bridge.RegisterStream(ctx, providerID, ppm)
	}, func(r bridge.StreamRegistration, err error) {
		switch {
		case errors.Is(err, bridge.ErrNoResponse):
			p.log.Warn("bridge not answering, using dummy stream", logger.Int64("track", e.trackID))
			e.streamID = bridge.DummyStream
		case err != nil:
			next(err)
			return
		default:
			e.streamID = r.StreamID
		}
		next(nil)
	})
}

func (p *Player) ready(e *entry, next func(error)) {
	e.streamer.SetStreamID(e.streamID)
	e.streamer.SetPaymentFunc(func(amount int64, streamID string) bool {
		return p.paymentHandler(e, amount, streamID)
	})
	e.state = streamer.StateStopped
	p.log.Info("title initialized",
		logger.Int64("track", e.trackID),
		logger.String("provider_id", e.providerID),
		logger.String("stream", e.streamID),
		logger.Strings("channels", e.channels))
	p.emit(StateChanged, nil)
	next(nil)
}
