package player

import (
	"context"
	"errors"

	"SliceFM/core/bridge"
	"SliceFM/logger"
)

// paymentHandler 向条目的流支付 amount 并把结果报告给其 Streamer，未发起支付时返回 false
func (p *Player) paymentHandler(e *entry, amount int64, streamID string) bool {
	if e.removed || e.streamer == nil {
		return false
	}
	bridgeCall(p, func(ctx context.Context) (bridge.ChannelInfo, error) {
		return p.bridge.PayStream(ctx, streamID, amount)
	}, func(ch bridge.ChannelInfo, err error) {
		if e.removed {
			return
		}
		if err == nil {
			p.payFailures = 0
			p.log.Debug("stream paid",
				logger.String("stream", streamID),
				logger.Int64("amount", amount),
				logger.String("channel", ch.ChannelID))
			e.streamer.PaymentFinished(true, ch.ChannelID)
			return
		}
		p.paymentFailed(e, err)
	})
	return true
}

// paymentFailed 刷新条目的通道列表，供 Streamer 重试
func (p *Player) paymentFailed(e *entry, err error) {
	notPlaying := bridge.Rejected(err, bridge.CodeStreamNotPlaying)
	noResponse := errors.Is(err, bridge.ErrNoResponse)
	p.log.Warn("stream payment failed", logger.Int64("track", e.trackID), logger.ErrorField(err))
	if notPlaying {
		e.streamer.DoNotPrepay()
	}
	if !notPlaying && !noResponse {
		p.payFailures++
		if p.payFailures >= p.opts.PaymentFailureLimit {
			p.payFailures = 0
			p.emit(PaymentFailed, err)
		}
	}

	providerID := e.providerID
	bridgeCall(p, func(ctx context.Context) ([]string, error) {
		return p.bridge.ListChannels(ctx, providerID)
	}, func(channels []string, err error) {
		if e.removed {
			return
		}
		switch {
		case err == nil:
			e.streamer.PaymentFinished(false, channels...)
		case errors.Is(err, bridge.ErrNoResponse):
			e.streamer.PaymentFinished(true, bridge.DummyChannel)
		default:
			p.log.Error("list channels failed", logger.String("provider", providerID), logger.ErrorField(err))
			e.streamer.PaymentFinished(false)
		}
	})
}
