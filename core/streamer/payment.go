package streamer

import (
	"math"

	"SliceFM/core/slicecomm"
	"SliceFM/logger"
)

func (s *Streamer) pricePerSecond() float64 {
	if s.meta == nil || s.meta.SliceDuration <= 0 {
		return 0
	}
	return float64(s.meta.Price) / s.meta.SliceDuration
}

func (s *Streamer) payAmount() int64 {
	if s.meta == nil || s.meta.SliceDuration <= 0 {
		return 0
	}
	return int64(math.Ceil(s.opts.PayAmountSec * float64(s.meta.Price) / s.meta.SliceDuration))
}

// payID 当前用于支付切片的 id
func (s *Streamer) payID() string {
	if len(s.payIDs) == 0 {
		return ""
	}
	return s.payIDs[0]
}

// PayIDs 按优先级返回支付 id
func (s *Streamer) PayIDs() []string {
	return append([]string(nil), s.payIDs...)
}

func (s *Streamer) addPayIDs(ids ...string) {
	for _, id := range ids {
		if id == "" || s.hasPayID(id) {
			continue
		}
		s.payIDs = append(s.payIDs, id)
	}
}

func (s *Streamer) hasPayID(id string) bool {
	for _, p := range s.payIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (s *Streamer) dropPayID(id string) {
	for i, p := range s.payIDs {
		if p == id {
			s.payIDs = append(s.payIDs[:i], s.payIDs[i+1:]...)
			return
		}
	}
}

// AddPayID 追加未知的 id 并记入 credit
func (s *Streamer) AddPayID(id string, credit int64) {
	if id == "" {
		return
	}
	if credit != 0 {
		s.balances[id] += credit
	}
	s.addPayIDs(id)
}

// setBalance 记录服务端返回的权威余额
func (s *Streamer) setBalance(payID string, remaining int64) {
	if payID != "" {
		s.balances[payID] = remaining
	}
}

// Remaining 按仍持有的支付 id 重新计算余额
func (s *Streamer) Remaining() int64 {
	var sum int64
	for id, b := range s.balances {
		if !s.hasPayID(id) {
			delete(s.balances, id)
			continue
		}
		sum += b
	}
	s.remaining = sum
	return sum
}

// CheckRequestPayment 余额不足时（prepay 时无条件）请求支付；
// 已有支付在进行或限流未放开时不请求。
func (s *Streamer) CheckRequestPayment(prepay bool) {
	if s.killed {
		return
	}
	pps := s.pricePerSecond()
	remaining := s.Remaining()

	low := float64(remaining) < pps*s.opts.LowBalanceSec
	if !(low || prepay) || s.paymentRequested || !s.mayPay() {
		return
	}
	if s.rateLimited {
		if prepay {
			s.prepayPending = true
		}
		return
	}

	s.rateLimited = true
	s.loop.AfterFunc(s.opts.PayRateLimit, s.openRateLimit)

	amount := s.payAmount()
	if amount <= 0 {
		s.PaymentFinished(true, FreePayID)
		return
	}
	s.log.Info("requesting payment",
		logger.Int64("amount", amount),
		logger.Int64("remaining", remaining),
		logger.String("stream", s.streamID))
	if s.pay == nil {
		s.log.Warn("no payment function set")
		return
	}
	if s.pay(amount, s.streamID) {
		s.paymentRequested = true
	}
}

func (s *Streamer) openRateLimit() {
	s.rateLimited = false
	if s.prepayPending && !s.killed {
		s.prepayPending = false
		s.CheckRequestPayment(true)
	}
}

// PaymentRequested 是否有支付在进行
func (s *Streamer) PaymentRequested() bool { return s.paymentRequested }

// PaymentFinished 报告一次支付结束。成功且只有一个 payID 时记入一次支付金额，
// 其他情况只追加给出的 id。等待支付的回调无论结果都会执行。
func (s *Streamer) PaymentFinished(success bool, payIDs ...string) {
	if s.killed {
		return
	}
	s.paymentRequested = false
	if success && len(payIDs) == 1 {
		s.AddPayID(payIDs[0], s.payAmount())
	} else {
		s.addPayIDs(payIDs...)
	}
	s.Remaining()
	s.settled++
	s.log.Debug("payment finished",
		logger.Bool("success", success),
		logger.Strings("payIds", payIDs),
		logger.Int64("remaining", s.remaining))
	s.firePayment()
}

// payWaiter 挂起等待下一次支付的操作；播放被停止时改为调用 cancel
type payWaiter struct {
	resume func()
	cancel func(error)
}

func (s *Streamer) waitPayment(resume func(), cancel func(error)) {
	s.onPayment = append(s.onPayment, payWaiter{resume: resume, cancel: cancel})
}

func (s *Streamer) firePayment() {
	waiters := s.onPayment
	s.onPayment = nil
	for _, w := range waiters {
		w.resume()
	}
}

// dropPending 取消所有等待支付的操作和挂起的预付，并恢复预付默认值
func (s *Streamer) dropPending(err error) {
	waiters := s.onPayment
	s.onPayment = nil
	s.prepayPending = false
	s.opts.PrepayAllowed = s.prepayDefault && !s.noPrepay
	if r := s.play; r != nil {
		s.play = nil
		r.finish(err)
	}
	for _, w := range waiters {
		if w.cancel != nil {
			w.cancel(err)
		}
	}
}

func (s *Streamer) mayPay() bool {
	return s.state == StatePlaying || s.state == StateFinishing || s.opts.PrepayAllowed
}

// rejected 丢弃被服务端拒绝的 payID，用下一个 id 重试；没有剩余 id 时等下一次支付后重试。
// 不允许请求支付时改为调用 fail。
func (s *Streamer) rejected(payID string, retry func(), fail func(error)) {
	s.dropPayID(payID)
	if len(s.payIDs) > 0 {
		s.log.Warn("payment id rejected, retrying with next", logger.String("payId", payID))
		retry()
		return
	}
	if !s.mayPay() {
		s.log.Warn("payment id rejected and prepayment disabled", logger.String("payId", payID))
		fail(slicecomm.ErrPaymentRejected)
		return
	}
	s.log.Warn("payment id rejected, waiting for payment", logger.String("payId", payID))
	s.waitPayment(retry, fail)
	s.CheckRequestPayment(true)
}
