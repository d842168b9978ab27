// Package wallet 参考支付提供方：用固定预算向账本中的通道充值，实现网桥契约
package wallet

import (
	"context"
	"strings"
	"sync"

	"SliceFM/core/bridge"
	"SliceFM/core/ledger"
	"SliceFM/logger"

	"github.com/google/uuid"
)

// 流状态
const (
	StreamRegistered = "registered"
	StreamPlaying    = "playing"
	StreamStopped    = "stopped"
	StreamClosed     = "closed"
)

// Options 钱包参数
type Options struct {
	// Budget 可用于保证金和支付的总额
	Budget int64
	// Prepay 允许向未在播放的流付款
	Prepay bool
	// MaxPPM 注册流时允许的每分钟单价上限，0 表示不限
	MaxPPM int64
}

type provider struct {
	id       string
	name     string
	payURL   string
	channels []string
}

type stream struct {
	id         string
	providerID string
	state      string
	paid       int64
}

// Wallet 并发安全
type Wallet struct {
	store ledger.Store
	opts  Options

	mu        sync.Mutex
	spent     int64
	providers map[string]*provider
	byName    map[string]*provider
	streams   map[string]*stream
}

func New(store ledger.Store, opts Options) *Wallet {
	return &Wallet{
		store:     store,
		opts:      opts,
		providers: make(map[string]*provider),
		byName:    make(map[string]*provider),
		streams:   make(map[string]*stream),
	}
}

var _ bridge.Bridge = (*Wallet)(nil)

// newID 去掉分隔符的 uuid，支付 id 只能包含单词字符
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func reject(op bridge.MessageType, code string) error {
	return &bridge.RejectedError{Op: op, Code: code}
}

// reserve 从预算中扣除 amount，调用方需持有 mu
func (w *Wallet) reserve(amount int64) bool {
	if w.spent+amount > w.opts.Budget {
		return false
	}
	w.spent += amount
	return true
}

func (w *Wallet) Ping(ctx context.Context) error { return nil }

// RegisterProvider 注册支付提供方，首次注册时按建议保证金开通一个通道
func (w *Wallet) RegisterProvider(ctx context.Context, name string, collateral int64, opts bridge.ProviderOptions) (bridge.ProviderRegistration, error) {
	if name == "" || collateral < 0 {
		return bridge.ProviderRegistration{}, reject(bridge.MsgInitProvider, bridge.CodeInvalidRequest)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.byName[name]; ok {
		return bridge.ProviderRegistration{ProviderID: p.id, State: "active"}, nil
	}
	if !w.reserve(collateral) {
		return bridge.ProviderRegistration{}, reject(bridge.MsgInitProvider, bridge.CodeInsufficientFunds)
	}
	channel := newID()
	if _, err := w.store.Deposit(ctx, channel, collateral); err != nil {
		w.spent -= collateral
		return bridge.ProviderRegistration{}, err
	}
	p := &provider{id: newID(), name: name, payURL: opts.URLPayServer, channels: []string{channel}}
	w.providers[p.id] = p
	w.byName[name] = p
	logger.Info("[Wallet] 通道已开通",
		logger.String("provider", name),
		logger.String("channel", channel),
		logger.Int64("collateral", collateral))
	return bridge.ProviderRegistration{ProviderID: p.id, State: "active"}, nil
}

// RegisterStream 注册计费流，单价上限超过钱包允许值时拒绝
func (w *Wallet) RegisterStream(ctx context.Context, providerID string, maxPPM int64) (bridge.StreamRegistration, error) {
	if maxPPM < 0 {
		return bridge.StreamRegistration{}, reject(bridge.MsgInitStream, bridge.CodeInvalidRequest)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.providers[providerID]; !ok {
		return bridge.StreamRegistration{}, reject(bridge.MsgInitStream, bridge.CodeUnknownProvider)
	}
	if w.opts.MaxPPM > 0 && maxPPM > w.opts.MaxPPM {
		logger.Warn("[Wallet] 流单价超过上限",
			logger.String("provider_id", providerID),
			logger.Int64("max_ppm", maxPPM),
			logger.Int64("limit", w.opts.MaxPPM))
		return bridge.StreamRegistration{}, reject(bridge.MsgInitStream, bridge.CodePriceTooHigh)
	}
	s := &stream{id: newID(), providerID: providerID, state: StreamRegistered}
	w.streams[s.id] = s
	return bridge.StreamRegistration{StreamID: s.id, State: s.state}, nil
}

func (w *Wallet) setStreamState(op bridge.MessageType, streamID, state string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.streams[streamID]
	if !ok {
		return "", reject(op, bridge.CodeUnknownStream)
	}
	s.state = state
	if state == StreamClosed {
		delete(w.streams, streamID)
	}
	return state, nil
}

func (w *Wallet) StartStream(ctx context.Context, streamID string) (string, error) {
	return w.setStreamState(bridge.MsgStartStream, streamID, StreamPlaying)
}

func (w *Wallet) StopStream(ctx context.Context, streamID string) (string, error) {
	return w.setStreamState(bridge.MsgStopStream, streamID, StreamStopped)
}

func (w *Wallet) CloseStream(ctx context.Context, streamID string) (string, error) {
	return w.setStreamState(bridge.MsgCloseStream, streamID, StreamClosed)
}

func (w *Wallet) ListChannels(ctx context.Context, providerID string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.providers[providerID]
	if !ok {
		return nil, reject(bridge.MsgProviderChannels, bridge.CodeUnknownProvider)
	}
	return append([]string(nil), p.channels...), nil
}

// PayStream 向流所属提供方的通道充值 amount
func (w *Wallet) PayStream(ctx context.Context, streamID string, amount int64) (bridge.ChannelInfo, error) {
	if amount <= 0 {
		return bridge.ChannelInfo{}, reject(bridge.MsgPayStream, bridge.CodeInvalidRequest)
	}
	w.mu.Lock()
	s, ok := w.streams[streamID]
	if !ok {
		w.mu.Unlock()
		return bridge.ChannelInfo{}, reject(bridge.MsgPayStream, bridge.CodeUnknownStream)
	}
	if s.state != StreamPlaying && !w.opts.Prepay {
		w.mu.Unlock()
		return bridge.ChannelInfo{}, reject(bridge.MsgPayStream, bridge.CodeStreamNotPlaying)
	}
	if !w.reserve(amount) {
		w.mu.Unlock()
		return bridge.ChannelInfo{}, reject(bridge.MsgPayStream, bridge.CodeInsufficientFunds)
	}
	p := w.providers[s.providerID]
	channel := p.channels[0]
	s.paid += amount
	w.mu.Unlock()

	balance, err := w.store.Deposit(ctx, channel, amount)
	if err != nil {
		w.mu.Lock()
		w.spent -= amount
		s.paid -= amount
		w.mu.Unlock()
		return bridge.ChannelInfo{}, err
	}
	logger.Debug("[Wallet] 流支付",
		logger.String("stream", streamID),
		logger.Int64("amount", amount),
		logger.Int64("balance", balance))
	return bridge.ChannelInfo{ChannelID: channel, ProviderID: p.id, Balance: balance}, nil
}

func (w *Wallet) PayOnce(ctx context.Context, providerID string, amount int64) (bridge.TxInfo, error) {
	if amount <= 0 {
		return bridge.TxInfo{}, reject(bridge.MsgPaySingle, bridge.CodeInvalidRequest)
	}
	w.mu.Lock()
	p, ok := w.providers[providerID]
	if !ok {
		w.mu.Unlock()
		return bridge.TxInfo{}, reject(bridge.MsgPaySingle, bridge.CodeUnknownProvider)
	}
	if !w.reserve(amount) {
		w.mu.Unlock()
		return bridge.TxInfo{}, reject(bridge.MsgPaySingle, bridge.CodeInsufficientFunds)
	}
	channel := p.channels[0]
	w.mu.Unlock()

	if _, err := w.store.Deposit(ctx, channel, amount); err != nil {
		w.mu.Lock()
		w.spent -= amount
		w.mu.Unlock()
		return bridge.TxInfo{}, err
	}
	return bridge.TxInfo{TxID: newID(), ChannelID: channel, Amount: amount}, nil
}

// Status 查询提供方状态，可附带其某个流
func (w *Wallet) Status(ctx context.Context, providerID, streamID string) (bridge.Status, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := bridge.Status{ProviderID: providerID, StreamID: streamID, Budget: w.opts.Budget - w.spent, State: "idle"}
	if providerID != "" {
		p, ok := w.providers[providerID]
		if !ok {
			return bridge.Status{}, reject(bridge.MsgStatus, bridge.CodeUnknownProvider)
		}
		st.Channels = append([]string(nil), p.channels...)
		st.State = "active"
	}
	if streamID != "" {
		s, ok := w.streams[streamID]
		if !ok {
			return bridge.Status{}, reject(bridge.MsgStatus, bridge.CodeUnknownStream)
		}
		st.State = s.state
	}
	return st, nil
}
