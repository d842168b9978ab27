// Package bridge 定义与支付/通道提供方之间的客户端契约
package bridge

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoResponse 请求超时或网桥完全不可达
var ErrNoResponse = errors.New("bridge: no response")

// 网桥未及时应答时使用的替代标识
const (
	DummyProvider = "DUMMY_ROSI_NOT_ACTIVE"
	DummyChannel  = "DUMMY_CHANNEL_ROSI_NOT_FOUND"
	DummyStream   = "DUMMYSTREAMID_ROSI_NOT_FOUND"
)

// 提供方返回的拒绝码
const (
	CodeStreamNotPlaying  = "STREAM_NOT_PLAYING"
	CodeUnknownProvider   = "UNKNOWN_PROVIDER"
	CodeUnknownStream     = "UNKNOWN_STREAM"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodePriceTooHigh      = "PRICE_TOO_HIGH"
	CodeInvalidRequest    = "INVALID_REQUEST"
)

// RejectedError 提供方已应答但拒绝了请求
type RejectedError struct {
	Op   MessageType
	Code string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("bridge: %s rejected: %s", e.Op, e.Code)
}

// Rejected 判断 err 是否为指定拒绝码
func Rejected(err error, code string) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Code == code
}

// ProviderOptions 注册提供方时的附加参数
type ProviderOptions struct {
	URLPayServer string `json:"urlPayserv,omitempty"`
}

type ProviderRegistration struct {
	ProviderID string `json:"providerId"`
	State      string `json:"state"`
}

type StreamRegistration struct {
	StreamID string `json:"streamId"`
	State    string `json:"state"`
}

// ChannelInfo 流支付存入的通道
type ChannelInfo struct {
	ChannelID  string `json:"channelId"`
	ProviderID string `json:"providerId,omitempty"`
	Balance    int64  `json:"balance"`
}

// TxInfo 单次支付结果
type TxInfo struct {
	TxID      string `json:"txId"`
	ChannelID string `json:"channelId"`
	Amount    int64  `json:"amount"`
}

type Status struct {
	ProviderID string   `json:"providerId,omitempty"`
	StreamID   string   `json:"streamId,omitempty"`
	State      string   `json:"state"`
	Channels   []string `json:"channels,omitempty"`
	Budget     int64    `json:"budget"`
}

// Bridge 与支付提供方的请求/应答契约。
// 提供方在超时前未应答时，每个调用都返回（可能被包装的）ErrNoResponse。
type Bridge interface {
	Ping(ctx context.Context) error
	RegisterProvider(ctx context.Context, provider string, suggestedCollateral int64, opts ProviderOptions) (ProviderRegistration, error)
	RegisterStream(ctx context.Context, providerID string, maxPricePerMinute int64) (StreamRegistration, error)
	StartStream(ctx context.Context, streamID string) (string, error)
	StopStream(ctx context.Context, streamID string) (string, error)
	CloseStream(ctx context.Context, streamID string) (string, error)
	ListChannels(ctx context.Context, providerID string) ([]string, error)
	PayStream(ctx context.Context, streamID string, amount int64) (ChannelInfo, error)
	PayOnce(ctx context.Context, providerID string, amount int64) (TxInfo, error)
	Status(ctx context.Context, providerID, streamID string) (Status, error)
}

// Absent 没有支付提供方时使用的 Bridge，所有调用都返回 ErrNoResponse，调用方走降级路径
type Absent struct{}

func (Absent) Ping(context.Context) error { return ErrNoResponse }
func (Absent) RegisterProvider(context.Context, string, int64, ProviderOptions) (ProviderRegistration, error) {
	return ProviderRegistration{}, ErrNoResponse
}
func (Absent) RegisterStream(context.Context, string, int64) (StreamRegistration, error) {
	return StreamRegistration{}, ErrNoResponse
}
func (Absent) StartStream(context.Context, string) (string, error)    { return "", ErrNoResponse }
func (Absent) StopStream(context.Context, string) (string, error)     { return "", ErrNoResponse }
func (Absent) CloseStream(context.Context, string) (string, error)    { return "", ErrNoResponse }
func (Absent) ListChannels(context.Context, string) ([]string, error) { return nil, ErrNoResponse }
func (Absent) PayStream(context.Context, string, int64) (ChannelInfo, error) {
	return ChannelInfo{}, ErrNoResponse
}
func (Absent) PayOnce(context.Context, string, int64) (TxInfo, error) { return TxInfo{}, ErrNoResponse }
func (Absent) Status(context.Context, string, string) (Status, error) { return Status{}, ErrNoResponse }
