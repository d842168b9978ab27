package bridge

import (
	"context"
	"errors"
)

// MessageType 网桥请求类型
type MessageType string

const (
	MsgPing             MessageType = "ping"
	MsgInitProvider     MessageType = "initialize_provider"
	MsgInitStream       MessageType = "initialize_stream"
	MsgStartStream      MessageType = "start_stream"
	MsgStopStream       MessageType = "stop_stream"
	MsgCloseStream      MessageType = "close_stream"
	MsgProviderChannels MessageType = "get_provider_channels"
	MsgPayStream        MessageType = "pay_stream"
	MsgPaySingle        MessageType = "pay_single"
	MsgStatus           MessageType = "status"
)

// Message 线上请求与应答共用的结构，应答回显 Type 和 ReqID
type Message struct {
	Type     MessageType `json:"type"`
	ReqID    string      `json:"reqId"`
	Accepted bool        `json:"accepted"`
	Error    string      `json:"error,omitempty"`

	Provider            string           `json:"provider,omitempty"`
	SuggestedCollateral int64            `json:"suggestedCollateral,omitempty"`
	Options             *ProviderOptions `json:"options,omitempty"`
	ProviderID          string           `json:"providerId,omitempty"`
	StreamID            string           `json:"streamId,omitempty"`
	PPM                 int64            `json:"ppm,omitempty"`
	Amount              int64            `json:"amount,omitempty"`

	State       string       `json:"state,omitempty"`
	ChannelIDs  []string     `json:"channelIds,omitempty"`
	ChannelInfo *ChannelInfo `json:"channelInfo,omitempty"`
	TxInfo      *TxInfo      `json:"txInfo,omitempty"`
	Status      *Status      `json:"status,omitempty"`
}

// Dispatch 用 b 处理一条请求并构造应答
func Dispatch(ctx context.Context, b Bridge, req *Message) *Message {
	reply := &Message{Type: req.Type, ReqID: req.ReqID}
	var err error
	switch req.Type {
	case MsgPing:
		err = b.Ping(ctx)
	case MsgInitProvider:
		opts := ProviderOptions{}
		if req.Options != nil {
			opts = *req.Options
		}
		var reg ProviderRegistration
		reg, err = b.RegisterProvider(ctx, req.Provider, req.SuggestedCollateral, opts)
		reply.ProviderID, reply.State = reg.ProviderID, reg.State
	case MsgInitStream:
		var reg StreamRegistration
		reg, err = b.RegisterStream(ctx, req.ProviderID, req.PPM)
		reply.StreamID, reply.State = reg.StreamID, reg.State
	case MsgStartStream:
		reply.State, err = b.StartStream(ctx, req.StreamID)
	case MsgStopStream:
		reply.State, err = b.StopStream(ctx, req.StreamID)
	case MsgCloseStream:
		reply.State, err = b.CloseStream(ctx, req.StreamID)
	case MsgProviderChannels:
		reply.ChannelIDs, err = b.ListChannels(ctx, req.ProviderID)
	case MsgPayStream:
		var info ChannelInfo
		info, err = b.PayStream(ctx, req.StreamID, req.Amount)
		if err == nil {
			reply.ChannelInfo = &info
		}
	case MsgPaySingle:
		var tx TxInfo
		tx, err = b.PayOnce(ctx, req.ProviderID, req.Amount)
		if err == nil {
			reply.TxInfo = &tx
		}
	case MsgStatus:
		var st Status
		st, err = b.Status(ctx, req.ProviderID, req.StreamID)
		if err == nil {
			reply.Status = &st
		}
	default:
		err = &RejectedError{Op: req.Type, Code: CodeInvalidRequest}
	}

	if err != nil {
		var re *RejectedError
		if errors.As(err, &re) {
			reply.Error = re.Code
		} else {
			reply.Error = err.Error()
		}
		return reply
	}
	reply.Accepted = true
	return reply
}
