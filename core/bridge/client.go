package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SliceFM/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// PingTimeout 心跳请求超时
	PingTimeout = 2 * time.Second
	// FirstTimeout 网桥首次应答前的请求超时
	FirstTimeout = 250 * time.Millisecond

	writeWait      = 5 * time.Second
	maxMessageSize = 64 * 1024
)

// Client 通过 websocket 与网桥通信，按需拨号、断线后重拨，请求按 reqId 对应应答
type Client struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	log     *logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan *Message

	writeMu sync.Mutex
	found   atomic.Bool
}

// NewClient 创建连接 url 的客户端；timeout 是网桥应答过一次之后使用的超时
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: 2 * time.Second},
		log:     logger.Named("bridge"),
		pending: make(map[string]chan *Message),
	}
}

// Found 网桥是否至少应答过一次
func (c *Client) Found() bool { return c.found.Load() }

func (c *Client) watchdog(t MessageType) time.Duration {
	if t == MsgPing {
		return PingTimeout
	}
	if !c.found.Load() {
		return FirstTimeout
	}
	return c.timeout
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)
	c.conn = conn
	go c.readLoop(conn)
	c.log.Info("bridge connected", logger.String("url", c.url))
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.drop(conn)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("bridge connection lost", logger.ErrorField(err))
			}
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ReqID]
		delete(c.pending, msg.ReqID)
		c.mu.Unlock()
		if !ok {
			c.log.Debug("unmatched bridge reply", logger.String("type", string(msg.Type)), logger.String("reqId", msg.ReqID))
			continue
		}
		ch <- &msg
	}
}

// drop 丢弃 conn 并让所有仍在等待的请求失败
func (c *Client) drop(conn *websocket.Conn) {
	conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.conn = nil
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

// Close 关闭当前连接
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.drop(conn)
	return nil
}

func (c *Client) request(ctx context.Context, req *Message) (*Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.watchdog(req.Type))
	defer cancel()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoResponse, req.Type, err)
	}

	req.ReqID = uuid.NewString()
	ch := make(chan *Message, 1)
	c.mu.Lock()
	c.pending[req.ReqID] = ch
	c.mu.Unlock()
	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ReqID)
		c.mu.Unlock()
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		forget()
		go c.drop(conn)
		return nil, fmt.Errorf("%w: %s: %v", ErrNoResponse, req.Type, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %s: connection closed", ErrNoResponse, req.Type)
		}
		c.found.Store(true)
		if !reply.Accepted {
			return reply, &RejectedError{Op: req.Type, Code: reply.Error}
		}
		return reply, nil
	case <-ctx.Done():
		forget()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Debug("bridge watchdog elapsed", logger.String("type", string(req.Type)))
			return nil, fmt.Errorf("%w: %s", ErrNoResponse, req.Type)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, &Message{Type: MsgPing})
	return err
}

func (c *Client) RegisterProvider(ctx context.Context, provider string, suggestedCollateral int64, opts ProviderOptions) (ProviderRegistration, error) {
	reply, err := c.request(ctx, &Message{
		Type:                MsgInitProvider,
		Provider:            provider,
		SuggestedCollateral: suggestedCollateral,
		Options:             &opts,
	})
	if err != nil {
		return ProviderRegistration{}, err
	}
	return ProviderRegistration{ProviderID: reply.ProviderID, State: reply.State}, nil
}

func (c *Client) RegisterStream(ctx context.Context, providerID string, maxPricePerMinute int64) (StreamRegistration, error) {
	reply, err := c.request(ctx, &Message{Type: MsgInitStream, ProviderID: providerID, PPM: maxPricePerMinute})
	if err != nil {
		return StreamRegistration{}, err
	}
	return StreamRegistration{StreamID: reply.StreamID, State: reply.State}, nil
}

func (c *Client) streamOp(ctx context.Context, t MessageType, streamID string) (string, error) {
	reply, err := c.request(ctx, &Message{Type: t, StreamID: streamID})
	if err != nil {
		return "", err
	}
	return reply.State, nil
}

func (c *Client) StartStream(ctx context.Context, streamID string) (string, error) {
	return c.streamOp(ctx, MsgStartStream, streamID)
}

func (c *Client) StopStream(ctx context.Context, streamID string) (string, error) {
	return c.streamOp(ctx, MsgStopStream, streamID)
}

func (c *Client) CloseStream(ctx context.Context, streamID string) (string, error) {
	return c.streamOp(ctx, MsgCloseStream, streamID)
}

func (c *Client) ListChannels(ctx context.Context, providerID string) ([]string, error) {
	reply, err := c.request(ctx, &Message{Type: MsgProviderChannels, ProviderID: providerID})
	if err != nil {
		return nil, err
	}
	return reply.ChannelIDs, nil
}

func (c *Client) PayStream(ctx context.Context, streamID string, amount int64) (ChannelInfo, error) {
	reply, err := c.request(ctx, &Message{Type: MsgPayStream, StreamID: streamID, Amount: amount})
	if err != nil {
		return ChannelInfo{}, err
	}
	if reply.ChannelInfo == nil {
		return ChannelInfo{}, fmt.Errorf("bridge: pay_stream reply without channel info")
	}
	return *reply.ChannelInfo, nil
}

func (c *Client) PayOnce(ctx context.Context, providerID string, amount int64) (TxInfo, error) {
	reply, err := c.request(ctx, &Message{Type: MsgPaySingle, ProviderID: providerID, Amount: amount})
	if err != nil {
		return TxInfo{}, err
	}
	if reply.TxInfo == nil {
		return TxInfo{}, fmt.Errorf("bridge: pay_single reply without tx info")
	}
	return *reply.TxInfo, nil
}

func (c *Client) Status(ctx context.Context, providerID, streamID string) (Status, error) {
	reply, err := c.request(ctx, &Message{Type: MsgStatus, ProviderID: providerID, StreamID: streamID})
	if err != nil {
		return Status{}, err
	}
	if reply.Status == nil {
		return Status{State: reply.State}, nil
	}
	return *reply.Status, nil
}

var (
	_ Bridge = (*Client)(nil)
	_ Bridge = Absent{}
)
