package payserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"SliceFM/core/auth"
	"SliceFM/core/ledger"

	"github.com/google/uuid"
)

const tokenTTL = 5 * time.Minute

// Client 代表流端点调用 payserver
type Client struct {
	url        string
	provider   string
	secret     []byte
	httpClient *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewClient 创建支付服务客户端
func NewClient(url, provider string, secret []byte, timeout time.Duration) *Client {
	return &Client{
		url:        url,
		provider:   provider,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// bearer 返回缓存的令牌，临近过期时续签
func (c *Client) bearer() (string, error) {
	if len(c.secret) == 0 {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.expires) > tokenTTL/5 {
		return c.token, nil
	}
	token, err := auth.GenerateToken(c.secret, c.provider, tokenTTL)
	if err != nil {
		return "", err
	}
	c.token, c.expires = token, time.Now().Add(tokenTTL)
	return token, nil
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("payserver %s: %w", req.Action, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payserver %s: status %d", req.Action, res.StatusCode)
	}
	var resp Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("payserver %s: decode: %w", req.Action, err)
	}
	return &resp, nil
}

// ClaimDeposit 从 payID 扣除 amount，每次调用使用新的 claim id
func (c *Client) ClaimDeposit(ctx context.Context, payID string, amount int64) (ledger.Claim, error) {
	resp, err := c.do(ctx, Request{
		Action:  ActionClaimDeposit,
		PayID:   PayIDs{payID},
		Amount:  amount,
		ClaimID: uuid.NewString(),
	})
	if err != nil {
		return ledger.Claim{}, err
	}
	if resp.Error != "" {
		return ledger.Claim{}, fmt.Errorf("%w: %s", ErrNotAccepted, resp.Error)
	}
	return ledger.Claim{Accepted: resp.Accepted, Remaining: resp.Available}, nil
}

// WebBalance 返回 payIDs 的余额之和
func (c *Client) WebBalance(ctx context.Context, payIDs ...string) (int64, error) {
	resp, err := c.do(ctx, Request{Action: ActionGetWebBalance, PayID: payIDs})
	if err != nil {
		return 0, err
	}
	if !resp.Accepted {
		return 0, ErrNotAccepted
	}
	var total int64
	for _, b := range resp.Balances {
		total += b
	}
	return total, nil
}

// Deposit 为 payID 充值并返回新余额
func (c *Client) Deposit(ctx context.Context, payID string, amount int64) (int64, error) {
	resp, err := c.do(ctx, Request{Action: ActionDeposit, PayID: PayIDs{payID}, Amount: amount})
	if err != nil {
		return 0, err
	}
	if !resp.Accepted {
		return 0, fmt.Errorf("%w: %s", ErrNotAccepted, resp.Error)
	}
	return resp.Available, nil
}
