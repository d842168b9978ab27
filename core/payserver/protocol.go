// Package payserver 流端点为切片扣款所用的账本服务及其 HTTP 客户端
package payserver

import (
	"encoding/json"
	"errors"
)

// 支付服务动作
const (
	ActionClaimDeposit  = "claimDeposit"
	ActionGetWebBalance = "getWebBalance"
	ActionDeposit       = "deposit"
)

const (
	ErrCodeRequest      = "REQUEST_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotAccepted  = "REQUEST_NOT_ACCEPTED"
)

var ErrNotAccepted = errors.New("payserver: request not accepted")

// PayIDs 可解码单个支付 id 或其数组
type PayIDs []string

func (p *PayIDs) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*p = PayIDs{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*p = many
	return nil
}

// Request 支付服务请求体
type Request struct {
	Action  string `json:"action"`
	PayID   PayIDs `json:"payID"`
	Amount  int64  `json:"amount,omitempty"`
	ClaimID string `json:"claimId,omitempty"`
}

// Response 支付服务响应体
type Response struct {
	Accepted  bool    `json:"accepted"`
	Error     string  `json:"error,omitempty"`
	Available int64   `json:"available"`
	Balances  []int64 `json:"balances,omitempty"`
}
