// Package ledger 保存支付 id 背后的余额，每个 claim id 至多扣款一次
package ledger

import (
	"context"
	"errors"
	"sync"
)

var ErrInvalidAmount = errors.New("ledger: invalid amount")

// Claim 一次扣款的结果
type Claim struct {
	Accepted  bool  `json:"accepted"`
	Remaining int64 `json:"remaining"`
}

// Store 余额存储
type Store interface {
	Balance(ctx context.Context, payID string) (int64, error)
	Deposit(ctx context.Context, payID string, amount int64) (int64, error)
	// Claim 从 payID 扣除 amount，重复的 claim id 返回第一次的结果
	Claim(ctx context.Context, claimID, payID string, amount int64) (Claim, error)
}

// Balances 批量查询余额
func Balances(ctx context.Context, s Store, payIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(payIDs))
	for _, id := range payIDs {
		b, err := s.Balance(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = b
	}
	return out, nil
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	claims   map[string]Claim
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]int64),
		claims:   make(map[string]Claim),
	}
}

func (s *MemoryStore) Balance(ctx context.Context, payID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[payID], nil
}

func (s *MemoryStore) Deposit(ctx context.Context, payID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[payID] += amount
	return s.balances[payID], nil
}

func (s *MemoryStore) Claim(ctx context.Context, claimID, payID string, amount int64) (Claim, error) {
	if amount < 0 {
		return Claim{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[claimID]; ok && claimID != "" {
		return c, nil
	}
	c := Claim{Remaining: s.balances[payID]}
	if c.Remaining >= amount {
		s.balances[payID] -= amount
		c = Claim{Accepted: true, Remaining: s.balances[payID]}
	}
	if claimID != "" {
		s.claims[claimID] = c
	}
	return c, nil
}
