package ledger

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryClaim(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Deposit(ctx, "ch1", 10); err != nil {
		t.Fatal(err)
	}

	c, err := s.Claim(ctx, "c1", "ch1", 4)
	if err != nil || !c.Accepted || c.Remaining != 6 {
		t.Fatalf("first claim = %+v, %v", c, err)
	}
	c, _ = s.Claim(ctx, "c1", "ch1", 4)
	if !c.Accepted || c.Remaining != 6 {
		t.Fatalf("repeated claim = %+v", c)
	}
	c, _ = s.Claim(ctx, "c2", "ch1", 7)
	if c.Accepted || c.Remaining != 6 {
		t.Fatalf("overdraw = %+v", c)
	}
	if b, _ := s.Balance(ctx, "ch1"); b != 6 {
		t.Fatalf("balance = %d", b)
	}
	if _, err := s.Deposit(ctx, "ch1", -1); err != ErrInvalidAmount {
		t.Fatalf("negative deposit = %v", err)
	}
}

func TestMemoryClaimConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Deposit(ctx, "ch1", 50)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := s.Claim(ctx, "", "ch1", 1)
			if err != nil {
				t.Error(err)
				return
			}
			if c.Accepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if accepted != 50 {
		t.Fatalf("accepted = %d, want 50", accepted)
	}
}

func TestBalances(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Deposit(ctx, "a", 3)
	got, err := Balances(ctx, s, []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if got["a"] != 3 || got["b"] != 0 {
		t.Fatalf("balances = %v", got)
	}
}

func TestParseClaim(t *testing.T) {
	tests := []struct {
		in      string
		want    Claim
		wantErr bool
	}{
		{"1:42", Claim{Accepted: true, Remaining: 42}, false},
		{"0:3", Claim{Remaining: 3}, false},
		{"garbage", Claim{}, true},
		{"1:x", Claim{}, true},
	}
	for _, tt := range tests {
		got, err := parseClaim(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseClaim(%q) = %+v, %v", tt.in, got, err)
		}
	}
}
