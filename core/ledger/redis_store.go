package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	balancePrefix = "slicefm:balance:"
	claimPrefix   = "slicefm:claim:"
)

// claimScript 原子地检查并扣款，结果记录在 claim key 下
var claimScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[2])
if prev then
	return prev
end
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
local amount = tonumber(ARGV[1])
local res
if bal >= amount then
	bal = redis.call('DECRBY', KEYS[1], amount)
	res = '1:' .. bal
else
	res = '0:' .. bal
end
redis.call('SET', KEYS[2], res, 'EX', ARGV[2])
return res
`)

// RedisStore 余额存放在 Redis，多个端点可共享
type RedisStore struct {
	client   *redis.Client
	claimTTL time.Duration
}

func NewRedisStore(client *redis.Client, claimTTL time.Duration) *RedisStore {
	if claimTTL <= 0 {
		claimTTL = 24 * time.Hour
	}
	return &RedisStore{client: client, claimTTL: claimTTL}
}

func (s *RedisStore) Balance(ctx context.Context, payID string) (int64, error) {
	v, err := s.client.Get(ctx, balancePrefix+payID).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", payID, err)
	}
	return v, nil
}

func (s *RedisStore) Deposit(ctx context.Context, payID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	v, err := s.client.IncrBy(ctx, balancePrefix+payID, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("deposit %s: %w", payID, err)
	}
	return v, nil
}

func (s *RedisStore) Claim(ctx context.Context, claimID, payID string, amount int64) (Claim, error) {
	if amount < 0 {
		return Claim{}, ErrInvalidAmount
	}
	keys := []string{balancePrefix + payID, claimPrefix + claimID}
	res, err := claimScript.Run(ctx, s.client, keys, amount, int64(s.claimTTL/time.Second)).Text()
	if err != nil {
		return Claim{}, fmt.Errorf("claim %s: %w", payID, err)
	}
	return parseClaim(res)
}

// parseClaim 解析 claimScript 存下的 "accepted:remaining"
func parseClaim(res string) (Claim, error) {
	flag, rest, ok := strings.Cut(res, ":")
	if !ok {
		return Claim{}, fmt.Errorf("malformed claim result %q", res)
	}
	remaining, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return Claim{}, fmt.Errorf("malformed claim result %q: %w", res, err)
	}
	return Claim{Accepted: flag == "1", Remaining: remaining}, nil
}
