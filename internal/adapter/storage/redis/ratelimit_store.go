package redis

import (
	"context"
	"fmt"
	"time"

	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/clock"

	goredis "github.com/redis/go-redis/v9"
)

// RateLimitStore implements ports.RateLimiter with fixed-window counters.
type RateLimitStore struct {
	client goredis.UniversalClient
	clock  clock.Clock
	prefix string
}

func NewRateLimitStore(client goredis.UniversalClient, clk clock.Clock) *RateLimitStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RateLimitStore{
		client: client,
		clock:  clk,
		prefix: "custody:ratelimit:",
	}
}

// Allow increments the counter of the window containing now. The key carries
// the window id, so refreshing its expiry on every hit is harmless.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	windowID := s.clock.Now().Unix() / seconds
	redisKey := fmt.Sprintf("%s%s:%d", s.prefix, key, windowID)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, time.Duration(seconds)*time.Second+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis rate limit incr: %w", err)
	}
	count := incr.Val()

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &ports.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * seconds,
	}, nil
}
