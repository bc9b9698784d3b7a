package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custody-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// IdempotencyCache implements ports.IdempotencyCache. Entries point a caller
// key at the intent or withdrawal it created; storage remains authoritative.
type IdempotencyCache struct {
	client goredis.UniversalClient
	prefix string
}

func NewIdempotencyCache(client goredis.UniversalClient) *IdempotencyCache {
	return &IdempotencyCache{
		client: client,
		prefix: "custody:idem:",
	}
}

// Lookup returns nil, nil on a miss.
func (c *IdempotencyCache) Lookup(ctx context.Context, scope domain.IdempotencyScope, key string) (*domain.IdempotencyRecord, error) {
	raw, err := c.client.Get(ctx, c.prefix+domain.CacheKey(scope, key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}

	var rec domain.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis idempotency decode: %w", err)
	}
	return &rec, nil
}

// Remember stores rec unless the key is already cached. The first writer wins.
func (c *IdempotencyCache) Remember(ctx context.Context, rec domain.IdempotencyRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis idempotency encode: %w", err)
	}
	if err := c.client.SetNX(ctx, c.prefix+domain.CacheKey(rec.Scope, rec.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
