package redis

import (
	"context"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*IdempotencyCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIdempotencyCache(client), s
}

func testRecord(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:        key,
		Scope:      domain.ScopeDepositIntent,
		ResourceID: uuid.New(),
		UserID:     uuid.New(),
		Amount:     10000,
		Currency:   "BRL",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestIdempotencyCache_RememberAndLookup(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	rec := testRecord("order-001")

	got, err := cache.Lookup(ctx, domain.ScopeDepositIntent, rec.Key)
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Remember(ctx, rec, 24*time.Hour))

	got, err = cache.Lookup(ctx, domain.ScopeDepositIntent, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ResourceID, got.ResourceID)
	assert.Equal(t, rec.Amount, got.Amount)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestIdempotencyCache_ScopesAreSeparate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Remember(ctx, testRecord("same-key"), time.Hour))

	got, err := cache.Lookup(ctx, domain.ScopeWithdrawal, "same-key")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyCache_FirstWriterWins(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	first := testRecord("order-002")
	second := testRecord("order-002")
	require.NoError(t, cache.Remember(ctx, first, time.Hour))
	require.NoError(t, cache.Remember(ctx, second, time.Hour))

	got, err := cache.Lookup(ctx, domain.ScopeDepositIntent, "order-002")
	require.NoError(t, err)
	assert.Equal(t, first.ResourceID, got.ResourceID)
}

func TestIdempotencyCache_TTLExpiry(t *testing.T) {
	cache, s := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Remember(ctx, testRecord("order-003"), time.Second))
	s.FastForward(2 * time.Second)

	got, err := cache.Lookup(ctx, domain.ScopeDepositIntent, "order-003")
	assert.NoError(t, err)
	assert.Nil(t, got, "expired key should miss")
}

func TestIdempotencyCache_CorruptValue(t *testing.T) {
	cache, s := newTestCache(t)
	require.NoError(t, s.Set("custody:idem:deposit_intent:bad", "not-json"))

	_, err := cache.Lookup(context.Background(), domain.ScopeDepositIntent, "bad")
	assert.Error(t, err)
}
