package domain

import (
	"time"

	"github.com/google/uuid"
)

const MaxIdempotencyKeyLength = 128

// IdempotencyScope separates caller keys per operation.
type IdempotencyScope string

const (
	ScopeDepositIntent IdempotencyScope = "deposit_intent"
	ScopeWithdrawal    IdempotencyScope = "withdrawal"
)

// IdempotencyRecord is a cached pointer from a caller key to the record it created.
// The storage uniqueness constraint stays authoritative; the cache is a fast path.
type IdempotencyRecord struct {
	Key        string           `json:"key"`
	Scope      IdempotencyScope `json:"scope"`
	ResourceID uuid.UUID        `json:"resource_id"`
	UserID     uuid.UUID        `json:"user_id"`
	Amount     int64            `json:"amount"`
	Currency   string           `json:"currency"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ValidIdempotencyKey accepts 1..128 printable ASCII characters.
func ValidIdempotencyKey(key string) bool {
	if len(key) == 0 || len(key) > MaxIdempotencyKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return false
		}
	}
	return true
}

// DepositEntryKey is the ledger idempotency key of an intent's DEPOSIT entry.
func DepositEntryKey(intentID uuid.UUID) string {
	return "deposit:" + intentID.String()
}

// WithdrawalEntryKey is the ledger idempotency key of a withdrawal's debit.
func WithdrawalEntryKey(withdrawalID uuid.UUID) string {
	return "withdrawal:" + withdrawalID.String()
}

// CacheKey namespaces a caller key by scope.
func CacheKey(scope IdempotencyScope, key string) string {
	return string(scope) + ":" + key
}
