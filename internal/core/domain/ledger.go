package domain

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// EntryType is the kind of ledger movement. It determines the sign of the amount.
type EntryType string

const (
	EntryTypeDeposit    EntryType = "DEPOSIT"
	EntryTypeWithdrawal EntryType = "WITHDRAWAL"
	EntryTypeTradeBuy   EntryType = "TRADE_BUY"
	EntryTypeTradeSell  EntryType = "TRADE_SELL"
	EntryTypeFee        EntryType = "FEE"
	EntryTypeAdjustment EntryType = "ADJUSTMENT"
)

// ReferenceType names the record a ledger entry was produced for.
type ReferenceType string

const (
	ReferencePaymentIntent ReferenceType = "payment_intent"
	ReferenceWithdrawal    ReferenceType = "withdrawal"
	ReferenceTrade         ReferenceType = "trade"
	ReferenceManual        ReferenceType = "manual"
)

var (
	ErrUnknownEntryType = errors.New("unknown ledger entry type")
	ErrNonPositive      = errors.New("amount must be positive")
	ErrZeroAdjustment   = errors.New("adjustment amount must be non-zero")
	ErrBalanceOverflow  = errors.New("balance overflows int64")
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeDeposit, EntryTypeWithdrawal, EntryTypeTradeBuy,
		EntryTypeTradeSell, EntryTypeFee, EntryTypeAdjustment:
		return true
	}
	return false
}

// IsCredit reports whether entries of this type increase the balance.
func (t EntryType) IsCredit() bool {
	return t == EntryTypeDeposit || t == EntryTypeTradeSell
}

// IsDebit reports whether entries of this type decrease the balance.
func (t EntryType) IsDebit() bool {
	return t == EntryTypeWithdrawal || t == EntryTypeTradeBuy || t == EntryTypeFee
}

// SignedAmount applies the sign implied by t to amount.
// Credits and debits take a positive magnitude. ADJUSTMENT keeps the caller's sign.
func SignedAmount(t EntryType, amount int64) (int64, error) {
	switch {
	case !t.Valid():
		return 0, ErrUnknownEntryType
	case t == EntryTypeAdjustment:
		if amount == 0 {
			return 0, ErrZeroAdjustment
		}
		return amount, nil
	case amount <= 0:
		return 0, ErrNonPositive
	case t.IsDebit():
		return -amount, nil
	}
	return amount, nil
}

// LedgerEntry is an immutable signed movement on one account.
type LedgerEntry struct {
	ID             uuid.UUID     `json:"id"`
	AccountID      uuid.UUID     `json:"account_id"`
	Type           EntryType     `json:"type"`
	Amount         int64         `json:"amount"` // signed, minor units
	ReferenceType  ReferenceType `json:"reference_type"`
	ReferenceID    string        `json:"reference_id"`
	IdempotencyKey *string       `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ReplayBalance folds entries from an empty state. The result does not depend on order.
func ReplayBalance(entries []LedgerEntry) (int64, error) {
	var balance int64
	for _, e := range entries {
		if (e.Amount > 0 && balance > math.MaxInt64-e.Amount) ||
			(e.Amount < 0 && balance < math.MinInt64-e.Amount) {
			return 0, ErrBalanceOverflow
		}
		balance += e.Amount
	}
	return balance, nil
}
