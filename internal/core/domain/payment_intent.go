package domain

import (
	"time"

	"github.com/google/uuid"

	"custody-ledger/pkg/money"
)

// IntentStatus is the lifecycle state of an inbound deposit.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusConfirmed IntentStatus = "CONFIRMED"
	IntentStatusFailed    IntentStatus = "FAILED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusConfirmed || s == IntentStatusFailed || s == IntentStatusExpired
}

// PaymentIntent is the internal record of a deposit awaiting provider confirmation.
type PaymentIntent struct {
	ID                uuid.UUID    `json:"id"`
	UserID            uuid.UUID    `json:"user_id"`
	AccountID         uuid.UUID    `json:"account_id"`
	Provider          string       `json:"provider"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	Status            IntentStatus `json:"status"`
	ExternalPaymentID *string      `json:"external_payment_id,omitempty"`
	PaymentMethod     *string      `json:"payment_method,omitempty"`
	IdempotencyKey    string       `json:"idempotency_key"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	ConfirmedAt       *time.Time   `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (p *PaymentIntent) Money() money.Money {
	return money.New(p.Amount, p.Currency)
}

// IsExpiredAt reports whether a pending intent has passed its deadline.
func (p *PaymentIntent) IsExpiredAt(now time.Time) bool {
	return p.Status == IntentStatusPending && p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// ConfirmTransition classifies PENDING -> CONFIRMED against the current status.
func (p *PaymentIntent) ConfirmTransition() Transition {
	switch p.Status {
	case IntentStatusPending:
		return TransitionApply
	case IntentStatusConfirmed:
		return TransitionNoop
	}
	return TransitionInvalid
}

// FailTransition classifies PENDING -> FAILED or EXPIRED. A failure arriving on an
// intent that already failed or expired is a no-op. Only CONFIRMED refuses it.
func (p *PaymentIntent) FailTransition(to IntentStatus) Transition {
	if to != IntentStatusFailed && to != IntentStatusExpired {
		return TransitionInvalid
	}
	switch p.Status {
	case IntentStatusPending:
		return TransitionApply
	case IntentStatusFailed, IntentStatusExpired:
		return TransitionNoop
	}
	return TransitionInvalid
}
