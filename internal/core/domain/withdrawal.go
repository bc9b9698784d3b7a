package domain

import (
	"time"

	"github.com/google/uuid"

	"custody-ledger/pkg/money"
)

// WithdrawalStatus is the lifecycle state of an outbound transfer.
type WithdrawalStatus string

const (
	WithdrawalStatusRequested WithdrawalStatus = "REQUESTED"
	WithdrawalStatusApproved  WithdrawalStatus = "APPROVED"
	WithdrawalStatusRejected  WithdrawalStatus = "REJECTED"
	WithdrawalStatusPaid      WithdrawalStatus = "PAID"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalStatusRequested, WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusPaid:
		return true
	}
	return false
}

// Withdrawal is a user's request to move money out of custody.
type Withdrawal struct {
	ID                uuid.UUID        `json:"id"`
	UserID            uuid.UUID        `json:"user_id"`
	AccountID         uuid.UUID        `json:"account_id"`
	Amount            int64            `json:"amount"`
	Currency          string           `json:"currency"`
	Status            WithdrawalStatus `json:"status"`
	ApprovedAt        *time.Time       `json:"approved_at,omitempty"`
	ApprovedByUserID  *uuid.UUID       `json:"approved_by_user_id,omitempty"`
	RejectedAt        *time.Time       `json:"rejected_at,omitempty"`
	RejectedByUserID  *uuid.UUID       `json:"rejected_by_user_id,omitempty"`
	Notes             *string          `json:"notes,omitempty"`
	IdempotencyKey    string           `json:"idempotency_key"`
	ProviderPaymentID *string          `json:"provider_payment_id,omitempty"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (w *Withdrawal) Money() money.Money {
	return money.New(w.Amount, w.Currency)
}

// ApproveTransition: REQUESTED applies; APPROVED and PAID are already approved.
func (w *Withdrawal) ApproveTransition() Transition {
	switch w.Status {
	case WithdrawalStatusRequested:
		return TransitionApply
	case WithdrawalStatusApproved, WithdrawalStatusPaid:
		return TransitionNoop
	}
	return TransitionInvalid
}

func (w *Withdrawal) RejectTransition() Transition {
	switch w.Status {
	case WithdrawalStatusRequested:
		return TransitionApply
	case WithdrawalStatusRejected:
		return TransitionNoop
	}
	return TransitionInvalid
}

func (w *Withdrawal) PaidTransition() Transition {
	switch w.Status {
	case WithdrawalStatusApproved:
		return TransitionApply
	case WithdrawalStatusPaid:
		return TransitionNoop
	}
	return TransitionInvalid
}

// DefaultHoldStatuses are the withdrawal states that reserve funds not yet debited.
// APPROVED withdrawals already carry their ledger debit.
var DefaultHoldStatuses = []WithdrawalStatus{WithdrawalStatusRequested}
