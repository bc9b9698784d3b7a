package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the provider-side lifecycle mirrored locally.
type OrderStatus string

const (
	OrderStatusCreated  OrderStatus = "created"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
)

// Priority orders statuses: created < pending < {approved, rejected}.
func (s OrderStatus) Priority() int {
	switch s {
	case OrderStatusCreated:
		return 0
	case OrderStatusPending:
		return 1
	case OrderStatusApproved, OrderStatusRejected:
		return 2
	}
	return -1
}

func (s OrderStatus) Valid() bool { return s.Priority() >= 0 }

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusApproved || s == OrderStatusRejected
}

// OrderKind says which internal record an order mirrors.
type OrderKind string

const (
	OrderKindDeposit    OrderKind = "deposit"
	OrderKindWithdrawal OrderKind = "withdrawal"
)

// Order mirrors one external payment. ExternalOrderID carries the id of the
// payment intent or withdrawal it belongs to.
type Order struct {
	ID                    uuid.UUID   `json:"id"`
	ExternalOrderID       string      `json:"external_order_id"`
	Kind                  OrderKind   `json:"kind"`
	Amount                int64       `json:"amount"`
	Currency              string      `json:"currency"`
	Provider              string      `json:"provider"`
	ProviderPaymentID     *int64      `json:"provider_payment_id,omitempty"`
	ProviderPaymentIDText *string     `json:"provider_payment_id_text,omitempty"`
	Status                OrderStatus `json:"status"`
	StatusDetail          *string     `json:"status_detail,omitempty"`
	Credited              bool        `json:"credited"`
	PaymentMethod         *string     `json:"payment_method,omitempty"`
	ExpiresAt             *time.Time  `json:"expires_at,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// StatusOutcome is the result of applying a status update to an order.
type StatusOutcome string

const (
	StatusApplied    StatusOutcome = "applied"
	StatusDetailOnly StatusOutcome = "detail_only"
	StatusIgnored    StatusOutcome = "ignored"
)

// EvaluateStatusUpdate applies the priority rule. A terminal status is never left,
// the same status only refreshes the detail, and lower priorities are ignored.
func EvaluateStatusUpdate(current, next OrderStatus) StatusOutcome {
	switch {
	case next == current:
		return StatusDetailOnly
	case current.IsTerminal():
		return StatusIgnored
	case next.Priority() < current.Priority():
		return StatusIgnored
	}
	return StatusApplied
}

// MapProviderStatus translates provider vocabulary. ok is false for unknown values.
func MapProviderStatus(providerStatus string) (status OrderStatus, ok bool) {
	switch normalizeProviderStatus(providerStatus) {
	case "approved", "paid":
		return OrderStatusApproved, true
	case "rejected", "cancelled", "canceled", "refused", "expired":
		return OrderStatusRejected, true
	case "pending", "in_process":
		return OrderStatusPending, true
	}
	return "", false
}

// IntentTarget maps provider vocabulary to the payment intent status it implies.
// ok is false when the status implies no intent transition.
func IntentTarget(providerStatus string) (status IntentStatus, ok bool) {
	mapped, known := MapProviderStatus(providerStatus)
	if !known {
		return "", false
	}
	switch mapped {
	case OrderStatusApproved:
		return IntentStatusConfirmed, true
	case OrderStatusRejected:
		if normalizeProviderStatus(providerStatus) == "expired" {
			return IntentStatusExpired, true
		}
		return IntentStatusFailed, true
	}
	return "", false
}

func normalizeProviderStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
