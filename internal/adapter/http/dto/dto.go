package dto

import "time"

// CreateDepositRequest is the request body for opening a deposit intent.
// Amount is a decimal string in major units, e.g. "100.00". An empty
// Currency means the ledger default.
type CreateDepositRequest struct {
	Amount         string     `json:"amount" binding:"required,max=32"`
	Currency       string     `json:"currency" binding:"omitempty,currency_code"`
	Provider       string     `json:"provider" binding:"required,max=32,safe_id"`
	IdempotencyKey string     `json:"idempotency_key" binding:"required,idem_key"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// HandOffRequest records the provider payment created for an intent.
type HandOffRequest struct {
	ProviderPaymentID string     `json:"provider_payment_id" binding:"required,max=128,safe_id"`
	PaymentMethod     *string    `json:"payment_method,omitempty" binding:"omitempty,max=64"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}

// CreateWithdrawalRequest is the request body for a withdrawal.
type CreateWithdrawalRequest struct {
	Amount         string `json:"amount" binding:"required,max=32"`
	Currency       string `json:"currency" binding:"omitempty,currency_code"`
	IdempotencyKey string `json:"idempotency_key" binding:"required,idem_key"`
	Notes          string `json:"notes,omitempty" binding:"max=500"`
}

// DecisionRequest carries the optional notes of an approve or reject.
type DecisionRequest struct {
	Notes string `json:"notes,omitempty" binding:"max=500"`
}

// PayoutRequest records the provider transfer of an approved withdrawal.
type PayoutRequest struct {
	Provider          string  `json:"provider" binding:"required,max=32,safe_id"`
	ProviderPaymentID string  `json:"provider_payment_id" binding:"required,max=128,safe_id"`
	PaymentMethod     *string `json:"payment_method,omitempty" binding:"omitempty,max=64"`
}

// PageQuery binds ?page=&page_size= on list endpoints.
type PageQuery struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// DepositIntentResponse is the response body for a deposit intent.
type DepositIntentResponse struct {
	ID                string  `json:"id"`
	AccountID         string  `json:"account_id"`
	Amount            string  `json:"amount"`
	AmountMinor       int64   `json:"amount_minor"`
	Currency          string  `json:"currency"`
	Provider          string  `json:"provider"`
	Status            string  `json:"status"`
	ExternalPaymentID *string `json:"external_payment_id,omitempty"`
	PaymentMethod     *string `json:"payment_method,omitempty"`
	ExpiresAt         *string `json:"expires_at,omitempty"`
	ConfirmedAt       *string `json:"confirmed_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// WithdrawalResponse is the response body for a withdrawal.
type WithdrawalResponse struct {
	ID                string  `json:"id"`
	AccountID         string  `json:"account_id"`
	Amount            string  `json:"amount"`
	AmountMinor       int64   `json:"amount_minor"`
	Currency          string  `json:"currency"`
	Status            string  `json:"status"`
	Notes             *string `json:"notes,omitempty"`
	ProviderPaymentID *string `json:"provider_payment_id,omitempty"`
	ApprovedBy        *string `json:"approved_by,omitempty"`
	RejectedBy        *string `json:"rejected_by,omitempty"`
	CreatedAt         string  `json:"created_at"`
	DecidedAt         *string `json:"decided_at,omitempty"`
	PaidAt            *string `json:"paid_at,omitempty"`
}

// OrderResponse is the provider mirror of a deposit or payout.
type OrderResponse struct {
	ID                string  `json:"id"`
	ExternalOrderID   string  `json:"external_order_id"`
	Kind              string  `json:"kind"`
	Provider          string  `json:"provider"`
	ProviderPaymentID *string `json:"provider_payment_id,omitempty"`
	Status            string  `json:"status"`
	StatusDetail      *string `json:"status_detail,omitempty"`
	Credited          bool    `json:"credited"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	AccountID    *string `json:"account_id"`
	Currency     string  `json:"currency"`
	Balance      string  `json:"balance"`
	BalanceMinor int64   `json:"balance_minor"`
}

// LedgerEntryResponse is one ledger movement.
type LedgerEntryResponse struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	AmountMinor   int64  `json:"amount_minor"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
	CreatedAt     string `json:"created_at"`
}

// LedgerEntryListResponse wraps a page of ledger entries.
type LedgerEntryListResponse struct {
	Items      []LedgerEntryResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// WebhookAckResponse acknowledges a provider notification.
type WebhookAckResponse struct {
	EventID     string  `json:"event_id"`
	Outcome     string  `json:"outcome"`
	OrderID     *string `json:"order_id,omitempty"`
	OrderStatus *string `json:"order_status,omitempty"`
}
