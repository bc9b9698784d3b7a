package ports

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

import (
	"context"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
)

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenService issues and validates identity tokens. The core only reads
// {userId, roles} out of them.
type TokenService interface {
	Generate(identity domain.Identity) (string, time.Time, error)
	Validate(tokenString string) (*domain.Identity, error)
}

// IdempotencyCache is the fast path in front of the storage idempotency
// lookup. A miss or a cache error always falls through to storage.
type IdempotencyCache interface {
	Lookup(ctx context.Context, scope domain.IdempotencyScope, key string) (*domain.IdempotencyRecord, error) // nil when absent
	Remember(ctx context.Context, rec domain.IdempotencyRecord, ttl time.Duration) error
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// Metrics receives counters from the services. Implementations must be safe for concurrent use.
type Metrics interface {
	LedgerEntryAppended(entryType domain.EntryType, replayed bool)
	IntentTransitioned(to domain.IntentStatus)
	WithdrawalTransitioned(to domain.WithdrawalStatus)
	WebhookHandled(provider string, outcome domain.WebhookOutcome, elapsed time.Duration)
}

// --- Service Ports (Business Logic) ---

// LedgerService owns ledger entry creation and balance derivation.
type LedgerService interface {
	AppendEntry(ctx context.Context, req AppendEntryRequest) (*domain.LedgerEntry, error)
	ComputeBalance(ctx context.Context, accountID uuid.UUID) (money.Money, error)
	ReplayBalance(ctx context.Context, accountID uuid.UUID) (money.Money, error)
	History(ctx context.Context, accountID uuid.UUID, page, pageSize int) ([]domain.LedgerEntry, int64, error)
	BalanceFor(ctx context.Context, userID uuid.UUID, currency string) (*AccountBalance, error)
}

// AppendEntryRequest carries a magnitude; the entry type decides the sign.
type AppendEntryRequest struct {
	AccountID      uuid.UUID
	Type           domain.EntryType
	Amount         int64
	ReferenceType  domain.ReferenceType
	ReferenceID    string
	IdempotencyKey string
}

// AccountBalance is a derived balance for one account.
type AccountBalance struct {
	Account *domain.Account
	Balance money.Money
}

// AccountService maps (user, currency) to exactly one account.
type AccountService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error)
	Get(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
}

// PaymentIntentService models inbound deposits.
type PaymentIntentService interface {
	CreateDepositIntent(ctx context.Context, req CreateDepositRequest) (*domain.PaymentIntent, error)
	HandOff(ctx context.Context, intentID uuid.UUID, req HandOffRequest) (*domain.PaymentIntent, error)
	ConfirmDeposit(ctx context.Context, intentID uuid.UUID, externalPaymentID string) (bool, error)
	SyncStatus(ctx context.Context, req SyncStatusRequest) (*domain.PaymentIntent, error)
	Expire(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
	Get(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error)
}

// CreateDepositRequest holds validated input for a deposit intent.
type CreateDepositRequest struct {
	UserID         uuid.UUID
	Amount         money.Money
	Provider       string
	IdempotencyKey string
	ExpiresAt      *time.Time
}

// HandOffRequest records the provider-side payment created for an intent.
type HandOffRequest struct {
	ProviderPaymentID string
	PaymentMethod     *string
	ExpiresAt         *time.Time
}

// SyncStatusRequest carries a provider status report for one intent.
type SyncStatusRequest struct {
	IntentID             uuid.UUID
	ProviderStatus       string
	ProviderStatusDetail string
	ProviderPaymentID    string
	ProviderAmount       *money.Money
}

// WithdrawalService models outbound transfers.
type WithdrawalService interface {
	CreateWithdrawal(ctx context.Context, req CreateWithdrawalRequest) (*domain.Withdrawal, error)
	Approve(ctx context.Context, actor domain.Identity, withdrawalID uuid.UUID, notes string) (*domain.Withdrawal, error)
	Reject(ctx context.Context, actor domain.Identity, withdrawalID uuid.UUID, notes string) (*domain.Withdrawal, error)
	RecordPayout(ctx context.Context, withdrawalID uuid.UUID, req PayoutRequest) (*domain.Order, error)
	MarkPaid(ctx context.Context, withdrawalID uuid.UUID, providerPaymentID string) (bool, error)
	Get(ctx context.Context, withdrawalID uuid.UUID) (*domain.Withdrawal, error)
}

// CreateWithdrawalRequest holds validated input for a withdrawal.
type CreateWithdrawalRequest struct {
	UserID         uuid.UUID
	Amount         money.Money
	IdempotencyKey string
	Notes          string
}

// PayoutRequest records the provider-side transfer of an approved withdrawal.
type PayoutRequest struct {
	Provider          string
	ProviderPaymentID string
	PaymentMethod     *string
}

// OrderService keeps the provider mirror. Status never moves down in priority.
type OrderService interface {
	CreateOrUpdate(ctx context.Context, req UpsertOrderRequest) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, detail string) (*OrderUpdate, error)
	UpdateStatusByProviderID(ctx context.Context, provider, providerPaymentID string, status domain.OrderStatus, detail string) (*OrderUpdate, error)
}

// UpsertOrderRequest is keyed by ExternalOrderID.
type UpsertOrderRequest struct {
	ExternalOrderID       string
	Kind                  domain.OrderKind
	Amount                int64
	Currency              string
	Provider              string
	ProviderPaymentID     *int64
	ProviderPaymentIDText *string
	Status                domain.OrderStatus
	StatusDetail          *string
	PaymentMethod         *string
	ExpiresAt             *time.Time
}

// OrderUpdate reports what a status update did.
type OrderUpdate struct {
	Order    *domain.Order
	Previous domain.OrderStatus
	Outcome  domain.StatusOutcome
}

// ReconcilerService is the single webhook ingestion point.
type ReconcilerService interface {
	HandleWebhook(ctx context.Context, in WebhookInput) (*WebhookResult, error)
}

// WebhookInput is the raw notification as received.
type WebhookInput struct {
	Provider string
	Payload  []byte
	Headers  string // flattened "key:value;key:value"
	ReadErr  error  // set when the body could not be read in full
}

// WebhookResult describes the effect of one notification.
type WebhookResult struct {
	EventID uuid.UUID
	Outcome domain.WebhookOutcome
	Order   *domain.Order
}
