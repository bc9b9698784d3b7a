package ports

import (
	"context"
	"errors"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// ErrConflict is returned by repositories when an insert lost a uniqueness race
// and the winning row could not be read back.
var ErrConflict = errors.New("unresolved uniqueness conflict")

// Lookups return (nil, nil) when the row does not exist.

// AccountRepository persists (user, currency) accounts.
type AccountRepository interface {
	// GetOrCreate inserts account unless (user, currency) exists, and returns the stored row.
	GetOrCreate(ctx context.Context, account *domain.Account) (*domain.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error)
	// LockForUpdate serializes balance-sensitive writes on the account until the unit of work ends.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error)
}

// LedgerRepository is append-only. There is no update or delete.
type LedgerRepository interface {
	// Insert writes entry. When its idempotency key already exists the stored
	// entry is returned with created=false.
	Insert(ctx context.Context, entry *domain.LedgerEntry) (stored *domain.LedgerEntry, created bool, err error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error)
	SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error)
	// ListByAccount pages entries newest first and returns the total count.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int64, error)
	// AllByAccount returns every entry in creation order.
	AllByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error)
}

// PaymentIntentRepository persists deposit intents. Status writes only leave PENDING.
type PaymentIntentRepository interface {
	Insert(ctx context.Context, intent *domain.PaymentIntent) (stored *domain.PaymentIntent, created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentIntent, error)
	// RecordHandOff stores the provider reference on a PENDING intent.
	RecordHandOff(ctx context.Context, id uuid.UUID, externalPaymentID string, paymentMethod *string, expiresAt *time.Time, at time.Time) (bool, error)
	// Transition moves a PENDING intent to a terminal status. It reports false
	// when the intent was no longer PENDING.
	Transition(ctx context.Context, id uuid.UUID, to domain.IntentStatus, externalPaymentID *string, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.PaymentIntent, error)
}

// WithdrawalRepository persists withdrawals. Decisions are conditional on the current status.
type WithdrawalRepository interface {
	Insert(ctx context.Context, w *domain.Withdrawal) (stored *domain.Withdrawal, created bool, err error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Withdrawal, error)
	// SumByStatus totals amounts of the account's withdrawals in any of statuses.
	SumByStatus(ctx context.Context, accountID uuid.UUID, statuses []domain.WithdrawalStatus) (int64, error)
	// Decide moves a REQUESTED withdrawal to APPROVED or REJECTED and records the actor.
	Decide(ctx context.Context, id uuid.UUID, to domain.WithdrawalStatus, actor uuid.UUID, notes *string, at time.Time) (bool, error)
	SetProviderPaymentID(ctx context.Context, id uuid.UUID, providerPaymentID string) error
	// MarkPaid moves an APPROVED withdrawal to PAID.
	MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID *string, at time.Time) (bool, error)
}

// OrderRepository persists provider mirrors. externalOrderId and providerPaymentId
// are indexed but not unique; lookups return the newest row.
type OrderRepository interface {
	Insert(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error)
	GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.Order, error)
	// Refresh rewrites the descriptive fields. Status and credited are untouched.
	Refresh(ctx context.Context, order *domain.Order) error
	// UpdateStatus writes to only when the stored status still equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, detail *string, at time.Time) (bool, error)
	UpdateDetail(ctx context.Context, id uuid.UUID, detail *string, at time.Time) error
	// MarkCredited flips credited from false to true. It reports false if it was already set.
	MarkCredited(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// WebhookEventRepository is a write-once audit log.
type WebhookEventRepository interface {
	Insert(ctx context.Context, event *domain.WebhookEvent) error
	ListByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) ([]domain.WebhookEvent, error)
}

// Store groups the repositories and the unit of work that spans them.
type Store interface {
	Accounts() AccountRepository
	Ledger() LedgerRepository
	PaymentIntents() PaymentIntentRepository
	Withdrawals() WithdrawalRepository
	Orders() OrderRepository
	WebhookEvents() WebhookEventRepository

	// Apply runs fn as one atomic unit: every write made through tx commits or
	// none does. The ctx passed to fn carries the unit, so an Apply issued with
	// it joins the running unit instead of opening another.
	Apply(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
