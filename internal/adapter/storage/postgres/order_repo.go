package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepo implements ports.OrderRepository. external_order_id and
// provider_payment_id are indexed, not unique, so lookups take the newest row.
type OrderRepo struct {
	pool Pool
}

func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, external_order_id, kind, amount, currency, provider,
	provider_payment_id, provider_payment_id_text, status, status_detail, credited,
	payment_method, expires_at, created_at, updated_at`

func (r *OrderRepo) Insert(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		o.ID, o.ExternalOrderID, o.Kind, o.Amount, o.Currency, o.Provider,
		o.ProviderPaymentID, o.ProviderPaymentIDText, o.Status, o.StatusDetail, o.Credited,
		o.PaymentMethod, o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOrder(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *OrderRepo) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE external_order_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanOrder(conn(ctx, r.pool).QueryRow(ctx, query, externalOrderID))
}

func (r *OrderRepo) GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE lower(provider) = lower($1) AND provider_payment_id_text = $2
		ORDER BY created_at DESC LIMIT 1`
	return r.scanOrder(conn(ctx, r.pool).QueryRow(ctx, query, provider, providerPaymentID))
}

func (r *OrderRepo) Refresh(ctx context.Context, o *domain.Order) error {
	query := `UPDATE orders
		SET amount = $2, currency = $3, provider = $4,
			provider_payment_id = $5, provider_payment_id_text = $6,
			payment_method = $7, expires_at = $8, updated_at = $9
		WHERE id = $1`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		o.ID, o.Amount, o.Currency, o.Provider,
		o.ProviderPaymentID, o.ProviderPaymentIDText,
		o.PaymentMethod, o.ExpiresAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("refresh order: %w", err)
	}
	return nil
}

// UpdateStatus is a compare-and-set on status; a concurrent writer that moved
// the order first makes it report false.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, detail *string, at time.Time) (bool, error) {
	query := `UPDATE orders
		SET status = $3, status_detail = COALESCE($4, status_detail), updated_at = $5
		WHERE id = $1 AND status = $2`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, id, from, to, detail, at)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) UpdateDetail(ctx context.Context, id uuid.UUID, detail *string, at time.Time) error {
	query := `UPDATE orders SET status_detail = $2, updated_at = $3 WHERE id = $1`

	if _, err := conn(ctx, r.pool).Exec(ctx, query, id, detail, at); err != nil {
		return fmt.Errorf("update order detail: %w", err)
	}
	return nil
}

func (r *OrderRepo) MarkCredited(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE orders SET credited = TRUE, updated_at = $2 WHERE id = $1 AND credited = FALSE`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark order credited: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *OrderRepo) scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	err := row.Scan(
		&o.ID, &o.ExternalOrderID, &o.Kind, &o.Amount, &o.Currency, &o.Provider,
		&o.ProviderPaymentID, &o.ProviderPaymentIDText, &o.Status, &o.StatusDetail, &o.Credited,
		&o.PaymentMethod, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}
