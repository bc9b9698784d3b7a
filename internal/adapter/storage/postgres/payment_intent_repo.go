package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentIntentRepo implements ports.PaymentIntentRepository.
type PaymentIntentRepo struct {
	pool Pool
}

func NewPaymentIntentRepo(pool Pool) *PaymentIntentRepo {
	return &PaymentIntentRepo{pool: pool}
}

const intentColumns = `id, user_id, account_id, provider, amount, currency, status,
	external_payment_id, payment_method, idempotency_key, expires_at, confirmed_at, created_at, updated_at`

func (r *PaymentIntentRepo) Insert(ctx context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, bool, error) {
	query := `INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := conn(ctx, r.pool).Exec(ctx, query,
		p.ID, p.UserID, p.AccountID, p.Provider, p.Amount, p.Currency, p.Status,
		p.ExternalPaymentID, p.PaymentMethod, p.IdempotencyKey, p.ExpiresAt, p.ConfirmedAt,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ports.ErrConflict
		}
		return nil, false, fmt.Errorf("insert payment intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		stored := *p
		return &stored, true, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, p.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, ports.ErrConflict
	}
	return existing, false, nil
}

func (r *PaymentIntentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return r.scanIntent(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *PaymentIntentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE idempotency_key = $1`
	return r.scanIntent(conn(ctx, r.pool).QueryRow(ctx, query, key))
}

func (r *PaymentIntentRepo) RecordHandOff(ctx context.Context, id uuid.UUID, externalPaymentID string, paymentMethod *string, expiresAt *time.Time, at time.Time) (bool, error) {
	query := `UPDATE payment_intents
		SET external_payment_id = $2,
			payment_method = COALESCE($3, payment_method),
			expires_at = COALESCE($4, expires_at),
			updated_at = $5
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, id, externalPaymentID, paymentMethod, expiresAt, at)
	if err != nil {
		return false, fmt.Errorf("record intent handoff: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Transition is a forward-only write: it matches only PENDING rows, so a
// concurrent confirmation and failure cannot both succeed.
func (r *PaymentIntentRepo) Transition(ctx context.Context, id uuid.UUID, to domain.IntentStatus, externalPaymentID *string, at time.Time) (bool, error) {
	query := `UPDATE payment_intents
		SET status = $2,
			external_payment_id = COALESCE($3, external_payment_id),
			confirmed_at = CASE WHEN $2 = 'CONFIRMED' THEN $4 ELSE confirmed_at END,
			updated_at = $4
		WHERE id = $1 AND status = 'PENDING'`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, id, to, externalPaymentID, at)
	if err != nil {
		return false, fmt.Errorf("transition payment intent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PaymentIntentRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`

	rows, err := conn(ctx, r.pool).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired intents: %w", err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		p, err := scanIntentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment intent row: %w", err)
		}
		intents = append(intents, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment intent rows: %w", err)
	}
	return intents, nil
}

func (r *PaymentIntentRepo) scanIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	p, err := scanIntentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment intent: %w", err)
	}
	return p, nil
}

func scanIntentRow(row scanner) (*domain.PaymentIntent, error) {
	p := &domain.PaymentIntent{}
	err := row.Scan(
		&p.ID, &p.UserID, &p.AccountID, &p.Provider, &p.Amount, &p.Currency, &p.Status,
		&p.ExternalPaymentID, &p.PaymentMethod, &p.IdempotencyKey, &p.ExpiresAt, &p.ConfirmedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
