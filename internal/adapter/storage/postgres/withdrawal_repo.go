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

// WithdrawalRepo implements ports.WithdrawalRepository.
type WithdrawalRepo struct {
	pool Pool
}

func NewWithdrawalRepo(pool Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

const withdrawalColumns = `id, user_id, account_id, amount, currency, status,
	approved_at, approved_by_user_id, rejected_at, rejected_by_user_id, notes,
	idempotency_key, provider_payment_id, paid_at, created_at, updated_at`

func (r *WithdrawalRepo) Insert(ctx context.Context, w *domain.Withdrawal) (*domain.Withdrawal, bool, error) {
	query := `INSERT INTO withdrawals (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := conn(ctx, r.pool).Exec(ctx, query,
		w.ID, w.UserID, w.AccountID, w.Amount, w.Currency, w.Status,
		w.ApprovedAt, w.ApprovedByUserID, w.RejectedAt, w.RejectedByUserID, w.Notes,
		w.IdempotencyKey, w.ProviderPaymentID, w.PaidAt, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ports.ErrConflict
		}
		return nil, false, fmt.Errorf("insert withdrawal: %w", err)
	}
	if tag.RowsAffected() == 1 {
		stored := *w
		return &stored, true, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, w.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, ports.ErrConflict
	}
	return existing, false, nil
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`
	return r.scanWithdrawal(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *WithdrawalRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE idempotency_key = $1`
	return r.scanWithdrawal(conn(ctx, r.pool).QueryRow(ctx, query, key))
}

func (r *WithdrawalRepo) SumByStatus(ctx context.Context, accountID uuid.UUID, statuses []domain.WithdrawalStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM withdrawals WHERE account_id = $1 AND status = ANY($2)`

	var sum int64
	if err := conn(ctx, r.pool).QueryRow(ctx, query, accountID, names).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum held withdrawals: %w", err)
	}
	return sum, nil
}

// Decide only matches REQUESTED rows.
func (r *WithdrawalRepo) Decide(ctx context.Context, id uuid.UUID, to domain.WithdrawalStatus, actor uuid.UUID, notes *string, at time.Time) (bool, error) {
	var query string
	switch to {
	case domain.WithdrawalStatusApproved:
		query = `UPDATE withdrawals
			SET status = 'APPROVED', approved_at = $2, approved_by_user_id = $3,
				notes = COALESCE($4, notes), updated_at = $2
			WHERE id = $1 AND status = 'REQUESTED'`
	case domain.WithdrawalStatusRejected:
		query = `UPDATE withdrawals
			SET status = 'REJECTED', rejected_at = $2, rejected_by_user_id = $3,
				notes = COALESCE($4, notes), updated_at = $2
			WHERE id = $1 AND status = 'REQUESTED'`
	default:
		return false, fmt.Errorf("decide withdrawal: unsupported status %s", to)
	}

	tag, err := conn(ctx, r.pool).Exec(ctx, query, id, at, actor, notes)
	if err != nil {
		return false, fmt.Errorf("decide withdrawal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WithdrawalRepo) SetProviderPaymentID(ctx context.Context, id uuid.UUID, providerPaymentID string) error {
	query := `UPDATE withdrawals SET provider_payment_id = $2 WHERE id = $1`

	if _, err := conn(ctx, r.pool).Exec(ctx, query, id, providerPaymentID); err != nil {
		return fmt.Errorf("set withdrawal provider payment id: %w", err)
	}
	return nil
}

func (r *WithdrawalRepo) MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID *string, at time.Time) (bool, error) {
	query := `UPDATE withdrawals
		SET status = 'PAID', paid_at = $2,
			provider_payment_id = COALESCE($3, provider_payment_id), updated_at = $2
		WHERE id = $1 AND status = 'APPROVED'`

	tag, err := conn(ctx, r.pool).Exec(ctx, query, id, at, providerPaymentID)
	if err != nil {
		return false, fmt.Errorf("mark withdrawal paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *WithdrawalRepo) scanWithdrawal(row pgx.Row) (*domain.Withdrawal, error) {
	w := &domain.Withdrawal{}
	err := row.Scan(
		&w.ID, &w.UserID, &w.AccountID, &w.Amount, &w.Currency, &w.Status,
		&w.ApprovedAt, &w.ApprovedByUserID, &w.RejectedAt, &w.RejectedByUserID, &w.Notes,
		&w.IdempotencyKey, &w.ProviderPaymentID, &w.PaidAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan withdrawal: %w", err)
	}
	return w, nil
}
