package postgres

import (
	"context"
	"errors"
	"fmt"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements ports.AccountRepository.
type AccountRepo struct {
	pool Pool
}

func NewAccountRepo(pool Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

const accountColumns = `id, user_id, currency, created_at`

// GetOrCreate inserts the account unless (user_id, currency) exists, then reads
// the stored row. A creator that lost the race reads the winner's row.
func (r *AccountRepo) GetOrCreate(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	query := `INSERT INTO accounts (id, user_id, currency, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, currency) DO NOTHING`

	if _, err := conn(ctx, r.pool).Exec(ctx, query, a.ID, a.UserID, a.Currency, a.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ports.ErrConflict
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	stored, err := r.GetByUserCurrency(ctx, a.UserID, a.Currency)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ports.ErrConflict
	}
	return stored, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *AccountRepo) GetByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND currency = $2`
	return r.scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, userID, currency))
}

// LockForUpdate takes a row lock held until the surrounding transaction ends.
// This MUST be called within Store.Apply.
func (r *AccountRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return r.scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *AccountRepo) scanAccount(row pgx.Row) (*domain.Account, error) {
	a := &domain.Account{}
	err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}
