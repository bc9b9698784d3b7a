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

// LedgerRepo implements ports.LedgerRepository. Rows are never updated or deleted.
type LedgerRepo struct {
	pool Pool
}

func NewLedgerRepo(pool Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, account_id, entry_type, amount, reference_type, reference_id, idempotency_key, created_at`

// Insert relies on the unique idempotency_key constraint: a duplicate key
// inserts nothing and the existing entry is read back instead.
func (r *LedgerRepo) Insert(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	query := `INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := conn(ctx, r.pool).Exec(ctx, query,
		e.ID, e.AccountID, e.Type, e.Amount,
		e.ReferenceType, e.ReferenceID, e.IdempotencyKey, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ports.ErrConflict
		}
		return nil, false, fmt.Errorf("insert ledger entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		stored := *e
		return &stored, true, nil
	}
	if e.IdempotencyKey == nil {
		return nil, false, ports.ErrConflict
	}

	existing, err := r.GetByIdempotencyKey(ctx, *e.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, ports.ErrConflict
	}
	return existing, false, nil
}

func (r *LedgerRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE idempotency_key = $1`

	e, err := scanLedgerEntry(conn(ctx, r.pool).QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get ledger entry by key: %w", err)
	}
	return e, nil
}

// SumByAccount is the authoritative balance: SUM over every committed entry.
func (r *LedgerRepo) SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM ledger_entries WHERE account_id = $1`

	var sum int64
	if err := conn(ctx, r.pool).QueryRow(ctx, query, accountID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

func (r *LedgerRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	q := conn(ctx, r.pool)

	countQuery := `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`
	var total int64
	if err := q.QueryRow(ctx, countQuery, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ledger entries: %w", err)
	}

	dataQuery := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := q.Query(ctx, dataQuery, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list ledger entries: %w", err)
	}
	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *LedgerRepo) AllByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at, id`
	rows, err := conn(ctx, r.pool).Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("replay ledger entries: %w", err)
	}
	return collectLedgerEntries(rows)
}

func collectLedgerEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry row: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entry rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(row scanner) (*domain.LedgerEntry, error) {
	e := &domain.LedgerEntry{}
	err := row.Scan(
		&e.ID, &e.AccountID, &e.Type, &e.Amount,
		&e.ReferenceType, &e.ReferenceID, &e.IdempotencyKey, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
