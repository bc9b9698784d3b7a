package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/clock"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService. Balances are always derived
// from entries; nothing caches them.
type LedgerServiceImpl struct {
	store   ports.Store
	metrics ports.Metrics
	clock   clock.Clock
	log     zerolog.Logger
}

func NewLedgerService(store ports.Store, metrics ports.Metrics, clk clock.Clock, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		store:   store,
		metrics: metricsOrNop(metrics),
		clock:   clk,
		log:     log,
	}
}

// AppendEntry writes one immutable entry. When the idempotency key is already
// taken the stored entry is returned unchanged and nothing is written.
func (s *LedgerServiceImpl) AppendEntry(ctx context.Context, req ports.AppendEntryRequest) (*domain.LedgerEntry, error) {
	signed, err := domain.SignedAmount(req.Type, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownEntryType):
			return nil, apperror.Validation(fmt.Sprintf("unknown entry type %q", req.Type))
		case errors.Is(err, domain.ErrZeroAdjustment):
			return nil, apperror.Validation("adjustment amount must be non-zero")
		}
		return nil, apperror.ErrInvalidAmount()
	}
	if req.ReferenceType == "" || strings.TrimSpace(req.ReferenceID) == "" {
		return nil, apperror.Validation("reference type and id are required")
	}
	key := optionalString(req.IdempotencyKey)
	if key != nil && !domain.ValidIdempotencyKey(*key) {
		return nil, apperror.Validation("idempotency key must be 1-128 printable ASCII characters")
	}

	var (
		stored  *domain.LedgerEntry
		created bool
	)
	err = applyWithRetry(ctx, s.store, func(ctx context.Context, tx ports.Store) error {
		account, err := tx.Accounts().GetByID(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account == nil {
			return apperror.ErrNotFound("account")
		}

		stored, created, err = tx.Ledger().Insert(ctx, &domain.LedgerEntry{
			ID:             uuid.New(),
			AccountID:      req.AccountID,
			Type:           req.Type,
			Amount:         signed,
			ReferenceType:  req.ReferenceType,
			ReferenceID:    req.ReferenceID,
			IdempotencyKey: key,
			CreatedAt:      s.clock.Now(),
		})
		return err
	})
	if err != nil {
		return nil, classify("append ledger entry", err)
	}

	if !created && (stored.AccountID != req.AccountID || stored.Amount != signed) {
		s.log.Warn().
			Str("idempotency_key", *key).
			Str("entry_id", stored.ID.String()).
			Msg("idempotency key replayed with different entry fields, returning stored entry")
	}
	s.metrics.LedgerEntryAppended(req.Type, !created)
	return stored, nil
}

// ComputeBalance sums the account's signed entries in storage.
func (s *LedgerServiceImpl) ComputeBalance(ctx context.Context, accountID uuid.UUID) (money.Money, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}
	sum, err := s.store.Ledger().SumByAccount(ctx, accountID)
	if err != nil {
		return money.Money{}, classify("sum ledger", err)
	}
	return money.New(sum, account.Currency), nil
}

// ReplayBalance folds every entry from zero. It must agree with ComputeBalance.
func (s *LedgerServiceImpl) ReplayBalance(ctx context.Context, accountID uuid.UUID) (money.Money, error) {
	account, err := s.account(ctx, accountID)
	if err != nil {
		return money.Money{}, err
	}
	entries, err := s.store.Ledger().AllByAccount(ctx, accountID)
	if err != nil {
		return money.Money{}, classify("load ledger", err)
	}
	balance, err := domain.ReplayBalance(entries)
	if err != nil {
		return money.Money{}, apperror.InternalError(err)
	}
	return money.New(balance, account.Currency), nil
}

// History pages the account's entries, newest first.
func (s *LedgerServiceImpl) History(ctx context.Context, accountID uuid.UUID, page, pageSize int) ([]domain.LedgerEntry, int64, error) {
	if _, err := s.account(ctx, accountID); err != nil {
		return nil, 0, err
	}
	page, pageSize = normalizePage(page, pageSize)

	entries, total, err := s.store.Ledger().ListByAccount(ctx, accountID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, classify("list ledger", err)
	}
	return entries, total, nil
}

// BalanceFor reports the balance of the user's account in currency. A user
// without such an account has a zero balance and a nil Account.
func (s *LedgerServiceImpl) BalanceFor(ctx context.Context, userID uuid.UUID, currency string) (*ports.AccountBalance, error) {
	currency = money.NormalizeCurrency(currency)
	if !money.ValidCurrency(currency) {
		return nil, apperror.Validation("currency must be a 3 to 5 letter code")
	}

	account, err := s.store.Accounts().GetByUserCurrency(ctx, userID, currency)
	if err != nil {
		return nil, classify("get account", err)
	}
	if account == nil {
		return &ports.AccountBalance{Balance: money.Zero(currency)}, nil
	}

	balance, err := s.ComputeBalance(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return &ports.AccountBalance{Account: account, Balance: balance}, nil
}

func (s *LedgerServiceImpl) account(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, classify("get account", err)
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}
