package service

import (
	"context"
	"errors"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/clock"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AccountServiceImpl implements ports.AccountService.
type AccountServiceImpl struct {
	store ports.Store
	clock clock.Clock
	log   zerolog.Logger
}

func NewAccountService(store ports.Store, clk clock.Clock, log zerolog.Logger) *AccountServiceImpl {
	return &AccountServiceImpl{store: store, clock: clk, log: log}
}

// GetOrCreate returns the single account of (userID, currency), creating it on
// first use. Concurrent first uses converge on one row.
func (s *AccountServiceImpl) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error) {
	if userID == uuid.Nil {
		return nil, apperror.Validation("user id is required")
	}
	currency = money.NormalizeCurrency(currency)
	if !money.ValidCurrency(currency) {
		return nil, apperror.Validation("currency must be a 3 to 5 letter code")
	}

	existing, err := s.store.Accounts().GetByUserCurrency(ctx, userID, currency)
	if err != nil {
		return nil, classify("get account", err)
	}
	if existing != nil {
		return existing, nil
	}

	create := func() (*domain.Account, error) {
		return s.store.Accounts().GetOrCreate(ctx, &domain.Account{
			ID:        uuid.New(),
			UserID:    userID,
			Currency:  currency,
			CreatedAt: s.clock.Now(),
		})
	}

	account, err := create()
	if errors.Is(err, ports.ErrConflict) {
		account, err = create()
	}
	if err != nil {
		return nil, classify("create account", err)
	}

	s.log.Debug().
		Str("account_id", account.ID.String()).
		Str("user_id", userID.String()).
		Str("currency", currency).
		Msg("account resolved")
	return account, nil
}

func (s *AccountServiceImpl) Get(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, classify("get account", err)
	}
	if account == nil {
		return nil, apperror.ErrNotFound("account")
	}
	return account, nil
}
