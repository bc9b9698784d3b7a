package service

import (
	"context"
	"strings"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/clock"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WithdrawalPolicy holds the configurable rules of the withdrawal manager.
type WithdrawalPolicy struct {
	Hierarchy        domain.RoleHierarchy
	ApprovalTier     int
	EscalationAmount int64 // minor units; decisions at or above it need the top tier. 0 disables.
	HoldStatuses     []domain.WithdrawalStatus
	CacheTTL         time.Duration
}

// WithdrawalServiceImpl implements ports.WithdrawalService.
type WithdrawalServiceImpl struct {
	store   ports.Store
	ledger  ports.LedgerService
	orders  ports.OrderService
	cache   ports.IdempotencyCache
	policy  WithdrawalPolicy
	metrics ports.Metrics
	clock   clock.Clock
	log     zerolog.Logger
}

func NewWithdrawalService(
	store ports.Store,
	ledger ports.LedgerService,
	orders ports.OrderService,
	cache ports.IdempotencyCache,
	policy WithdrawalPolicy,
	metrics ports.Metrics,
	clk clock.Clock,
	log zerolog.Logger,
) *WithdrawalServiceImpl {
	if policy.HoldStatuses == nil {
		policy.HoldStatuses = domain.DefaultHoldStatuses
	}
	return &WithdrawalServiceImpl{
		store:   store,
		ledger:  ledger,
		orders:  orders,
		cache:   cache,
		policy:  policy,
		metrics: metricsOrNop(metrics),
		clock:   clk,
		log:     log,
	}
}

// CreateWithdrawal reserves funds for a REQUESTED withdrawal. The account row is
// locked while available funds are computed, so two requests cannot spend the
// same balance.
func (s *WithdrawalServiceImpl) CreateWithdrawal(ctx context.Context, req ports.CreateWithdrawalRequest) (*domain.Withdrawal, error) {
	req.Amount.Currency = money.NormalizeCurrency(req.Amount.Currency)

	switch {
	case req.UserID == uuid.Nil:
		return nil, apperror.Validation("user id is required")
	case !req.Amount.IsPositive():
		return nil, apperror.ErrInvalidAmount()
	case !money.ValidCurrency(req.Amount.Currency):
		return nil, apperror.Validation("currency must be a 3 to 5 letter code")
	case !domain.ValidIdempotencyKey(req.IdempotencyKey):
		return nil, apperror.Validation("idempotency key must be 1-128 printable ASCII characters")
	}

	// Layer 1: Redis fast path
	if existing, err := s.fromCache(ctx, req); existing != nil || err != nil {
		return existing, err
	}

	// Layer 2: storage lookup
	existing, err := s.store.Withdrawals().GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, classify("get withdrawal by key", err)
	}
	if existing != nil {
		return s.replay(ctx, existing, req)
	}

	account, err := s.store.Accounts().GetByUserCurrency(ctx, req.UserID, req.Amount.Currency)
	if err != nil {
		return nil, classify("get account", err)
	}
	if account == nil {
		return nil, apperror.ErrInsufficientFunds()
	}

	var (
		stored  *domain.Withdrawal
		created bool
	)
	err = applyWithRetry(ctx, s.store, func(ctx context.Context, tx ports.Store) error {
		if _, err := tx.Accounts().LockForUpdate(ctx, account.ID); err != nil {
			return err
		}

		// Re-check under the lock: a concurrent retry may have won.
		prior, err := tx.Withdrawals().GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if prior != nil {
			stored, created = prior, false
			return nil
		}

		available, err := s.available(ctx, tx, account)
		if err != nil {
			return err
		}
		if cmp, err := req.Amount.Cmp(available); err != nil || cmp > 0 {
			return apperror.ErrInsufficientFunds()
		}

		now := s.clock.Now()
		stored, created, err = tx.Withdrawals().Insert(ctx, &domain.Withdrawal{
			ID:             uuid.New(),
			UserID:         req.UserID,
			AccountID:      account.ID,
			Amount:         req.Amount.Minor,
			Currency:       req.Amount.Currency,
			Status:         domain.WithdrawalStatusRequested,
			Notes:          optionalString(req.Notes),
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return err
	})
	if err != nil {
		return nil, classify("create withdrawal", err)
	}
	if !created {
		return s.replay(ctx, stored, req)
	}

	s.remember(ctx, stored)
	s.metrics.WithdrawalTransitioned(domain.WithdrawalStatusRequested)
	s.log.Info().
		Str("withdrawal_id", stored.ID.String()).
		Str("user_id", stored.UserID.String()).
		Int64("amount", stored.Amount).
		Str("currency", stored.Currency).
		Msg("withdrawal requested")
	return stored, nil
}

// Approve moves a REQUESTED withdrawal to APPROVED and debits the ledger in
// the same unit of work. Approving again is a no-op.
func (s *WithdrawalServiceImpl) Approve(ctx context.Context, actor domain.Identity, withdrawalID uuid.UUID, notes string) (*domain.Withdrawal, error) {
	return s.decide(ctx, actor, withdrawalID, domain.WithdrawalStatusApproved, notes)
}

// Reject moves a REQUESTED withdrawal to REJECTED, releasing its hold.
func (s *WithdrawalServiceImpl) Reject(ctx context.Context, actor domain.Identity, withdrawalID uuid.UUID, notes string) (*domain.Withdrawal, error) {
	return s.decide(ctx, actor, withdrawalID, domain.WithdrawalStatusRejected, notes)
}

// RecordPayout stores the provider transfer of an approved withdrawal and
// opens its order mirror.
func (s *WithdrawalServiceImpl) RecordPayout(ctx context.Context, withdrawalID uuid.UUID, req ports.PayoutRequest) (*domain.Order, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	numericID, textID := providerPaymentIDs(req.ProviderPaymentID)
	if provider == "" || textID == nil {
		return nil, apperror.Validation("provider and provider payment id are required")
	}

	var order *domain.Order
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		w, err := s.load(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalStatusApproved && w.Status != domain.WithdrawalStatusPaid {
			return apperror.ErrInvalidTransition("withdrawal", string(w.Status), "payout")
		}
		if err := tx.Withdrawals().SetProviderPaymentID(ctx, withdrawalID, *textID); err != nil {
			return err
		}

		order, err = s.orders.CreateOrUpdate(ctx, ports.UpsertOrderRequest{
			ExternalOrderID:       w.ID.String(),
			Kind:                  domain.OrderKindWithdrawal,
			Amount:                w.Amount,
			Currency:              w.Currency,
			Provider:              provider,
			ProviderPaymentID:     numericID,
			ProviderPaymentIDText: textID,
			Status:                domain.OrderStatusPending,
			PaymentMethod:         req.PaymentMethod,
		})
		return err
	})
	if err != nil {
		return nil, classify("record payout", err)
	}

	s.log.Info().
		Str("withdrawal_id", withdrawalID.String()).
		Str("provider", provider).
		Str("provider_payment_id", *textID).
		Msg("withdrawal payout recorded")
	return order, nil
}

// MarkPaid moves an APPROVED withdrawal to PAID. Marking it again is a no-op.
func (s *WithdrawalServiceImpl) MarkPaid(ctx context.Context, withdrawalID uuid.UUID, providerPaymentID string) (bool, error) {
	applied := false
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		w, err := s.load(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		switch w.PaidTransition() {
		case domain.TransitionNoop:
			return nil
		case domain.TransitionInvalid:
			return apperror.ErrInvalidTransition("withdrawal", string(w.Status), string(domain.WithdrawalStatusPaid))
		}

		ok, err := tx.Withdrawals().MarkPaid(ctx, withdrawalID, optionalString(providerPaymentID), s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			latest, err := s.load(ctx, tx, withdrawalID)
			if err != nil {
				return err
			}
			if latest.Status == domain.WithdrawalStatusPaid {
				return nil
			}
			return apperror.ErrInvalidTransition("withdrawal", string(latest.Status), string(domain.WithdrawalStatusPaid))
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, classify("mark withdrawal paid", err)
	}

	if applied {
		s.metrics.WithdrawalTransitioned(domain.WithdrawalStatusPaid)
		s.log.Info().Str("withdrawal_id", withdrawalID.String()).Msg("withdrawal paid")
	}
	return true, nil
}

func (s *WithdrawalServiceImpl) Get(ctx context.Context, withdrawalID uuid.UUID) (*domain.Withdrawal, error) {
	w, err := s.store.Withdrawals().GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, classify("get withdrawal", err)
	}
	if w == nil {
		return nil, apperror.ErrNotFound("withdrawal")
	}
	return w, nil
}

// RequiredTier returns the admin tier needed to decide w.
func (s *WithdrawalServiceImpl) RequiredTier(w *domain.Withdrawal) int {
	if s.policy.EscalationAmount > 0 && w.Amount >= s.policy.EscalationAmount {
		return s.policy.Hierarchy.Top()
	}
	return s.policy.ApprovalTier
}

func (s *WithdrawalServiceImpl) decide(ctx context.Context, actor domain.Identity, withdrawalID uuid.UUID, to domain.WithdrawalStatus, notes string) (*domain.Withdrawal, error) {
	w, err := s.Get(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if !s.policy.Hierarchy.Allows(actor, s.RequiredTier(w)) {
		s.log.Warn().
			Str("withdrawal_id", withdrawalID.String()).
			Str("actor", actor.UserID.String()).
			Int("tier", s.policy.Hierarchy.TierOf(actor)).
			Int("required", s.RequiredTier(w)).
			Msg("withdrawal decision refused")
		return nil, apperror.ErrForbidden()
	}

	applied := false
	err = s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		current, err := s.load(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		// Same lock CreateWithdrawal holds while it reads balance and holds.
		if _, err := tx.Accounts().LockForUpdate(ctx, current.AccountID); err != nil {
			return err
		}

		transition := current.RejectTransition()
		if to == domain.WithdrawalStatusApproved {
			transition = current.ApproveTransition()
		}
		switch transition {
		case domain.TransitionNoop:
			return nil
		case domain.TransitionInvalid:
			return apperror.ErrInvalidTransition("withdrawal", string(current.Status), string(to))
		}

		ok, err := tx.Withdrawals().Decide(ctx, withdrawalID, to, actor.UserID, optionalString(notes), s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			latest, err := s.load(ctx, tx, withdrawalID)
			if err != nil {
				return err
			}
			if latest.Status == to || (to == domain.WithdrawalStatusApproved && latest.Status == domain.WithdrawalStatusPaid) {
				return nil
			}
			return apperror.ErrInvalidTransition("withdrawal", string(latest.Status), string(to))
		}

		if to == domain.WithdrawalStatusApproved {
			_, err = s.ledger.AppendEntry(ctx, ports.AppendEntryRequest{
				AccountID:      current.AccountID,
				Type:           domain.EntryTypeWithdrawal,
				Amount:         current.Amount,
				ReferenceType:  domain.ReferenceWithdrawal,
				ReferenceID:    current.ID.String(),
				IdempotencyKey: domain.WithdrawalEntryKey(current.ID),
			})
			if err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, classify("decide withdrawal", err)
	}

	if applied {
		s.metrics.WithdrawalTransitioned(to)
		s.log.Info().
			Str("withdrawal_id", withdrawalID.String()).
			Str("status", string(to)).
			Str("actor", actor.UserID.String()).
			Msg("withdrawal decided")
	}
	return s.Get(ctx, withdrawalID)
}

// available is the ledger balance minus the withdrawals still holding funds.
func (s *WithdrawalServiceImpl) available(ctx context.Context, tx ports.Store, account *domain.Account) (money.Money, error) {
	balance, err := tx.Ledger().SumByAccount(ctx, account.ID)
	if err != nil {
		return money.Money{}, err
	}
	held, err := tx.Withdrawals().SumByStatus(ctx, account.ID, s.policy.HoldStatuses)
	if err != nil {
		return money.Money{}, err
	}
	available, err := money.New(balance, account.Currency).Sub(money.New(held, account.Currency))
	if err != nil {
		return money.Money{}, apperror.InternalError(err)
	}
	return available, nil
}

func (s *WithdrawalServiceImpl) load(ctx context.Context, tx ports.Store, withdrawalID uuid.UUID) (*domain.Withdrawal, error) {
	w, err := tx.Withdrawals().GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, apperror.ErrNotFound("withdrawal")
	}
	return w, nil
}

func (s *WithdrawalServiceImpl) replay(ctx context.Context, existing *domain.Withdrawal, req ports.CreateWithdrawalRequest) (*domain.Withdrawal, error) {
	if existing.UserID != req.UserID ||
		existing.Amount != req.Amount.Minor ||
		existing.Currency != req.Amount.Currency {
		return nil, apperror.ErrConflict("idempotency key already used with different parameters")
	}
	s.remember(ctx, existing)
	return existing, nil
}

func (s *WithdrawalServiceImpl) fromCache(ctx context.Context, req ports.CreateWithdrawalRequest) (*domain.Withdrawal, error) {
	if s.cache == nil {
		return nil, nil
	}
	rec, err := s.cache.Lookup(ctx, domain.ScopeWithdrawal, req.IdempotencyKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", req.IdempotencyKey).Msg("redis idempotency check failed, falling through to DB")
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}
	if rec.UserID != req.UserID || rec.Amount != req.Amount.Minor || rec.Currency != req.Amount.Currency {
		return nil, apperror.ErrConflict("idempotency key already used with different parameters")
	}

	w, err := s.store.Withdrawals().GetByID(ctx, rec.ResourceID)
	if err != nil {
		return nil, classify("get withdrawal", err)
	}
	return w, nil
}

func (s *WithdrawalServiceImpl) remember(ctx context.Context, w *domain.Withdrawal) {
	if s.cache == nil {
		return
	}
	rec := domain.IdempotencyRecord{
		Key:        w.IdempotencyKey,
		Scope:      domain.ScopeWithdrawal,
		ResourceID: w.ID,
		UserID:     w.UserID,
		Amount:     w.Amount,
		Currency:   w.Currency,
		CreatedAt:  w.CreatedAt,
	}
	if err := s.cache.Remember(ctx, rec, s.policy.CacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", w.IdempotencyKey).Msg("failed to cache idempotency record")
	}
}
