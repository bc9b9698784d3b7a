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

// IntentOptions tunes intent creation.
type IntentOptions struct {
	DefaultTTL time.Duration // applied when a request has no ExpiresAt; 0 = never expire
	CacheTTL   time.Duration
}

// PaymentIntentServiceImpl implements ports.PaymentIntentService.
type PaymentIntentServiceImpl struct {
	store    ports.Store
	accounts ports.AccountService
	ledger   ports.LedgerService
	orders   ports.OrderService
	cache    ports.IdempotencyCache
	opts     IntentOptions
	metrics  ports.Metrics
	clock    clock.Clock
	log      zerolog.Logger
}

// NewPaymentIntentService wires the manager. cache may be nil, which disables
// the fast path.
func NewPaymentIntentService(
	store ports.Store,
	accounts ports.AccountService,
	ledger ports.LedgerService,
	orders ports.OrderService,
	cache ports.IdempotencyCache,
	opts IntentOptions,
	metrics ports.Metrics,
	clk clock.Clock,
	log zerolog.Logger,
) *PaymentIntentServiceImpl {
	return &PaymentIntentServiceImpl{
		store:    store,
		accounts: accounts,
		ledger:   ledger,
		orders:   orders,
		cache:    cache,
		opts:     opts,
		metrics:  metricsOrNop(metrics),
		clock:    clk,
		log:      log,
	}
}

// CreateDepositIntent returns the intent already stored under the idempotency
// key, or creates a PENDING one.
func (s *PaymentIntentServiceImpl) CreateDepositIntent(ctx context.Context, req ports.CreateDepositRequest) (*domain.PaymentIntent, error) {
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Amount.Currency = money.NormalizeCurrency(req.Amount.Currency)
	now := s.clock.Now()

	switch {
	case req.UserID == uuid.Nil:
		return nil, apperror.Validation("user id is required")
	case !req.Amount.IsPositive():
		return nil, apperror.ErrInvalidAmount()
	case !money.ValidCurrency(req.Amount.Currency):
		return nil, apperror.Validation("currency must be a 3 to 5 letter code")
	case req.Provider == "":
		return nil, apperror.Validation("provider is required")
	case !domain.ValidIdempotencyKey(req.IdempotencyKey):
		return nil, apperror.Validation("idempotency key must be 1-128 printable ASCII characters")
	case req.ExpiresAt != nil && !req.ExpiresAt.After(now):
		return nil, apperror.Validation("expires_at must be in the future")
	}

	// Layer 1: Redis fast path
	if existing, err := s.fromCache(ctx, req); existing != nil || err != nil {
		return existing, err
	}

	// Layer 2: storage lookup
	existing, err := s.store.PaymentIntents().GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, classify("get intent by key", err)
	}
	if existing != nil {
		return s.replay(ctx, existing, req)
	}

	account, err := s.accounts.GetOrCreate(ctx, req.UserID, req.Amount.Currency)
	if err != nil {
		return nil, err
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && s.opts.DefaultTTL > 0 {
		t := now.Add(s.opts.DefaultTTL)
		expiresAt = &t
	}

	var (
		stored  *domain.PaymentIntent
		created bool
	)
	err = applyWithRetry(ctx, s.store, func(ctx context.Context, tx ports.Store) error {
		stored, created, err = tx.PaymentIntents().Insert(ctx, &domain.PaymentIntent{
			ID:             uuid.New(),
			UserID:         req.UserID,
			AccountID:      account.ID,
			Provider:       req.Provider,
			Amount:         req.Amount.Minor,
			Currency:       req.Amount.Currency,
			Status:         domain.IntentStatusPending,
			IdempotencyKey: req.IdempotencyKey,
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return err
	})
	if err != nil {
		return nil, classify("create payment intent", err)
	}
	if !created {
		return s.replay(ctx, stored, req)
	}

	s.remember(ctx, stored)
	s.metrics.IntentTransitioned(domain.IntentStatusPending)
	s.log.Info().
		Str("intent_id", stored.ID.String()).
		Str("user_id", stored.UserID.String()).
		Int64("amount", stored.Amount).
		Str("currency", stored.Currency).
		Str("provider", stored.Provider).
		Msg("deposit intent created")
	return stored, nil
}

// HandOff records the provider payment created for a PENDING intent and opens
// its order mirror.
func (s *PaymentIntentServiceImpl) HandOff(ctx context.Context, intentID uuid.UUID, req ports.HandOffRequest) (*domain.PaymentIntent, error) {
	numericID, textID := providerPaymentIDs(req.ProviderPaymentID)
	if textID == nil {
		return nil, apperror.Validation("provider payment id is required")
	}

	var intent *domain.PaymentIntent
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		current, err := s.load(ctx, tx, intentID)
		if err != nil {
			return err
		}
		if current.Status != domain.IntentStatusPending {
			if current.ExternalPaymentID != nil && *current.ExternalPaymentID == *textID {
				intent = current
				return nil
			}
			return apperror.ErrInvalidTransition("payment intent", string(current.Status), "handed off")
		}

		claimed, err := tx.Orders().GetByProviderPaymentID(ctx, current.Provider, *textID)
		if err != nil {
			return err
		}
		if claimed != nil && claimed.ExternalOrderID != intentID.String() {
			return apperror.ErrConflict("provider payment id already belongs to another order")
		}

		ok, err := tx.PaymentIntents().RecordHandOff(ctx, intentID, *textID, req.PaymentMethod, req.ExpiresAt, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			return apperror.ErrConflict("payment intent changed during handoff")
		}

		if intent, err = s.load(ctx, tx, intentID); err != nil {
			return err
		}
		_, err = s.orders.CreateOrUpdate(ctx, ports.UpsertOrderRequest{
			ExternalOrderID:       intent.ID.String(),
			Kind:                  domain.OrderKindDeposit,
			Amount:                intent.Amount,
			Currency:              intent.Currency,
			Provider:              intent.Provider,
			ProviderPaymentID:     numericID,
			ProviderPaymentIDText: textID,
			Status:                domain.OrderStatusPending,
			PaymentMethod:         intent.PaymentMethod,
			ExpiresAt:             intent.ExpiresAt,
		})
		return err
	})
	if err != nil {
		return nil, classify("hand off payment intent", err)
	}
	return intent, nil
}

// ConfirmDeposit moves the intent to CONFIRMED and appends its DEPOSIT entry in
// one unit of work. Confirming a CONFIRMED intent again is a successful no-op.
func (s *PaymentIntentServiceImpl) ConfirmDeposit(ctx context.Context, intentID uuid.UUID, externalPaymentID string) (bool, error) {
	externalPaymentID = strings.TrimSpace(externalPaymentID)
	if externalPaymentID == "" {
		return false, apperror.Validation("external payment id is required")
	}

	applied := false
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		intent, err := s.load(ctx, tx, intentID)
		if err != nil {
			return err
		}

		switch intent.ConfirmTransition() {
		case domain.TransitionNoop:
			s.logReplay(intent, externalPaymentID)
			return nil
		case domain.TransitionInvalid:
			return apperror.ErrInvalidTransition("payment intent", string(intent.Status), string(domain.IntentStatusConfirmed))
		}

		ok, err := tx.PaymentIntents().Transition(ctx, intentID, domain.IntentStatusConfirmed, &externalPaymentID, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent writer decided first.
			latest, err := s.load(ctx, tx, intentID)
			if err != nil {
				return err
			}
			if latest.Status == domain.IntentStatusConfirmed {
				s.logReplay(latest, externalPaymentID)
				return nil
			}
			return apperror.ErrInvalidTransition("payment intent", string(latest.Status), string(domain.IntentStatusConfirmed))
		}

		_, err = s.ledger.AppendEntry(ctx, ports.AppendEntryRequest{
			AccountID:      intent.AccountID,
			Type:           domain.EntryTypeDeposit,
			Amount:         intent.Amount,
			ReferenceType:  domain.ReferencePaymentIntent,
			ReferenceID:    intent.ID.String(),
			IdempotencyKey: domain.DepositEntryKey(intent.ID),
		})
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, classify("confirm deposit", err)
	}

	if applied {
		s.metrics.IntentTransitioned(domain.IntentStatusConfirmed)
		s.log.Info().
			Str("intent_id", intentID.String()).
			Str("external_payment_id", externalPaymentID).
			Msg("deposit confirmed")
	}
	return true, nil
}

// SyncStatus applies a provider status report. Unknown and pending statuses
// leave the intent as it is.
func (s *PaymentIntentServiceImpl) SyncStatus(ctx context.Context, req ports.SyncStatusRequest) (*domain.PaymentIntent, error) {
	intent, err := s.Get(ctx, req.IntentID)
	if err != nil {
		return nil, err
	}

	target, known := domain.IntentTarget(req.ProviderStatus)
	if !known {
		s.log.Warn().
			Str("intent_id", intent.ID.String()).
			Str("provider_status", req.ProviderStatus).
			Str("provider_status_detail", req.ProviderStatusDetail).
			Msg("provider status implies no transition")
		return intent, nil
	}

	if req.ProviderAmount != nil {
		if cmp, err := req.ProviderAmount.Cmp(intent.Money()); err != nil || cmp != 0 {
			s.log.Warn().
				Str("intent_id", intent.ID.String()).
				Str("expected", intent.Money().String()).
				Str("reported", req.ProviderAmount.String()).
				Msg("provider amount does not match intent")
			return nil, apperror.ErrAmountMismatch()
		}
	}

	switch target {
	case domain.IntentStatusConfirmed:
		externalID := strings.TrimSpace(req.ProviderPaymentID)
		if externalID == "" && intent.ExternalPaymentID != nil {
			externalID = *intent.ExternalPaymentID
		}
		if _, err := s.ConfirmDeposit(ctx, intent.ID, externalID); err != nil {
			return nil, err
		}
	default:
		if _, err := s.fail(ctx, intent.ID, target, false); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, intent.ID)
}

// Expire moves a PENDING intent whose deadline has passed to EXPIRED.
func (s *PaymentIntentServiceImpl) Expire(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	if _, err := s.fail(ctx, intentID, domain.IntentStatusExpired, true); err != nil {
		return nil, err
	}
	return s.Get(ctx, intentID)
}

// ExpireDue expires up to limit overdue intents and reports how many moved.
// A failure on one intent is logged and does not stop the batch.
func (s *PaymentIntentServiceImpl) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	due, err := s.store.PaymentIntents().ListExpired(ctx, now, limit)
	if err != nil {
		return 0, classify("list expired intents", err)
	}

	expired := 0
	for _, intent := range due {
		applied, err := s.fail(ctx, intent.ID, domain.IntentStatusExpired, false)
		if err != nil {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			s.log.Error().Err(err).Str("intent_id", intent.ID.String()).Msg("failed to expire intent")
			continue
		}
		if applied {
			expired++
		}
	}
	if expired > 0 {
		s.log.Info().Int("expired", expired).Msg("expired overdue deposit intents")
	}
	return expired, nil
}

func (s *PaymentIntentServiceImpl) Get(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.store.PaymentIntents().GetByID(ctx, intentID)
	if err != nil {
		return nil, classify("get payment intent", err)
	}
	if intent == nil {
		return nil, apperror.ErrNotFound("payment intent")
	}
	return intent, nil
}

// fail moves a PENDING intent to FAILED or EXPIRED. It reports whether a
// transition was written; a repeated failure is a no-op.
func (s *PaymentIntentServiceImpl) fail(ctx context.Context, intentID uuid.UUID, to domain.IntentStatus, requireDeadline bool) (bool, error) {
	applied := false
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		intent, err := s.load(ctx, tx, intentID)
		if err != nil {
			return err
		}

		switch intent.FailTransition(to) {
		case domain.TransitionNoop:
			return nil
		case domain.TransitionInvalid:
			return apperror.ErrInvalidTransition("payment intent", string(intent.Status), string(to))
		}
		if requireDeadline && !intent.IsExpiredAt(s.clock.Now()) {
			return apperror.Validation("payment intent has not reached its expiry")
		}

		ok, err := tx.PaymentIntents().Transition(ctx, intentID, to, nil, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			latest, err := s.load(ctx, tx, intentID)
			if err != nil {
				return err
			}
			if latest.FailTransition(to) == domain.TransitionNoop {
				return nil
			}
			return apperror.ErrInvalidTransition("payment intent", string(latest.Status), string(to))
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, classify("fail payment intent", err)
	}

	if applied {
		s.metrics.IntentTransitioned(to)
		s.log.Info().Str("intent_id", intentID.String()).Str("status", string(to)).Msg("deposit intent closed")
	}
	return applied, nil
}

func (s *PaymentIntentServiceImpl) load(ctx context.Context, tx ports.Store, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := tx.PaymentIntents().GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, apperror.ErrNotFound("payment intent")
	}
	return intent, nil
}

func (s *PaymentIntentServiceImpl) logReplay(intent *domain.PaymentIntent, externalPaymentID string) {
	if intent.ExternalPaymentID != nil && *intent.ExternalPaymentID != externalPaymentID {
		s.log.Warn().
			Str("intent_id", intent.ID.String()).
			Str("stored_external_payment_id", *intent.ExternalPaymentID).
			Str("external_payment_id", externalPaymentID).
			Msg("confirmation replayed with a different external payment id, keeping stored confirmation")
	}
}

// replay returns existing when it was created by the same request, and a
// conflict when the key was used for something else.
func (s *PaymentIntentServiceImpl) replay(ctx context.Context, existing *domain.PaymentIntent, req ports.CreateDepositRequest) (*domain.PaymentIntent, error) {
	if existing.UserID != req.UserID ||
		existing.Amount != req.Amount.Minor ||
		existing.Currency != req.Amount.Currency {
		return nil, apperror.ErrConflict("idempotency key already used with different parameters")
	}
	s.remember(ctx, existing)
	return existing, nil
}

func (s *PaymentIntentServiceImpl) fromCache(ctx context.Context, req ports.CreateDepositRequest) (*domain.PaymentIntent, error) {
	if s.cache == nil {
		return nil, nil
	}
	rec, err := s.cache.Lookup(ctx, domain.ScopeDepositIntent, req.IdempotencyKey)
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

	intent, err := s.store.PaymentIntents().GetByID(ctx, rec.ResourceID)
	if err != nil {
		return nil, classify("get payment intent", err)
	}
	// A stale entry falls through to the storage lookup.
	return intent, nil
}

func (s *PaymentIntentServiceImpl) remember(ctx context.Context, intent *domain.PaymentIntent) {
	if s.cache == nil {
		return
	}
	rec := domain.IdempotencyRecord{
		Key:        intent.IdempotencyKey,
		Scope:      domain.ScopeDepositIntent,
		ResourceID: intent.ID,
		UserID:     intent.UserID,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
		CreatedAt:  intent.CreatedAt,
	}
	if err := s.cache.Remember(ctx, rec, s.opts.CacheTTL); err != nil {
		s.log.Warn().Err(err).Str("key", intent.IdempotencyKey).Msg("failed to cache idempotency record")
	}
}
