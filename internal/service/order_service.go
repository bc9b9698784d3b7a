package service

import (
	"context"
	"strings"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/clock"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxStatusAttempts bounds how often a status write is re-evaluated after a
// concurrent writer moved the order first.
const maxStatusAttempts = 3

// OrderServiceImpl implements ports.OrderService.
type OrderServiceImpl struct {
	store ports.Store
	clock clock.Clock
	log   zerolog.Logger
}

func NewOrderService(store ports.Store, clk clock.Clock, log zerolog.Logger) *OrderServiceImpl {
	return &OrderServiceImpl{store: store, clock: clk, log: log}
}

// CreateOrUpdate upserts the mirror keyed by ExternalOrderID. Descriptive fields
// are refreshed; status only moves forward in priority.
func (s *OrderServiceImpl) CreateOrUpdate(ctx context.Context, req ports.UpsertOrderRequest) (*domain.Order, error) {
	if err := validateUpsert(&req); err != nil {
		return nil, err
	}

	var order *domain.Order
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		existing, err := tx.Orders().GetByExternalOrderID(ctx, req.ExternalOrderID)
		if err != nil {
			return err
		}
		now := s.clock.Now()

		if existing == nil {
			order = &domain.Order{
				ID:                    uuid.New(),
				ExternalOrderID:       req.ExternalOrderID,
				Kind:                  req.Kind,
				Amount:                req.Amount,
				Currency:              req.Currency,
				Provider:              req.Provider,
				ProviderPaymentID:     req.ProviderPaymentID,
				ProviderPaymentIDText: req.ProviderPaymentIDText,
				Status:                req.Status,
				StatusDetail:          req.StatusDetail,
				PaymentMethod:         req.PaymentMethod,
				ExpiresAt:             req.ExpiresAt,
				CreatedAt:             now,
				UpdatedAt:             now,
			}
			return tx.Orders().Insert(ctx, order)
		}

		refreshed := *existing
		refreshed.Amount = req.Amount
		refreshed.Currency = req.Currency
		refreshed.Provider = req.Provider
		if req.ProviderPaymentIDText != nil {
			refreshed.ProviderPaymentID = req.ProviderPaymentID
			refreshed.ProviderPaymentIDText = req.ProviderPaymentIDText
		}
		if req.PaymentMethod != nil {
			refreshed.PaymentMethod = req.PaymentMethod
		}
		if req.ExpiresAt != nil {
			refreshed.ExpiresAt = req.ExpiresAt
		}
		refreshed.UpdatedAt = now
		if err := tx.Orders().Refresh(ctx, &refreshed); err != nil {
			return err
		}

		update, err := s.applyStatus(ctx, tx, existing.ID, req.Status, req.StatusDetail)
		if err != nil {
			return err
		}
		order = update.Order
		return nil
	})
	if err != nil {
		return nil, classify("upsert order", err)
	}
	return order, nil
}

// UpdateStatus applies the priority rule to one order.
func (s *OrderServiceImpl) UpdateStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, detail string) (*ports.OrderUpdate, error) {
	if !status.Valid() {
		return nil, apperror.Validation("unknown order status")
	}

	var update *ports.OrderUpdate
	err := s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		var err error
		update, err = s.applyStatus(ctx, tx, orderID, status, optionalString(detail))
		return err
	})
	if err != nil {
		return nil, classify("update order status", err)
	}
	return update, nil
}

// UpdateStatusByProviderID resolves the order by the provider's payment id first.
func (s *OrderServiceImpl) UpdateStatusByProviderID(ctx context.Context, provider, providerPaymentID string, status domain.OrderStatus, detail string) (*ports.OrderUpdate, error) {
	if strings.TrimSpace(providerPaymentID) == "" {
		return nil, apperror.Validation("provider payment id is required")
	}
	order, err := s.store.Orders().GetByProviderPaymentID(ctx, strings.ToLower(provider), strings.TrimSpace(providerPaymentID))
	if err != nil {
		return nil, classify("get order", err)
	}
	if order == nil {
		return nil, apperror.ErrNotFound("order")
	}
	return s.UpdateStatus(ctx, order.ID, status, detail)
}

// applyStatus runs inside a unit of work. The write is a compare-and-set on
// the status that was read, so a lost race is re-read and re-evaluated.
func (s *OrderServiceImpl) applyStatus(ctx context.Context, tx ports.Store, orderID uuid.UUID, next domain.OrderStatus, detail *string) (*ports.OrderUpdate, error) {
	for attempt := 0; attempt < maxStatusAttempts; attempt++ {
		current, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, apperror.ErrNotFound("order")
		}

		outcome := domain.EvaluateStatusUpdate(current.Status, next)
		now := s.clock.Now()

		switch outcome {
		case domain.StatusApplied:
			ok, err := tx.Orders().UpdateStatus(ctx, orderID, current.Status, next, detail, now)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		case domain.StatusDetailOnly:
			if detail != nil {
				if err := tx.Orders().UpdateDetail(ctx, orderID, detail, now); err != nil {
					return nil, err
				}
			}
		case domain.StatusIgnored:
			s.log.Info().
				Str("order_id", orderID.String()).
				Str("current", string(current.Status)).
				Str("requested", string(next)).
				Msg("order status update ignored by priority")
		}

		stored, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return &ports.OrderUpdate{Order: stored, Previous: current.Status, Outcome: outcome}, nil
	}
	return nil, apperror.ErrConflict("order status changed concurrently")
}

func validateUpsert(req *ports.UpsertOrderRequest) error {
	req.ExternalOrderID = strings.TrimSpace(req.ExternalOrderID)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Currency = money.NormalizeCurrency(req.Currency)
	if req.Status == "" {
		req.Status = domain.OrderStatusCreated
	}

	switch {
	case req.ExternalOrderID == "":
		return apperror.Validation("external order id is required")
	case req.Kind != domain.OrderKindDeposit && req.Kind != domain.OrderKindWithdrawal:
		return apperror.Validation("order kind must be deposit or withdrawal")
	case req.Amount <= 0:
		return apperror.ErrInvalidAmount()
	case !money.ValidCurrency(req.Currency):
		return apperror.Validation("currency must be a 3 to 5 letter code")
	case req.Provider == "":
		return apperror.Validation("provider is required")
	case !req.Status.Valid():
		return apperror.Validation("unknown order status")
	}
	return nil
}
