package service

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/shopspring/decimal"
)

// notification is the provider-neutral payload a provider adapter hands in.
type notification struct {
	Type              string           `json:"type"`
	Action            string           `json:"action"`
	Data              notificationData `json:"data"`
	Status            string           `json:"status"`
	StatusDetail      string           `json:"status_detail"`
	ExternalReference string           `json:"external_reference"`
	TransactionAmount *decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string           `json:"currency_id"`
	PaymentMethodID   string           `json:"payment_method_id"`
}

type notificationData struct {
	ID json.RawMessage `json:"id"`
}

// paymentID returns data.id whether the provider sent it as a number or a string.
func (n notification) paymentID() (string, error) {
	raw := bytes.TrimSpace(n.Data.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", err
	}
	return num.String(), nil
}

func (n notification) eventType() string {
	if n.Action != "" {
		return n.Action
	}
	return n.Type
}

// ReconcilerServiceImpl implements ports.ReconcilerService.
type ReconcilerServiceImpl struct {
	store       ports.Store
	orders      ports.OrderService
	intents     ports.PaymentIntentService
	withdrawals ports.WithdrawalService
	signatures  ports.SignatureService
	secrets     map[string]string // provider -> webhook secret
	metrics     ports.Metrics
	clock       clock.Clock
	log         zerolog.Logger
}

func NewReconcilerService(
	store ports.Store,
	orders ports.OrderService,
	intents ports.PaymentIntentService,
	withdrawals ports.WithdrawalService,
	signatures ports.SignatureService,
	secrets map[string]string,
	metrics ports.Metrics,
	clk clock.Clock,
	log zerolog.Logger,
) *ReconcilerServiceImpl {
	normalized := make(map[string]string, len(secrets))
	for provider, secret := range secrets {
		normalized[strings.ToLower(strings.TrimSpace(provider))] = secret
	}
	return &ReconcilerServiceImpl{
		store:       store,
		orders:      orders,
		intents:     intents,
		withdrawals: withdrawals,
		signatures:  signatures,
		secrets:     normalized,
		metrics:     metricsOrNop(metrics),
		clock:       clk,
		log:         log,
	}
}

// HandleWebhook verifies, parses and applies one provider notification. Every
// call leaves a WebhookEvent row behind, whatever the outcome.
func (s *ReconcilerServiceImpl) HandleWebhook(ctx context.Context, in ports.WebhookInput) (result *ports.WebhookResult, err error) {
	start := s.clock.Now()
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	event := &domain.WebhookEvent{
		ID:         uuid.New(),
		Provider:   provider,
		RawPayload: string(in.Payload),
		Headers:    in.Headers,
		Outcome:    domain.WebhookOutcomeFailed,
		CreatedAt:  start,
	}
	log := s.log.With().Str("provider", provider).Str("event_id", event.ID.String()).Logger()

	defer func() {
		if err != nil {
			msg := err.Error()
			event.Error = &msg
		}
		s.audit(ctx, event, log)
		s.metrics.WebhookHandled(provider, event.Outcome, s.clock.Now().Sub(start))
		if err == nil {
			result.EventID = event.ID
			result.Outcome = event.Outcome
		}
	}()

	if in.ReadErr != nil {
		event.Outcome = domain.WebhookOutcomeMalformed
		log.Warn().Err(in.ReadErr).Int("bytes_read", len(in.Payload)).Msg("webhook rejected: unreadable body")
		if apperror.As(in.ReadErr) != nil {
			return nil, in.ReadErr
		}
		return nil, apperror.ErrMalformedPayload(in.ReadErr)
	}

	// (1) + (2) signature
	secret, known := s.secrets[provider]
	if !known {
		event.Outcome = domain.WebhookOutcomeSignatureRejected
		return nil, apperror.ErrUnknownProvider(provider)
	}
	signature, found := domain.ExtractSignature(in.Headers)
	if !found {
		event.Outcome = domain.WebhookOutcomeSignatureRejected
		log.Warn().Msg("webhook rejected: no signature header")
		return nil, apperror.ErrSignatureMissing()
	}
	if !s.signatures.Verify(secret, string(in.Payload), signature) {
		event.Outcome = domain.WebhookOutcomeSignatureRejected
		log.Warn().Msg("webhook rejected: signature mismatch")
		return nil, apperror.ErrSignatureInvalid()
	}
	event.SignatureValid = true

	// (3) parse
	var n notification
	if err := json.Unmarshal(in.Payload, &n); err != nil {
		event.Outcome = domain.WebhookOutcomeMalformed
		return nil, apperror.ErrMalformedPayload(err)
	}
	event.EventType = n.eventType()
	paymentID, err := n.paymentID()
	if err != nil {
		event.Outcome = domain.WebhookOutcomeMalformed
		return nil, apperror.ErrMalformedPayload(fmt.Errorf("data.id: %w", err))
	}
	event.ProviderPaymentID = optionalString(paymentID)
	if paymentID == "" && strings.TrimSpace(n.ExternalReference) == "" {
		event.Outcome = domain.WebhookOutcomeMalformed
		return nil, apperror.ErrMalformedPayload(errors.New("neither data.id nor external_reference present"))
	}

	// (4) lookup
	order, err := s.findOrder(ctx, provider, paymentID, n.ExternalReference)
	if err != nil {
		return nil, classify("find order", err)
	}
	if order == nil {
		event.Outcome = domain.WebhookOutcomeUnmatched
		log.Warn().
			Str("provider_payment_id", paymentID).
			Str("external_reference", n.ExternalReference).
			Msg("webhook matched no order")
		return &ports.WebhookResult{}, nil
	}
	log = log.With().Str("order_id", order.ID.String()).Logger()

	target, mapped := domain.MapProviderStatus(n.Status)
	if !mapped {
		event.Outcome = domain.WebhookOutcomeUnknownStatus
		log.Warn().Str("status", n.Status).Msg("unrecognized provider status, keeping current state")
		return &ports.WebhookResult{Order: order}, nil
	}

	// (5) apply
	var updated *domain.Order
	outcome := domain.WebhookOutcomeIgnored
	err = s.store.Apply(ctx, func(ctx context.Context, tx ports.Store) error {
		if order.ProviderPaymentIDText == nil && paymentID != "" {
			numeric, text := providerPaymentIDs(paymentID)
			if _, err := s.orders.CreateOrUpdate(ctx, ports.UpsertOrderRequest{
				ExternalOrderID:       order.ExternalOrderID,
				Kind:                  order.Kind,
				Amount:                order.Amount,
				Currency:              order.Currency,
				Provider:              order.Provider,
				ProviderPaymentID:     numeric,
				ProviderPaymentIDText: text,
				Status:                order.Status,
				PaymentMethod:         optionalString(n.PaymentMethodID),
			}); err != nil {
				return err
			}
		}

		update, err := s.orders.UpdateStatus(ctx, order.ID, target, n.StatusDetail)
		if err != nil {
			return err
		}
		updated = update.Order

		switch update.Outcome {
		case domain.StatusApplied:
			outcome = domain.WebhookOutcomeApplied
		case domain.StatusDetailOnly:
			outcome = domain.WebhookOutcomeDetailRefreshed
		}

		switch {
		case updated.Status == domain.OrderStatusApproved && !updated.Credited:
			credited, err := tx.Orders().MarkCredited(ctx, updated.ID, s.clock.Now())
			if err != nil {
				return err
			}
			if !credited {
				return nil
			}
			if err := s.settle(ctx, updated, n, paymentID); err != nil {
				return err
			}
			updated.Credited = true
			outcome = domain.WebhookOutcomeCredited
		case updated.Status == domain.OrderStatusRejected && update.Outcome == domain.StatusApplied:
			return s.release(ctx, updated, n, paymentID, log)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("webhook could not be applied")
		return nil, classify("apply webhook", err)
	}

	event.Outcome = outcome
	log.Info().
		Str("status", string(updated.Status)).
		Str("outcome", string(outcome)).
		Msg("webhook reconciled")
	return &ports.WebhookResult{Order: updated}, nil
}

// settle runs the owning manager's completion for an order that just became
// approved: the deposit is confirmed or the withdrawal marked paid.
func (s *ReconcilerServiceImpl) settle(ctx context.Context, order *domain.Order, n notification, paymentID string) error {
	ownerID, err := uuid.Parse(order.ExternalOrderID)
	if err != nil {
		return apperror.Validation(fmt.Sprintf("order %s has no internal owner", order.ID))
	}
	if paymentID == "" && order.ProviderPaymentIDText != nil {
		paymentID = *order.ProviderPaymentIDText
	}

	switch order.Kind {
	case domain.OrderKindWithdrawal:
		_, err = s.withdrawals.MarkPaid(ctx, ownerID, paymentID)
		return err
	default:
		amount, err := reportedAmount(n, order.Currency)
		if err != nil {
			return err
		}
		_, err = s.intents.SyncStatus(ctx, ports.SyncStatusRequest{
			IntentID:             ownerID,
			ProviderStatus:       n.Status,
			ProviderStatusDetail: n.StatusDetail,
			ProviderPaymentID:    paymentID,
			ProviderAmount:       amount,
		})
		return err
	}
}

// release closes the owning deposit intent when the provider rejected it. A
// rejected payout keeps its withdrawal APPROVED: the debit stands until an
// operator books a reversal.
func (s *ReconcilerServiceImpl) release(ctx context.Context, order *domain.Order, n notification, paymentID string, log zerolog.Logger) error {
	ownerID, err := uuid.Parse(order.ExternalOrderID)
	if err != nil {
		return apperror.Validation(fmt.Sprintf("order %s has no internal owner", order.ID))
	}
	if order.Kind == domain.OrderKindWithdrawal {
		log.Warn().Str("withdrawal_id", ownerID.String()).Msg("provider rejected payout of approved withdrawal")
		return nil
	}
	_, err = s.intents.SyncStatus(ctx, ports.SyncStatusRequest{
		IntentID:             ownerID,
		ProviderStatus:       n.Status,
		ProviderStatusDetail: n.StatusDetail,
		ProviderPaymentID:    paymentID,
	})
	return err
}

// findOrder matches by provider payment id first. When the notification also
// names an external reference, the reference wins over a disagreeing match.
func (s *ReconcilerServiceImpl) findOrder(ctx context.Context, provider, paymentID, externalReference string) (*domain.Order, error) {
	ref := strings.TrimSpace(externalReference)
	if paymentID != "" {
		order, err := s.store.Orders().GetByProviderPaymentID(ctx, provider, paymentID)
		if err != nil {
			return nil, err
		}
		if order != nil && (ref == "" || order.ExternalOrderID == ref) {
			return order, nil
		}
	}
	if ref == "" {
		return nil, nil
	}
	order, err := s.store.Orders().GetByExternalOrderID(ctx, ref)
	if err != nil || order == nil {
		return nil, err
	}
	if !strings.EqualFold(order.Provider, provider) {
		return nil, nil
	}
	if paymentID != "" && order.ProviderPaymentIDText != nil && *order.ProviderPaymentIDText != paymentID {
		return nil, nil
	}
	return order, nil
}

// audit writes the event outside any unit of work so a rolled back
// reconciliation still leaves its trace.
func (s *ReconcilerServiceImpl) audit(ctx context.Context, event *domain.WebhookEvent, log zerolog.Logger) {
	if err := s.store.WebhookEvents().Insert(context.WithoutCancel(ctx), event); err != nil {
		log.Error().Err(err).Str("outcome", string(event.Outcome)).Msg("failed to persist webhook event")
	}
}

func reportedAmount(n notification, fallbackCurrency string) (*money.Money, error) {
	if n.TransactionAmount == nil {
		return nil, nil
	}
	currency := n.CurrencyID
	if currency == "" {
		currency = fallbackCurrency
	}
	m, err := money.FromDecimal(*n.TransactionAmount, currency)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("transaction_amount: %v", err))
	}
	return &m, nil
}
