package service

import (
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/internal/core/ports/mocks"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type ReconcilerSuite struct {
	custodySuite
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func paymentNotification(id any, status, amount, currency, externalRef string) []byte {
	body := map[string]any{
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]any{"id": id},
		"status": status,
	}
	if amount != "" {
		body["transaction_amount"] = json.Number(amount)
	}
	if currency != "" {
		body["currency_id"] = currency
	}
	if externalRef != "" {
		body["external_reference"] = externalRef
	}
	payload, _ := json.Marshal(body)
	return payload
}

func (s *ReconcilerSuite) deliver(payload []byte) (*ports.WebhookResult, error) {
	sig := s.signer.Sign(testWebhookSecret, string(payload))
	return s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{
		Provider: "MercadoPago",
		Payload:  payload,
		Headers:  "content-type:application/json;x-signature:" + sig,
	})
}

// handedOffIntent creates a deposit intent already handed to the provider as ppid.
func (s *ReconcilerSuite) handedOffIntent(amount int64, ppid string) *domain.PaymentIntent {
	intent, err := s.intents.CreateDepositIntent(s.ctx, ports.CreateDepositRequest{
		UserID:         s.userID,
		Amount:         money.New(amount, "USD"),
		Provider:       "mercadopago",
		IdempotencyKey: "dep-" + ppid,
	})
	s.Require().NoError(err)
	_, err = s.intents.HandOff(s.ctx, intent.ID, ports.HandOffRequest{ProviderPaymentID: ppid})
	s.Require().NoError(err)
	return intent
}

func (s *ReconcilerSuite) events(ppid string) []domain.WebhookEvent {
	events, err := s.store.WebhookEvents().ListByProviderPaymentID(s.ctx, "mercadopago", ppid)
	s.Require().NoError(err)
	return events
}

// countEventWrites counts audit inserts that reach the store.
func (s *ReconcilerSuite) countEventWrites() *int {
	var (
		mu     sync.Mutex
		writes int
	)
	s.store.SetFaultHook(func(op string) error {
		if op == "webhook_events.insert" {
			mu.Lock()
			writes++
			mu.Unlock()
		}
		return nil
	})
	return &writes
}

func (s *ReconcilerSuite) TestApprovedDepositCredits() {
	intent := s.handedOffIntent(10000, "123456")

	res, err := s.deliver(paymentNotification(123456, "approved", "100.00", "USD", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)
	s.NotEqual(uuid.Nil, res.EventID)
	s.Require().NotNil(res.Order)
	s.Equal(domain.OrderStatusApproved, res.Order.Status)
	s.True(res.Order.Credited)

	stored, err := s.intents.Get(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusConfirmed, stored.Status)
	s.Equal(int64(10000), s.balance("USD"))

	events := s.events("123456")
	s.Require().Len(events, 1)
	s.Equal(res.EventID, events[0].ID)
	s.True(events[0].SignatureValid)
	s.Equal(domain.WebhookOutcomeCredited, events[0].Outcome)
	s.Equal("payment.updated", events[0].EventType)
	s.Nil(events[0].Error)
}

func (s *ReconcilerSuite) TestDuplicateDeliveryCreditsOnce() {
	s.handedOffIntent(10000, "123456")
	payload := paymentNotification("123456", "approved", "100", "USD", "")

	first, err := s.deliver(payload)
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, first.Outcome)

	second, err := s.deliver(payload)
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeDetailRefreshed, second.Outcome)

	s.Equal(int64(10000), s.balance("USD"))
	s.Equal(1, s.entryCount("USD"))
	s.Len(s.events("123456"), 2)
}

func (s *ReconcilerSuite) TestConcurrentDeliveriesCreditOnce() {
	s.handedOffIntent(10000, "123456")
	payload := paymentNotification(123456, "approved", "100.00", "USD", "")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.deliver(payload)
			if err == nil && res.Outcome == domain.WebhookOutcomeCredited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, credited)
	s.Equal(int64(10000), s.balance("USD"))
	s.Equal(1, s.entryCount("USD"))
	s.Len(s.events("123456"), 12)
}

func (s *ReconcilerSuite) TestStatusNeverRegresses() {
	s.handedOffIntent(10000, "42")

	res, err := s.deliver(paymentNotification(42, "approved", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)

	res, err = s.deliver(paymentNotification(42, "in_process", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeIgnored, res.Outcome)
	s.Equal(domain.OrderStatusApproved, res.Order.Status)

	res, err = s.deliver(paymentNotification(42, "rejected", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeIgnored, res.Outcome)
	s.Equal(domain.OrderStatusApproved, res.Order.Status)
	s.Equal(int64(10000), s.balance("USD"))
}

func (s *ReconcilerSuite) TestPendingThenApproved() {
	intent := s.handedOffIntent(2500, "77")

	res, err := s.deliver(paymentNotification(77, "in_process", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeDetailRefreshed, res.Outcome)

	res, err = s.deliver(paymentNotification(77, "approved", "25.00", "USD", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)

	stored, err := s.intents.Get(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusConfirmed, stored.Status)
	s.Require().NotNil(stored.ExternalPaymentID)
	s.Equal("77", *stored.ExternalPaymentID)
}

func (s *ReconcilerSuite) TestRejectedDepositFailsIntent() {
	intent := s.handedOffIntent(10000, "9")

	res, err := s.deliver(paymentNotification(9, "rejected", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeApplied, res.Outcome)
	s.Equal(domain.OrderStatusRejected, res.Order.Status)

	stored, err := s.intents.Get(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusFailed, stored.Status)
	s.Equal(int64(0), s.balance("USD"))

	expired := s.handedOffIntent(10000, "10")
	_, err = s.deliver(paymentNotification(10, "expired", "", "", ""))
	s.Require().NoError(err)
	stored, err = s.intents.Get(s.ctx, expired.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusExpired, stored.Status)
}

func (s *ReconcilerSuite) TestAmountMismatchRollsBack() {
	intent := s.handedOffIntent(10000, "555")

	_, err := s.deliver(paymentNotification(555, "approved", "90.00", "USD", ""))
	s.requireCode(err, apperror.CodeAmountMismatch)

	order, err := s.store.Orders().GetByProviderPaymentID(s.ctx, "mercadopago", "555")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPending, order.Status)
	s.False(order.Credited)

	stored, err := s.intents.Get(s.ctx, intent.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusPending, stored.Status)
	s.Equal(int64(0), s.balance("USD"))

	events := s.events("555")
	s.Require().Len(events, 1)
	s.Equal(domain.WebhookOutcomeFailed, events[0].Outcome)
	s.Require().NotNil(events[0].Error)
	s.Contains(*events[0].Error, "amount_mismatch")
}

func (s *ReconcilerSuite) TestMatchesByExternalReference() {
	intent, err := s.intents.CreateDepositIntent(s.ctx, ports.CreateDepositRequest{
		UserID:         s.userID,
		Amount:         money.New(700, "USD"),
		Provider:       "mercadopago",
		IdempotencyKey: "checkout-1",
	})
	s.Require().NoError(err)
	_, err = s.orders.CreateOrUpdate(s.ctx, ports.UpsertOrderRequest{
		ExternalOrderID: intent.ID.String(),
		Kind:            domain.OrderKindDeposit,
		Amount:          700,
		Currency:        "USD",
		Provider:        "mercadopago",
		Status:          domain.OrderStatusPending,
	})
	s.Require().NoError(err)

	res, err := s.deliver(paymentNotification("pay_abc", "approved", "7", "USD", intent.ID.String()))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)

	order, err := s.store.Orders().GetByProviderPaymentID(s.ctx, "mercadopago", "pay_abc")
	s.Require().NoError(err)
	s.Require().NotNil(order)
	s.Nil(order.ProviderPaymentID)
	s.Equal(int64(700), s.balance("USD"))
}

func (s *ReconcilerSuite) TestExternalReferenceOverridesForeignMatch() {
	victim := s.handedOffIntent(10000, "777")

	thiefID := uuid.New()
	thief, err := s.intents.CreateDepositIntent(s.ctx, ports.CreateDepositRequest{
		UserID:         thiefID,
		Amount:         money.New(10000, "USD"),
		Provider:       "mercadopago",
		IdempotencyKey: "dep-thief",
	})
	s.Require().NoError(err)
	ppid := int64(777)
	text := "777"
	_, err = s.orders.CreateOrUpdate(s.ctx, ports.UpsertOrderRequest{
		ExternalOrderID:       thief.ID.String(),
		Kind:                  domain.OrderKindDeposit,
		Amount:                10000,
		Currency:              "USD",
		Provider:              "mercadopago",
		ProviderPaymentID:     &ppid,
		ProviderPaymentIDText: &text,
		Status:                domain.OrderStatusPending,
	})
	s.Require().NoError(err)

	res, err := s.deliver(paymentNotification(777, "approved", "100.00", "USD", victim.ID.String()))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)
	s.Require().NotNil(res.Order)
	s.Equal(victim.ID.String(), res.Order.ExternalOrderID)

	stored, err := s.intents.Get(s.ctx, victim.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusConfirmed, stored.Status)
	s.Equal(int64(10000), s.balance("USD"))

	untouched, err := s.intents.Get(s.ctx, thief.ID)
	s.Require().NoError(err)
	s.Equal(domain.IntentStatusPending, untouched.Status)
	b, err := s.ledger.BalanceFor(s.ctx, thiefID, "USD")
	s.Require().NoError(err)
	s.Equal(int64(0), b.Balance.Minor)
}

func (s *ReconcilerSuite) TestExternalReferenceWithOtherPaymentIDIsUnmatched() {
	s.handedOffIntent(10000, "800")
	other := s.handedOffIntent(10000, "801")

	res, err := s.deliver(paymentNotification(800, "approved", "100.00", "USD", other.ID.String()))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeUnmatched, res.Outcome)
	s.Equal(int64(0), s.balance("USD"))
}

func (s *ReconcilerSuite) TestWithdrawalPayoutMarksPaid() {
	s.deposit(5000, "USD", "ext-1")
	w, err := s.requestWithdrawal(5000, "USD")
	s.Require().NoError(err)
	_, err = s.withdrawals.Approve(s.ctx, s.operator, w.ID, "")
	s.Require().NoError(err)
	_, err = s.withdrawals.RecordPayout(s.ctx, w.ID, ports.PayoutRequest{Provider: "mercadopago", ProviderPaymentID: "tr-9"})
	s.Require().NoError(err)

	res, err := s.deliver(paymentNotification("tr-9", "paid", "50.00", "USD", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)

	paid, err := s.withdrawals.Get(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(domain.WithdrawalStatusPaid, paid.Status)
	s.Equal(int64(0), s.balance("USD"))
	s.Equal(2, s.entryCount("USD"))
}

func (s *ReconcilerSuite) TestRejectedPayoutKeepsDebit() {
	s.deposit(5000, "USD", "ext-1")
	w, err := s.requestWithdrawal(5000, "USD")
	s.Require().NoError(err)
	_, err = s.withdrawals.Approve(s.ctx, s.operator, w.ID, "")
	s.Require().NoError(err)
	_, err = s.withdrawals.RecordPayout(s.ctx, w.ID, ports.PayoutRequest{Provider: "mercadopago", ProviderPaymentID: "tr-10"})
	s.Require().NoError(err)

	res, err := s.deliver(paymentNotification("tr-10", "rejected", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeApplied, res.Outcome)

	stored, err := s.withdrawals.Get(s.ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(domain.WithdrawalStatusApproved, stored.Status)
	s.Equal(int64(0), s.balance("USD"))
}

func (s *ReconcilerSuite) TestUnmatchedIsAcknowledged() {
	res, err := s.deliver(paymentNotification(31337, "approved", "", "", "nobody"))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeUnmatched, res.Outcome)
	s.Nil(res.Order)

	events := s.events("31337")
	s.Require().Len(events, 1)
	s.Equal(domain.WebhookOutcomeUnmatched, events[0].Outcome)
}

func (s *ReconcilerSuite) TestUnknownStatusKeepsState() {
	s.handedOffIntent(10000, "88")

	res, err := s.deliver(paymentNotification(88, "charged_back", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeUnknownStatus, res.Outcome)
	s.Equal(domain.OrderStatusPending, res.Order.Status)
	s.Equal(int64(0), s.balance("USD"))
}

func (s *ReconcilerSuite) TestSignatureRejected() {
	s.handedOffIntent(10000, "1")
	payload := paymentNotification(1, "approved", "", "", "")
	writes := s.countEventWrites()

	_, err := s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{Provider: "mercadopago", Payload: payload})
	s.requireCode(err, apperror.CodeSignatureMissing)

	_, err = s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{
		Provider: "mercadopago",
		Payload:  payload,
		Headers:  "x-signature:" + s.signer.Sign("wrong-secret", string(payload)),
	})
	s.requireCode(err, apperror.CodeSignatureInvalid)

	s.Equal(2, *writes)
	s.Equal(int64(0), s.balance("USD"))
}

func (s *ReconcilerSuite) TestUnreadableBodyIsAudited() {
	writes := s.countEventWrites()

	tooLarge := apperror.New(apperror.CodeMalformedPayload, "payload too large", 413)
	_, err := s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{
		Provider: "mercadopago",
		Payload:  []byte(`{"data":{"id":`),
		ReadErr:  tooLarge,
	})
	s.Require().ErrorIs(err, tooLarge)

	_, err = s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{
		Provider: "mercadopago",
		ReadErr:  errors.New("connection reset"),
	})
	s.requireCode(err, apperror.CodeMalformedPayload)
	s.Equal(400, apperror.As(err).HTTPStatus)

	s.Equal(2, *writes)
}

func (s *ReconcilerSuite) TestTimestampedSignature() {
	s.handedOffIntent(10000, "2")
	payload := paymentNotification(2, "approved", "", "", "")
	ts := strconv.FormatInt(testEpoch.Unix(), 10)
	sig := s.signer.Sign(testWebhookSecret, ts+"."+string(payload))

	res, err := s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{
		Provider: "mercadopago",
		Payload:  payload,
		Headers:  "x-request-id:abc;x-signature:ts=" + ts + ",v1=" + sig,
	})
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)
}

func (s *ReconcilerSuite) TestUnknownProvider() {
	writes := s.countEventWrites()
	_, err := s.reconciler.HandleWebhook(s.ctx, ports.WebhookInput{Provider: "stripe", Payload: []byte(`{}`)})
	s.requireCode(err, apperror.CodeUnknownProvider)
	s.Equal(1, *writes)
}

func (s *ReconcilerSuite) TestMalformedPayload() {
	writes := s.countEventWrites()

	_, err := s.deliver([]byte(`{"data": {"id": 12`))
	s.requireCode(err, apperror.CodeMalformedPayload)

	_, err = s.deliver([]byte(`{"status": "approved"}`))
	s.requireCode(err, apperror.CodeMalformedPayload)

	_, err = s.deliver([]byte(`{"data": {"id": true}, "status": "approved"}`))
	s.requireCode(err, apperror.CodeMalformedPayload)

	s.Equal(3, *writes)
}

func (s *ReconcilerSuite) TestStorageFailureStillAudits() {
	s.handedOffIntent(10000, "66")
	s.failOn("orders.mark_credited")

	_, err := s.deliver(paymentNotification(66, "approved", "", "", ""))
	s.requireCode(err, apperror.CodePersistence)

	s.store.SetFaultHook(nil)
	order, err := s.store.Orders().GetByProviderPaymentID(s.ctx, "mercadopago", "66")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPending, order.Status)

	events := s.events("66")
	s.Require().Len(events, 1)
	s.Equal(domain.WebhookOutcomeFailed, events[0].Outcome)

	res, err := s.deliver(paymentNotification(66, "approved", "", "", ""))
	s.Require().NoError(err)
	s.Equal(domain.WebhookOutcomeCredited, res.Outcome)
	s.Equal(int64(10000), s.balance("USD"))
}

func TestReconcilerService_ReportsMetrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	f := newStoreWithAccount(t)
	log := zerolog.Nop()
	m := mocks.NewMockMetrics(ctrl)
	sig := mocks.NewMockSignatureService(ctrl)
	svc := NewReconcilerService(f.store, NewOrderService(f.store, f.clock, log), nil, nil, sig,
		map[string]string{"mercadopago": "s3cret"}, m, f.clock, log)

	payload := []byte(`{"data":{"id":1},"status":"approved"}`)
	sig.EXPECT().Verify("s3cret", string(payload), "deadbeef").Return(false)
	m.EXPECT().WebhookHandled("mercadopago", domain.WebhookOutcomeSignatureRejected, gomock.AssignableToTypeOf(time.Duration(0)))

	res, err := svc.HandleWebhook(f.ctx, ports.WebhookInput{
		Provider: "mercadopago",
		Payload:  payload,
		Headers:  "X-Signature: deadbeef",
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperror.IsCode(err, apperror.CodeSignatureInvalid))

	sig.EXPECT().Verify("s3cret", string(payload), "deadbeef").Return(true)
	m.EXPECT().WebhookHandled("mercadopago", domain.WebhookOutcomeUnmatched, gomock.Any())

	res, err = svc.HandleWebhook(f.ctx, ports.WebhookInput{
		Provider: "mercadopago",
		Payload:  payload,
		Headers:  "x-signature:deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookOutcomeUnmatched, res.Outcome)
}
