package postgres

import (
	"context"
	"testing"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountRepo_GetOrCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAccountRepo(mock)
	a := &domain.Account{ID: uuid.New(), UserID: uuid.New(), Currency: "BRL", CreatedAt: time.Now().UTC()}
	winner := uuid.New()

	mock.ExpectExec("INSERT INTO accounts .+ ON CONFLICT \\(user_id, currency\\) DO NOTHING").
		WithArgs(a.ID, a.UserID, a.Currency, a.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE user_id = \\$1 AND currency = \\$2").
		WithArgs(a.UserID, "BRL").
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "currency", "created_at"}).
			AddRow(winner, a.UserID, "BRL", a.CreatedAt))

	stored, err := repo.GetOrCreate(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, winner, stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_GetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	a, err := NewAccountRepo(mock).GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestAccountRepo_LockForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, userID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM accounts WHERE id = \\$1 FOR UPDATE").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "currency", "created_at"}).
			AddRow(id, userID, "USD", now))

	a, err := NewAccountRepo(mock).LockForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "USD", a.Currency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentIntentRepo_Transition(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"pending row moves", 1, true},
		{"already decided", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			id := uuid.New()
			ext := "mp-123"
			now := time.Now().UTC()

			mock.ExpectExec("UPDATE payment_intents .+ WHERE id = \\$1 AND status = 'PENDING'").
				WithArgs(id, domain.IntentStatusConfirmed, &ext, now).
				WillReturnResult(pgxmock.NewResult("UPDATE", tt.affected))

			ok, err := NewPaymentIntentRepo(mock).Transition(context.Background(), id, domain.IntentStatusConfirmed, &ext, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPaymentIntentRepo_ListExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	expires := now.Add(-time.Minute)
	p := domain.PaymentIntent{
		ID: uuid.New(), UserID: uuid.New(), AccountID: uuid.New(), Provider: "mercadopago",
		Amount: 10000, Currency: "BRL", Status: domain.IntentStatusPending,
		IdempotencyKey: "k1", ExpiresAt: &expires, CreatedAt: now, UpdatedAt: now,
	}
	cols := []string{"id", "user_id", "account_id", "provider", "amount", "currency", "status",
		"external_payment_id", "payment_method", "idempotency_key", "expires_at", "confirmed_at", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT .+ FROM payment_intents\\s+WHERE status = 'PENDING' AND expires_at IS NOT NULL").
		WithArgs(now, 50).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			p.ID, p.UserID, p.AccountID, p.Provider, p.Amount, p.Currency, p.Status,
			p.ExternalPaymentID, p.PaymentMethod, p.IdempotencyKey, p.ExpiresAt, p.ConfirmedAt,
			p.CreatedAt, p.UpdatedAt,
		))

	intents, err := NewPaymentIntentRepo(mock).ListExpired(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, p.ID, intents[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepo_SumByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWithdrawalRepo(mock)
	accountID := uuid.New()

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\)::BIGINT FROM withdrawals").
		WithArgs(accountID, []string{"REQUESTED"}).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(3000)))

	sum, err := repo.SumByStatus(context.Background(), accountID, []domain.WithdrawalStatus{domain.WithdrawalStatusRequested})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), sum)

	// No statuses means no query.
	sum, err = repo.SumByStatus(context.Background(), accountID, nil)
	require.NoError(t, err)
	assert.Zero(t, sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepo_Decide(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewWithdrawalRepo(mock)
	id, actor := uuid.New(), uuid.New()
	now := time.Now().UTC()
	notes := "kyc ok"

	mock.ExpectExec("UPDATE withdrawals\\s+SET status = 'APPROVED'").
		WithArgs(id, now, actor, &notes).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE withdrawals\\s+SET status = 'REJECTED'").
		WithArgs(id, now, actor, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.Decide(context.Background(), id, domain.WithdrawalStatusApproved, actor, &notes, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Decide(context.Background(), id, domain.WithdrawalStatusRejected, actor, nil, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Decide(context.Background(), id, domain.WithdrawalStatusPaid, actor, nil, now)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithdrawalRepo_MarkPaid(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	pid := "payout-9"

	mock.ExpectExec("UPDATE withdrawals\\s+SET status = 'PAID'").
		WithArgs(id, now, &pid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := NewWithdrawalRepo(mock).MarkPaid(context.Background(), id, &pid, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_UpdateStatusCompareAndSet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	now := time.Now().UTC()
	detail := "accredited"

	mock.ExpectExec("UPDATE orders\\s+SET status = \\$3").
		WithArgs(id, domain.OrderStatusPending, domain.OrderStatusApproved, &detail, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := NewOrderRepo(mock).UpdateStatus(context.Background(), id, domain.OrderStatusPending, domain.OrderStatusApproved, &detail, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepo_GetByProviderPaymentID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	numeric := int64(123456)
	text := "123456"
	o := domain.Order{
		ID: uuid.New(), ExternalOrderID: uuid.NewString(), Kind: domain.OrderKindDeposit,
		Amount: 10000, Currency: "BRL", Provider: "mercadopago",
		ProviderPaymentID: &numeric, ProviderPaymentIDText: &text,
		Status: domain.OrderStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	cols := []string{"id", "external_order_id", "kind", "amount", "currency", "provider",
		"provider_payment_id", "provider_payment_id_text", "status", "status_detail", "credited",
		"payment_method", "expires_at", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT .+ FROM orders\\s+WHERE lower\\(provider\\) = lower\\(\\$1\\)").
		WithArgs("MercadoPago", "123456").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(
			o.ID, o.ExternalOrderID, o.Kind, o.Amount, o.Currency, o.Provider,
			o.ProviderPaymentID, o.ProviderPaymentIDText, o.Status, o.StatusDetail, o.Credited,
			o.PaymentMethod, o.ExpiresAt, o.CreatedAt, o.UpdatedAt,
		))

	got, err := NewOrderRepo(mock).GetByProviderPaymentID(context.Background(), "MercadoPago", "123456")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, numeric, *got.ProviderPaymentID)
	assert.False(t, got.Credited)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookEventRepo_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	pid := "123"
	e := &domain.WebhookEvent{
		ID: uuid.New(), Provider: "mercadopago", EventType: "payment",
		RawPayload: `{"data":{"id":123}}`, Headers: "x-signature:abc",
		ProviderPaymentID: &pid, SignatureValid: true,
		Outcome: domain.WebhookOutcomeCredited, CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO webhook_events").
		WithArgs(e.ID, e.Provider, e.EventType, e.RawPayload, e.Headers,
			e.ProviderPaymentID, e.SignatureValid, e.Outcome, e.Error, e.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewWebhookEventRepo(mock).Insert(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}
