package service

import (
	"context"
	"testing"
	"time"

	"custody-ledger/internal/adapter/storage/memory"
	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
	"custody-ledger/pkg/clock"
	"custody-ledger/pkg/money"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

const testWebhookSecret = "whsec_test"

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// custodySuite wires every service against one in-memory store.
type custodySuite struct {
	suite.Suite

	ctx         context.Context
	store       *memory.Store
	clock       *clock.Fixed
	signer      *HMACSignatureService
	accounts    *AccountServiceImpl
	ledger      *LedgerServiceImpl
	orders      *OrderServiceImpl
	intents     *PaymentIntentServiceImpl
	withdrawals *WithdrawalServiceImpl
	reconciler  *ReconcilerServiceImpl

	userID   uuid.UUID
	operator domain.Identity
	manager  domain.Identity
}

func (s *custodySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.clock = clock.NewFixed(testEpoch)
	s.signer = NewHMACSignatureService()
	log := zerolog.Nop()

	hierarchy, err := domain.NewRoleHierarchy("operator", "manager")
	s.Require().NoError(err)

	s.accounts = NewAccountService(s.store, s.clock, log)
	s.ledger = NewLedgerService(s.store, nil, s.clock, log)
	s.orders = NewOrderService(s.store, s.clock, log)
	s.intents = NewPaymentIntentService(s.store, s.accounts, s.ledger, s.orders, nil,
		IntentOptions{DefaultTTL: 30 * time.Minute}, nil, s.clock, log)
	s.withdrawals = NewWithdrawalService(s.store, s.ledger, s.orders, nil, WithdrawalPolicy{
		Hierarchy:        hierarchy,
		ApprovalTier:     1,
		EscalationAmount: 1_000_000,
	}, nil, s.clock, log)
	s.reconciler = NewReconcilerService(s.store, s.orders, s.intents, s.withdrawals, s.signer,
		map[string]string{"Mercadopago": testWebhookSecret}, nil, s.clock, log)

	s.userID = uuid.New()
	s.operator = domain.Identity{UserID: uuid.New(), Roles: []string{"operator"}}
	s.manager = domain.Identity{UserID: uuid.New(), Roles: []string{"manager"}}
}

func (s *custodySuite) TearDownTest() {
	s.store.SetFaultHook(nil)
}

// deposit creates an intent for amount and confirms it with extID.
func (s *custodySuite) deposit(amount int64, currency, extID string) *domain.PaymentIntent {
	intent, err := s.intents.CreateDepositIntent(s.ctx, ports.CreateDepositRequest{
		UserID:         s.userID,
		Amount:         money.New(amount, currency),
		Provider:       "mercadopago",
		IdempotencyKey: "dep-" + uuid.NewString(),
	})
	s.Require().NoError(err)
	ok, err := s.intents.ConfirmDeposit(s.ctx, intent.ID, extID)
	s.Require().NoError(err)
	s.Require().True(ok)
	return intent
}

func (s *custodySuite) requestWithdrawal(amount int64, currency string) (*domain.Withdrawal, error) {
	return s.withdrawals.CreateWithdrawal(s.ctx, ports.CreateWithdrawalRequest{
		UserID:         s.userID,
		Amount:         money.New(amount, currency),
		IdempotencyKey: "wd-" + uuid.NewString(),
	})
}

func (s *custodySuite) balance(currency string) int64 {
	b, err := s.ledger.BalanceFor(s.ctx, s.userID, currency)
	s.Require().NoError(err)
	if b.Account != nil {
		replayed, err := s.ledger.ReplayBalance(s.ctx, b.Account.ID)
		s.Require().NoError(err)
		s.Require().Equal(b.Balance, replayed, "replayed balance must match stored sum")
	}
	return b.Balance.Minor
}

func (s *custodySuite) entryCount(currency string) int {
	b, err := s.ledger.BalanceFor(s.ctx, s.userID, currency)
	s.Require().NoError(err)
	if b.Account == nil {
		return 0
	}
	entries, err := s.store.Ledger().AllByAccount(s.ctx, b.Account.ID)
	s.Require().NoError(err)
	return len(entries)
}

func (s *custodySuite) requireCode(err error, code string) {
	s.T().Helper()
	s.Require().Error(err)
	appErr := apperror.As(err)
	s.Require().NotNil(appErr, "expected AppError, got %v", err)
	s.Require().Equal(code, appErr.Code, appErr.Message)
}

// failOn makes the named repository operation fail.
func (s *custodySuite) failOn(op string) {
	s.store.SetFaultHook(func(current string) error {
		if current == op {
			return errStorageDown
		}
		return nil
	})
}

type storageError string

func (e storageError) Error() string { return string(e) }

const errStorageDown = storageError("storage unavailable")

type accountFixture struct {
	ctx     context.Context
	store   *memory.Store
	clock   *clock.Fixed
	account *domain.Account
}

// newStoreWithAccount seeds a store with one USD account for tests that
// drive a single service with mocked collaborators.
func newStoreWithAccount(t *testing.T) accountFixture {
	t.Helper()
	f := accountFixture{
		ctx:   context.Background(),
		store: memory.NewStore(),
		clock: clock.NewFixed(testEpoch),
	}
	account, err := NewAccountService(f.store, f.clock, zerolog.Nop()).GetOrCreate(f.ctx, uuid.New(), "USD")
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	f.account = account
	return f
}
