// Package memory implements ports.Store in process. A single mutex serializes
// units of work, and a failed unit restores the snapshot taken when it began.
// It backs local development and service tests.
package memory

import (
	"context"
	"sync"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"

	"github.com/google/uuid"
)

type txKey struct{}

type state struct {
	accounts        map[uuid.UUID]domain.Account
	accountByUser   map[string]uuid.UUID
	entries         []domain.LedgerEntry
	entryByKey      map[string]int
	intents         map[uuid.UUID]domain.PaymentIntent
	intentByKey     map[string]uuid.UUID
	withdrawals     map[uuid.UUID]domain.Withdrawal
	withdrawalByKey map[string]uuid.UUID
	orders          map[uuid.UUID]domain.Order
	orderSeq        []uuid.UUID
	events          []domain.WebhookEvent
}

func newState() *state {
	return &state{
		accounts:        make(map[uuid.UUID]domain.Account),
		accountByUser:   make(map[string]uuid.UUID),
		entryByKey:      make(map[string]int),
		intents:         make(map[uuid.UUID]domain.PaymentIntent),
		intentByKey:     make(map[string]uuid.UUID),
		withdrawals:     make(map[uuid.UUID]domain.Withdrawal),
		withdrawalByKey: make(map[string]uuid.UUID),
		orders:          make(map[uuid.UUID]domain.Order),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:        make(map[uuid.UUID]domain.Account, len(s.accounts)),
		accountByUser:   make(map[string]uuid.UUID, len(s.accountByUser)),
		entries:         append([]domain.LedgerEntry(nil), s.entries...),
		entryByKey:      make(map[string]int, len(s.entryByKey)),
		intents:         make(map[uuid.UUID]domain.PaymentIntent, len(s.intents)),
		intentByKey:     make(map[string]uuid.UUID, len(s.intentByKey)),
		withdrawals:     make(map[uuid.UUID]domain.Withdrawal, len(s.withdrawals)),
		withdrawalByKey: make(map[string]uuid.UUID, len(s.withdrawalByKey)),
		orders:          make(map[uuid.UUID]domain.Order, len(s.orders)),
		orderSeq:        append([]uuid.UUID(nil), s.orderSeq...),
		events:          append([]domain.WebhookEvent(nil), s.events...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.accountByUser {
		c.accountByUser[k] = v
	}
	for k, v := range s.entryByKey {
		c.entryByKey[k] = v
	}
	for k, v := range s.intents {
		c.intents[k] = v
	}
	for k, v := range s.intentByKey {
		c.intentByKey[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.withdrawalByKey {
		c.withdrawalByKey[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

// FaultHook is consulted before every repository call. A non-nil error is
// returned from that call as if storage had failed.
type FaultHook func(op string) error

// Store implements ports.Store.
type Store struct {
	mu    sync.Mutex
	st    *state
	fault FaultHook
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// SetFaultHook installs hook; nil removes it.
func (s *Store) SetFaultHook(hook FaultHook) {
	s.mu.Lock()
	s.fault = hook
	s.mu.Unlock()
}

func (s *Store) Accounts() ports.AccountRepository             { return accountRepo{s} }
func (s *Store) Ledger() ports.LedgerRepository                { return ledgerRepo{s} }
func (s *Store) PaymentIntents() ports.PaymentIntentRepository { return intentRepo{s} }
func (s *Store) Withdrawals() ports.WithdrawalRepository       { return withdrawalRepo{s} }
func (s *Store) Orders() ports.OrderRepository                 { return orderRepo{s} }
func (s *Store) WebhookEvents() ports.WebhookEventRepository   { return eventRepo{s} }

// Apply holds the store lock for the whole of fn. If fn fails, or ctx is
// cancelled by the time it returns, every write made inside it is discarded.
func (s *Store) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if s.inTx(ctx) {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	txCtx := context.WithValue(ctx, txKey{}, s)
	if err := fn(txCtx, s); err != nil {
		s.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// begin takes the lock unless ctx already runs inside this store's unit of work,
// then consults the fault hook.
func (s *Store) begin(ctx context.Context, op string) (func(), error) {
	release := func() {}
	if !s.inTx(ctx) {
		s.mu.Lock()
		release = s.mu.Unlock
	}
	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}
	if s.fault != nil {
		if err := s.fault(op); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

// HealthCheck implements ports.HealthChecker for the in-process store.
type HealthCheck struct{}

func (HealthCheck) Ping(context.Context) error { return nil }
func (HealthCheck) Name() string               { return "memory" }
