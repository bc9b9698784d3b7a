package postgres

import (
	"context"
	"fmt"

	"custody-ledger/internal/core/ports"
)

// Store implements ports.Store on PostgreSQL. Apply is one SQL transaction;
// repositories pick it up from the context.
type Store struct {
	pool        Pool
	accounts    *AccountRepo
	ledger      *LedgerRepo
	intents     *PaymentIntentRepo
	withdrawals *WithdrawalRepo
	orders      *OrderRepo
	events      *WebhookEventRepo
}

// NewStore wires every repository onto pool.
func NewStore(pool Pool) *Store {
	return &Store{
		pool:        pool,
		accounts:    NewAccountRepo(pool),
		ledger:      NewLedgerRepo(pool),
		intents:     NewPaymentIntentRepo(pool),
		withdrawals: NewWithdrawalRepo(pool),
		orders:      NewOrderRepo(pool),
		events:      NewWebhookEventRepo(pool),
	}
}

func (s *Store) Accounts() ports.AccountRepository             { return s.accounts }
func (s *Store) Ledger() ports.LedgerRepository                { return s.ledger }
func (s *Store) PaymentIntents() ports.PaymentIntentRepository { return s.intents }
func (s *Store) Withdrawals() ports.WithdrawalRepository       { return s.withdrawals }
func (s *Store) Orders() ports.OrderRepository                 { return s.orders }
func (s *Store) WebhookEvents() ports.WebhookEventRepository   { return s.events }

// Apply runs fn inside a database transaction. A ctx that already carries a
// transaction joins it, so nested calls commit or roll back with the outermost.
func (s *Store) Apply(ctx context.Context, fn func(ctx context.Context, tx ports.Store) error) error {
	if inTx(ctx) {
		return fn(ctx, s)
	}

	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := fn(context.WithValue(ctx, txKey{}, dbTx), s); err != nil {
		return err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
