package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/google/uuid"
)

func accountKey(userID uuid.UUID, currency string) string {
	return userID.String() + "|" + currency
}

func ptr[T any](v T) *T { return &v }

// ---- accounts ----

type accountRepo struct{ s *Store }

func (r accountRepo) GetOrCreate(ctx context.Context, a *domain.Account) (*domain.Account, error) {
	release, err := r.s.begin(ctx, "accounts.get_or_create")
	if err != nil {
		return nil, err
	}
	defer release()

	st := r.s.st
	if id, ok := st.accountByUser[accountKey(a.UserID, a.Currency)]; ok {
		return ptr(st.accounts[id]), nil
	}
	st.accounts[a.ID] = *a
	st.accountByUser[accountKey(a.UserID, a.Currency)] = a.ID
	return ptr(*a), nil
}

func (r accountRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	release, err := r.s.begin(ctx, "accounts.get")
	if err != nil {
		return nil, err
	}
	defer release()

	a, ok := r.s.st.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r accountRepo) GetByUserCurrency(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error) {
	release, err := r.s.begin(ctx, "accounts.get_by_user")
	if err != nil {
		return nil, err
	}
	defer release()

	id, ok := r.s.st.accountByUser[accountKey(userID, currency)]
	if !ok {
		return nil, nil
	}
	return ptr(r.s.st.accounts[id]), nil
}

// LockForUpdate is a plain read: the store lock already serializes units of work.
func (r accountRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return r.GetByID(ctx, id)
}

// ---- ledger ----

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Insert(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, bool, error) {
	release, err := r.s.begin(ctx, "ledger.insert")
	if err != nil {
		return nil, false, err
	}
	defer release()

	st := r.s.st
	if e.IdempotencyKey != nil {
		if idx, ok := st.entryByKey[*e.IdempotencyKey]; ok {
			return ptr(st.entries[idx]), false, nil
		}
		st.entryByKey[*e.IdempotencyKey] = len(st.entries)
	}
	st.entries = append(st.entries, *e)
	return ptr(*e), true, nil
}

func (r ledgerRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.LedgerEntry, error) {
	release, err := r.s.begin(ctx, "ledger.get_by_key")
	if err != nil {
		return nil, err
	}
	defer release()

	idx, ok := r.s.st.entryByKey[key]
	if !ok {
		return nil, nil
	}
	return ptr(r.s.st.entries[idx]), nil
}

func (r ledgerRepo) SumByAccount(ctx context.Context, accountID uuid.UUID) (int64, error) {
	release, err := r.s.begin(ctx, "ledger.sum")
	if err != nil {
		return 0, err
	}
	defer release()

	var sum int64
	for _, e := range r.s.st.entries {
		if e.AccountID == accountID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (r ledgerRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int64, error) {
	release, err := r.s.begin(ctx, "ledger.list")
	if err != nil {
		return nil, 0, err
	}
	defer release()

	var matched []domain.LedgerEntry
	entries := r.s.st.entries
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].AccountID == accountID {
			matched = append(matched, entries[i])
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []domain.LedgerEntry{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r ledgerRepo) AllByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.LedgerEntry, error) {
	release, err := r.s.begin(ctx, "ledger.all")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []domain.LedgerEntry
	for _, e := range r.s.st.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ---- payment intents ----

type intentRepo struct{ s *Store }

func (r intentRepo) Insert(ctx context.Context, p *domain.PaymentIntent) (*domain.PaymentIntent, bool, error) {
	release, err := r.s.begin(ctx, "intents.insert")
	if err != nil {
		return nil, false, err
	}
	defer release()

	st := r.s.st
	if id, ok := st.intentByKey[p.IdempotencyKey]; ok {
		return ptr(st.intents[id]), false, nil
	}
	st.intents[p.ID] = *p
	st.intentByKey[p.IdempotencyKey] = p.ID
	return ptr(*p), true, nil
}

func (r intentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	release, err := r.s.begin(ctx, "intents.get")
	if err != nil {
		return nil, err
	}
	defer release()

	p, ok := r.s.st.intents[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r intentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentIntent, error) {
	release, err := r.s.begin(ctx, "intents.get_by_key")
	if err != nil {
		return nil, err
	}
	defer release()

	id, ok := r.s.st.intentByKey[key]
	if !ok {
		return nil, nil
	}
	return ptr(r.s.st.intents[id]), nil
}

func (r intentRepo) RecordHandOff(ctx context.Context, id uuid.UUID, externalPaymentID string, method *string, expiresAt *time.Time, at time.Time) (bool, error) {
	release, err := r.s.begin(ctx, "intents.handoff")
	if err != nil {
		return false, err
	}
	defer release()

	p, ok := r.s.st.intents[id]
	if !ok || p.Status != domain.IntentStatusPending {
		return false, nil
	}
	p.ExternalPaymentID = &externalPaymentID
	if method != nil {
		p.PaymentMethod = method
	}
	if expiresAt != nil {
		p.ExpiresAt = expiresAt
	}
	p.UpdatedAt = at
	r.s.st.intents[id] = p
	return true, nil
}

func (r intentRepo) Transition(ctx context.Context, id uuid.UUID, to domain.IntentStatus, externalPaymentID *string, at time.Time) (bool, error) {
	release, err := r.s.begin(ctx, "intents.transition")
	if err != nil {
		return false, err
	}
	defer release()

	p, ok := r.s.st.intents[id]
	if !ok || p.Status != domain.IntentStatusPending {
		return false, nil
	}
	p.Status = to
	if externalPaymentID != nil {
		p.ExternalPaymentID = externalPaymentID
	}
	if to == domain.IntentStatusConfirmed {
		p.ConfirmedAt = &at
	}
	p.UpdatedAt = at
	r.s.st.intents[id] = p
	return true, nil
}

func (r intentRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.PaymentIntent, error) {
	release, err := r.s.begin(ctx, "intents.list_expired")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []domain.PaymentIntent
	for _, p := range r.s.st.intents {
		if p.IsExpiredAt(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- withdrawals ----

type withdrawalRepo struct{ s *Store }

func (r withdrawalRepo) Insert(ctx context.Context, w *domain.Withdrawal) (*domain.Withdrawal, bool, error) {
	release, err := r.s.begin(ctx, "withdrawals.insert")
	if err != nil {
		return nil, false, err
	}
	defer release()

	st := r.s.st
	if id, ok := st.withdrawalByKey[w.IdempotencyKey]; ok {
		return ptr(st.withdrawals[id]), false, nil
	}
	st.withdrawals[w.ID] = *w
	st.withdrawalByKey[w.IdempotencyKey] = w.ID
	return ptr(*w), true, nil
}

func (r withdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Withdrawal, error) {
	release, err := r.s.begin(ctx, "withdrawals.get")
	if err != nil {
		return nil, err
	}
	defer release()

	w, ok := r.s.st.withdrawals[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r withdrawalRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Withdrawal, error) {
	release, err := r.s.begin(ctx, "withdrawals.get_by_key")
	if err != nil {
		return nil, err
	}
	defer release()

	id, ok := r.s.st.withdrawalByKey[key]
	if !ok {
		return nil, nil
	}
	return ptr(r.s.st.withdrawals[id]), nil
}

func (r withdrawalRepo) SumByStatus(ctx context.Context, accountID uuid.UUID, statuses []domain.WithdrawalStatus) (int64, error) {
	release, err := r.s.begin(ctx, "withdrawals.sum")
	if err != nil {
		return 0, err
	}
	defer release()

	var sum int64
	for _, w := range r.s.st.withdrawals {
		if w.AccountID != accountID {
			continue
		}
		for _, st := range statuses {
			if w.Status == st {
				sum += w.Amount
				break
			}
		}
	}
	return sum, nil
}

func (r withdrawalRepo) Decide(ctx context.Context, id uuid.UUID, to domain.WithdrawalStatus, actor uuid.UUID, notes *string, at time.Time) (bool, error) {
	release, err := r.s.begin(ctx, "withdrawals.decide")
	if err != nil {
		return false, err
	}
	defer release()

	w, ok := r.s.st.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalStatusRequested {
		return false, nil
	}
	switch to {
	case domain.WithdrawalStatusApproved:
		w.ApprovedAt, w.ApprovedByUserID = &at, &actor
	case domain.WithdrawalStatusRejected:
		w.RejectedAt, w.RejectedByUserID = &at, &actor
	default:
		return false, nil
	}
	w.Status = to
	if notes != nil {
		w.Notes = notes
	}
	w.UpdatedAt = at
	r.s.st.withdrawals[id] = w
	return true, nil
}

func (r withdrawalRepo) SetProviderPaymentID(ctx context.Context, id uuid.UUID, providerPaymentID string) error {
	release, err := r.s.begin(ctx, "withdrawals.set_provider_id")
	if err != nil {
		return err
	}
	defer release()

	w, ok := r.s.st.withdrawals[id]
	if !ok {
		return nil
	}
	w.ProviderPaymentID = &providerPaymentID
	r.s.st.withdrawals[id] = w
	return nil
}

func (r withdrawalRepo) MarkPaid(ctx context.Context, id uuid.UUID, providerPaymentID *string, at time.Time) (bool, error) {
	release, err := r.s.begin(ctx, "withdrawals.mark_paid")
	if err != nil {
		return false, err
	}
	defer release()

	w, ok := r.s.st.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalStatusApproved {
		return false, nil
	}
	w.Status = domain.WithdrawalStatusPaid
	w.PaidAt = &at
	if providerPaymentID != nil {
		w.ProviderPaymentID = providerPaymentID
	}
	w.UpdatedAt = at
	r.s.st.withdrawals[id] = w
	return true, nil
}

// ---- orders ----

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, o *domain.Order) error {
	release, err := r.s.begin(ctx, "orders.insert")
	if err != nil {
		return err
	}
	defer release()

	r.s.st.orders[o.ID] = *o
	r.s.st.orderSeq = append(r.s.st.orderSeq, o.ID)
	return nil
}

func (r orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	release, err := r.s.begin(ctx, "orders.get")
	if err != nil {
		return nil, err
	}
	defer release()

	o, ok := r.s.st.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (r orderRepo) newest(match func(domain.Order) bool) *domain.Order {
	seq := r.s.st.orderSeq
	for i := len(seq) - 1; i >= 0; i-- {
		if o := r.s.st.orders[seq[i]]; match(o) {
			return &o
		}
	}
	return nil
}

func (r orderRepo) GetByExternalOrderID(ctx context.Context, externalOrderID string) (*domain.Order, error) {
	release, err := r.s.begin(ctx, "orders.get_by_external")
	if err != nil {
		return nil, err
	}
	defer release()

	return r.newest(func(o domain.Order) bool { return o.ExternalOrderID == externalOrderID }), nil
}

func (r orderRepo) GetByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) (*domain.Order, error) {
	release, err := r.s.begin(ctx, "orders.get_by_provider_id")
	if err != nil {
		return nil, err
	}
	defer release()

	numeric, numErr := strconv.ParseInt(providerPaymentID, 10, 64)
	return r.newest(func(o domain.Order) bool {
		if !strings.EqualFold(o.Provider, provider) {
			return false
		}
		if o.ProviderPaymentIDText != nil && *o.ProviderPaymentIDText == providerPaymentID {
			return true
		}
		return numErr == nil && o.ProviderPaymentID != nil && *o.ProviderPaymentID == numeric
	}), nil
}

func (r orderRepo) Refresh(ctx context.Context, o *domain.Order) error {
	release, err := r.s.begin(ctx, "orders.refresh")
	if err != nil {
		return err
	}
	defer release()

	cur, ok := r.s.st.orders[o.ID]
	if !ok {
		return nil
	}
	cur.Amount = o.Amount
	cur.Currency = o.Currency
	cur.Provider = o.Provider
	cur.ProviderPaymentID = o.ProviderPaymentID
	cur.ProviderPaymentIDText = o.ProviderPaymentIDText
	cur.PaymentMethod = o.PaymentMethod
	cur.ExpiresAt = o.ExpiresAt
	cur.UpdatedAt = o.UpdatedAt
	r.s.st.orders[o.ID] = cur
	return nil
}

func (r orderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, detail *string, at time.Time) (bool, error) {
	release, err := r.s.begin(ctx, "orders.update_status")
	if err != nil {
		return false, err
	}
	defer release()

	o, ok := r.s.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if detail != nil {
		o.StatusDetail = detail
	}
	o.UpdatedAt = at
	r.s.st.orders[id] = o
	return true, nil
}

func (r orderRepo) UpdateDetail(ctx context.Context, id uuid.UUID, detail *string, at time.Time) error {
	release, err := r.s.begin(ctx, "orders.update_detail")
	if err != nil {
		return err
	}
	defer release()

	o, ok := r.s.st.orders[id]
	if !ok {
		return nil
	}
	o.StatusDetail = detail
	o.UpdatedAt = at
	r.s.st.orders[id] = o
	return nil
}

func (r orderRepo) MarkCredited(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	release, err := r.s.begin(ctx, "orders.mark_credited")
	if err != nil {
		return false, err
	}
	defer release()

	o, ok := r.s.st.orders[id]
	if !ok || o.Credited {
		return false, nil
	}
	o.Credited = true
	o.UpdatedAt = at
	r.s.st.orders[id] = o
	return true, nil
}

// ---- webhook events ----

type eventRepo struct{ s *Store }

func (r eventRepo) Insert(ctx context.Context, e *domain.WebhookEvent) error {
	release, err := r.s.begin(ctx, "webhook_events.insert")
	if err != nil {
		return err
	}
	defer release()

	r.s.st.events = append(r.s.st.events, *e)
	return nil
}

func (r eventRepo) ListByProviderPaymentID(ctx context.Context, provider, providerPaymentID string) ([]domain.WebhookEvent, error) {
	release, err := r.s.begin(ctx, "webhook_events.list")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []domain.WebhookEvent
	for _, e := range r.s.st.events {
		if strings.EqualFold(e.Provider, provider) && e.ProviderPaymentID != nil && *e.ProviderPaymentID == providerPaymentID {
			out = append(out, e)
		}
	}
	return out, nil
}
