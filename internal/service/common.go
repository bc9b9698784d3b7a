package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"custody-ledger/internal/core/domain"
	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/apperror"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// applyWithRetry runs fn as one unit of work. A lost uniqueness race that the
// repositories could not resolve is retried once before it surfaces.
func applyWithRetry(ctx context.Context, store ports.Store, fn func(ctx context.Context, tx ports.Store) error) error {
	err := store.Apply(ctx, fn)
	if !errors.Is(err, ports.ErrConflict) {
		return err
	}
	err = store.Apply(ctx, fn)
	if errors.Is(err, ports.ErrConflict) {
		return apperror.ErrIdempotencyRace(err)
	}
	return err
}

// classify turns a storage failure into the error taxonomy. AppErrors and
// context errors pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperror.As(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ports.ErrConflict) {
		return apperror.ErrIdempotencyRace(err)
	}
	return apperror.ErrPersistence(fmt.Errorf("%s: %w", op, err))
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// providerPaymentIDs returns the text form and, when it is an integer, the numeric form.
func providerPaymentIDs(id string) (*int64, *string) {
	text := optionalString(id)
	if text == nil {
		return nil, nil
	}
	if n, err := strconv.ParseInt(*text, 10, 64); err == nil {
		return &n, text
	}
	return nil, text
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

type nopMetrics struct{}

func (nopMetrics) LedgerEntryAppended(domain.EntryType, bool)                  {}
func (nopMetrics) IntentTransitioned(domain.IntentStatus)                      {}
func (nopMetrics) WithdrawalTransitioned(domain.WithdrawalStatus)              {}
func (nopMetrics) WebhookHandled(string, domain.WebhookOutcome, time.Duration) {}

func metricsOrNop(m ports.Metrics) ports.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
