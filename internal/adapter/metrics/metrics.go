// Package metrics exposes service counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"custody-ledger/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "custody_ledger"

// Prometheus implements ports.Metrics.
type Prometheus struct {
	ledgerEntries       *prometheus.CounterVec
	intentTransitions   *prometheus.CounterVec
	withdrawalDecisions *prometheus.CounterVec
	webhooksTotal       *prometheus.CounterVec
	webhookDuration     *prometheus.HistogramVec
}

// New registers the collectors on reg. cmd/api passes the registry it also
// serves on /metrics.
func New(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		ledgerEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "entries_total",
				Help:      "Ledger appends by entry type and whether the idempotency key replayed an existing entry.",
			},
			[]string{"entry_type", "replayed"},
		),
		intentTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "intents",
				Name:      "transitions_total",
				Help:      "Payment intent status transitions by target status.",
			},
			[]string{"status"},
		),
		withdrawalDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "withdrawals",
				Name:      "transitions_total",
				Help:      "Withdrawal status transitions by target status.",
			},
			[]string{"status"},
		),
		webhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhooks",
				Name:      "handled_total",
				Help:      "Provider notifications by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		),
		webhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhooks",
				Name:      "duration_seconds",
				Help:      "Time spent reconciling one provider notification.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
	}
}

func (m *Prometheus) LedgerEntryAppended(entryType domain.EntryType, replayed bool) {
	m.ledgerEntries.WithLabelValues(string(entryType), strconv.FormatBool(replayed)).Inc()
}

func (m *Prometheus) IntentTransitioned(to domain.IntentStatus) {
	m.intentTransitions.WithLabelValues(string(to)).Inc()
}

func (m *Prometheus) WithdrawalTransitioned(to domain.WithdrawalStatus) {
	m.withdrawalDecisions.WithLabelValues(string(to)).Inc()
}

func (m *Prometheus) WebhookHandled(provider string, outcome domain.WebhookOutcome, elapsed time.Duration) {
	m.webhooksTotal.WithLabelValues(provider, string(outcome)).Inc()
	m.webhookDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// Nop discards everything.
type Nop struct{}

func (Nop) LedgerEntryAppended(domain.EntryType, bool)                  {}
func (Nop) IntentTransitioned(domain.IntentStatus)                      {}
func (Nop) WithdrawalTransitioned(domain.WithdrawalStatus)              {}
func (Nop) WebhookHandled(string, domain.WebhookOutcome, time.Duration) {}
