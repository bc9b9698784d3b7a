package service

import (
	"context"
	"time"

	"custody-ledger/internal/core/ports"
	"custody-ledger/pkg/clock"

	"github.com/rs/zerolog"
)

// ExpirySweeper periodically expires PENDING intents past their deadline.
type ExpirySweeper struct {
	intents   ports.PaymentIntentService
	interval  time.Duration
	batchSize int
	clock     clock.Clock
	log       zerolog.Logger
}

func NewExpirySweeper(intents ports.PaymentIntentService, interval time.Duration, batchSize int, clk clock.Clock, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		intents:   intents,
		interval:  interval,
		batchSize: batchSize,
		clock:     clk,
		log:       log.With().Str("worker", "expiry_sweeper").Logger(),
	}
}

// Run sweeps every interval until ctx is cancelled. A non-positive interval
// returns immediately.
func (w *ExpirySweeper) Run(ctx context.Context) {
	if w.interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Msg("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("expiry sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep drains overdue intents in batches. It stops early on error or
// when a batch comes back short.
func (w *ExpirySweeper) Sweep(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.intents.ExpireDue(ctx, w.clock.Now(), w.batchSize)
		total += n
		if err != nil {
			w.log.Error().Err(err).Msg("expiry sweep failed")
			break
		}
		if n < w.batchSize || n == 0 {
			break
		}
	}
	return total
}
