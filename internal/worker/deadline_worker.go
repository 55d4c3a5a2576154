package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/openexam/openexam-backend/internal/service"
)

// sweepBatchSize bounds how many overdue attempts one tick finalizes.
const sweepBatchSize = 500

// DeadlineWorker periodically sweeps in-progress attempts whose deadline has
// passed and collapses them to TIMED_OUT. It is the backstop for clients
// that never report the timeout: a closed laptop, a dead tab, a dropped
// connection. Racing a client-reported timeout is harmless because the
// finalization is idempotent.
type DeadlineWorker struct {
	attemptService *service.AttemptService
	interval       time.Duration
	log            zerolog.Logger
}

// NewDeadlineWorker creates a new DeadlineWorker.
func NewDeadlineWorker(attemptService *service.AttemptService, interval time.Duration, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		attemptService: attemptService,
		interval:       interval,
		log:            log.With().Str("component", "deadline_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Sweep immediately so attempts abandoned during a restart are not
	// left waiting a full interval.
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *DeadlineWorker) sweep(ctx context.Context) {
	n, err := w.attemptService.SweepOverdue(ctx, sweepBatchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		w.log.Info().Int("finalized", n).Msg("swept overdue attempts")
	}
}
