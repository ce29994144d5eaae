package saga

import (
	"context"
	"time"

	"github.com/commercehq/order-system/shared/telemetry"
	"github.com/rs/zerolog"
)

// Reconciler periodically sweeps active sagas and fails the ones whose step
// deadline has passed. It is the safety net for lost broker callbacks: a saga
// whose reply never arrives would otherwise stay in progress forever.
type Reconciler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewReconciler creates a reconciler sweeping at the given interval
func NewReconciler(orchestrator *Orchestrator, interval time.Duration, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger.With().Str("component", "saga_reconciler").Logger(),
		now:          time.Now,
	}
}

// WithClock overrides the time source
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Run sweeps until the context is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("saga reconciler started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("saga reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the active sagas and times out the overdue ones.
// It returns how many sagas it failed.
func (r *Reconciler) Sweep(ctx context.Context) int {
	active, err := r.orchestrator.ActiveSagas(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list active sagas")
		return 0
	}

	telemetry.RecordActiveSagas(ctx, len(active))

	timedOut := 0
	for _, state := range active {
		if r.now().Before(state.StepDeadline) {
			continue
		}

		outcome, err := r.orchestrator.FailTimedOut(ctx, state.CorrelationID)
		if err != nil {
			r.logger.Error().
				Str("correlation_id", state.CorrelationID.String()).
				Err(err).
				Msg("failed to time out saga")
			continue
		}
		if outcome == OutcomeAdvanced {
			timedOut++
		}
	}

	return timedOut
}
