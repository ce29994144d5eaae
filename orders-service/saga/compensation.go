package saga

import (
	"context"
	"time"

	"github.com/commercehq/order-system/shared/events"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

// compensationEvent maps a compensation action to its outbound request event.
// The action set is closed, so unknown values are a programming error.
func compensationEvent(c Compensation, state *State) (*events.Event, error) {
	switch c {
	case CompensationReleaseInventory:
		return events.NewEvent(state.OrderID, events.InventoryReleaseRequestedEvent, events.InventoryReleaseRequestedData{
			CorrelationID: state.CorrelationID,
			OrderID:       state.OrderID,
		}).WithCorrelationID(state.CorrelationID), nil
	case CompensationRefundPayment:
		return events.NewEvent(state.OrderID, events.PaymentRefundRequestedEvent, events.PaymentRefundRequestedData{
			CorrelationID: state.CorrelationID,
			OrderID:       state.OrderID,
		}).WithCorrelationID(state.CorrelationID), nil
	default:
		return nil, errors.Errorf("unknown compensation action %q", c)
	}
}

// executeCompensations publishes the undo events for a saga in reverse
// insertion order: the most recent side effect is compensated first. A
// compensation whose publish keeps failing after bounded retries is
// dead-lettered instead of blocking the remaining ones.
func (o *Orchestrator) executeCompensations(ctx context.Context, state *State) error {
	var firstErr error

	for _, action := range state.ReversedCompensations() {
		event, err := compensationEvent(action, state)
		if err != nil {
			return err
		}

		attempts, err := o.publishWithRetry(ctx, event)
		if err != nil {
			o.logger.Error().
				Str("correlation_id", state.CorrelationID.String()).
				Str("action", string(action)).
				Int("attempts", attempts).
				Err(err).
				Msg("compensation publish exhausted retries, dead-lettering")

			o.deadletterCompensation(ctx, state, action, attempts, err)

			if firstErr == nil {
				firstErr = errors.Wrapf(err, "compensation %s failed", action)
			}
		}
	}

	return firstErr
}

// publishWithRetry publishes one event with jittered exponential backoff,
// honoring context cancellation between attempts
func (o *Orchestrator) publishWithRetry(ctx context.Context, event *events.Event) (int, error) {
	b := &backoff.Backoff{
		Min:    o.config.CompensationBackoffMin,
		Max:    o.config.CompensationBackoffMax,
		Jitter: true,
	}

	var lastErr error
	attempts := 0

	for attempts < o.config.CompensationMaxRetries {
		attempts++

		lastErr = o.publisher.Publish(ctx, event)
		if lastErr == nil {
			return attempts, nil
		}

		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}

	return attempts, lastErr
}

// deadletterCompensation records a compensation that could not be delivered.
// The dead-letter publish itself is best effort; if it fails too, the error
// log above is the last trace an operator has.
func (o *Orchestrator) deadletterCompensation(ctx context.Context, state *State, action Compensation, attempts int, cause error) {
	event := events.NewEvent(state.OrderID, events.SagaCompensationDeadletterEvent, events.CompensationDeadletterData{
		CorrelationID: state.CorrelationID,
		OrderID:       state.OrderID,
		Action:        string(action),
		Attempts:      attempts,
		Reason:        cause.Error(),
	}).WithCorrelationID(state.CorrelationID)

	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error().
			Str("correlation_id", state.CorrelationID.String()).
			Str("action", string(action)).
			Err(err).
			Msg("failed to publish compensation dead-letter event")
	}
}
