package saga

import (
	"context"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/shared/events"
	"github.com/commercehq/order-system/shared/models"
	"github.com/commercehq/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// casMaxRetries bounds the re-read loop on a version conflict. Conflicts only
// happen when the same callback is redelivered concurrently, so one or two
// retries settle it.
const casMaxRetries = 3

// timeoutReason is recorded on sagas failed by the reconciler
const timeoutReason = "saga step deadline exceeded"

// Outcome classifies what a callback did. Unknown and duplicate callbacks are
// expected under at-least-once delivery and are deliberately not errors, but
// they are distinguishable so operators can tell a redelivery from a routing
// problem.
type Outcome string

const (
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeDuplicate Outcome = "duplicate_callback"
	OutcomeUnknown   Outcome = "unknown_saga"
)

// Config tunes the orchestrator
type Config struct {
	StepTimeout            time.Duration
	CompensationMaxRetries int
	CompensationBackoffMin time.Duration
	CompensationBackoffMax time.Duration
}

// DefaultConfig returns the orchestrator defaults
func DefaultConfig() Config {
	return Config{
		StepTimeout:            5 * time.Minute,
		CompensationMaxRetries: 5,
		CompensationBackoffMin: 100 * time.Millisecond,
		CompensationBackoffMax: 5 * time.Second,
	}
}

// Orchestrator drives the order saga state machine: it decides which request
// event to publish next, applies compensations in reverse order on failure,
// and keeps the order status in sync through the order repository.
type Orchestrator struct {
	store     Store
	orders    domain.OrderRepository
	publisher events.Publisher
	history   events.EventStore
	logger    zerolog.Logger
	config    Config
	now       func() time.Time
}

// NewOrchestrator creates a new saga orchestrator
func NewOrchestrator(
	store Store,
	orders domain.OrderRepository,
	publisher events.Publisher,
	logger zerolog.Logger,
	config Config,
) *Orchestrator {
	return &Orchestrator{
		store:     store,
		orders:    orders,
		publisher: publisher,
		logger:    logger.With().Str("component", "saga_orchestrator").Logger(),
		config:    config,
		now:       time.Now,
	}
}

// WithHistory records every saga transition in the given event store
func (o *Orchestrator) WithHistory(history events.EventStore) *Orchestrator {
	o.history = history
	return o
}

// WithClock overrides the time source
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// StartOrderProcessing begins the forward saga for a newly created order:
// it stores the initial state and publishes the inventory reservation request.
func (o *Orchestrator) StartOrderProcessing(ctx context.Context, order *domain.Order) (models.ID, error) {
	if order == nil || order.ID.IsZero() {
		return "", errors.New("order is required")
	}

	if len(order.Items) == 0 {
		return "", errors.New("order has no items to reserve")
	}

	correlationID := models.GenerateUUID()

	state := NewState(correlationID, order.ID, order.OrderNumber, StepInventoryReservation, o.now().Add(o.config.StepTimeout))
	if err := o.store.Put(ctx, state); err != nil {
		return "", errors.Wrap(err, "failed to store saga state")
	}

	o.appendHistory(ctx, state, events.SagaStartedEvent, "")

	items := make([]events.ReservationItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = events.ReservationItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
		}
	}

	event := events.NewEvent(order.ID, events.InventoryReservationRequestedEvent, events.InventoryReservationRequestedData{
		CorrelationID: correlationID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Items:         items,
	}).WithCorrelationID(correlationID)

	if err := o.publisher.Publish(ctx, event); err != nil {
		return "", errors.Wrap(err, "failed to publish inventory reservation request")
	}

	o.logger.Info().
		Str("correlation_id", correlationID.String()).
		Str("order_id", order.ID.String()).
		Msg("order processing saga started")

	telemetry.CountSaga(ctx, telemetry.SagaStarted,
		attribute.String("kind", "order_processing"))

	return correlationID, nil
}

// HandleInventoryReservationSuccess advances the saga to payment processing.
// It is safe under redelivery: a saga already past the reservation step is
// left untouched.
func (o *Orchestrator) HandleInventoryReservationSuccess(ctx context.Context, correlationID, orderID models.ID) (Outcome, error) {
	state, outcome, err := o.transition(ctx, correlationID, StepInventoryReservation, func(s *State) {
		s.CurrentStep = StepPaymentProcessing
		s.PushCompensation(CompensationReleaseInventory)
		s.StepDeadline = o.now().Add(o.config.StepTimeout)
	})
	if outcome != OutcomeAdvanced || err != nil {
		return outcome, err
	}

	order, err := o.orders.FindByID(ctx, orderID)
	if err != nil {
		return outcome, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return outcome, errors.Errorf("order %s not found", orderID)
	}

	if err := o.orders.UpdateStatus(ctx, orderID, domain.OrderStatusInventoryReserved, ""); err != nil {
		return outcome, errors.Wrap(err, "failed to update order status")
	}

	if err := o.orders.UpdateStatus(ctx, orderID, domain.OrderStatusPaymentProcessing, ""); err != nil {
		return outcome, errors.Wrap(err, "failed to update order status")
	}

	event := events.NewEvent(orderID, events.PaymentProcessingRequestedEvent, events.PaymentProcessingRequestedData{
		CorrelationID: correlationID,
		OrderID:       orderID,
		OrderNumber:   state.OrderNumber,
		UserID:        order.UserID,
		Amount:        order.Total,
		PaymentMethod: order.PaymentMethod,
	}).WithCorrelationID(correlationID)

	if err := o.publisher.Publish(ctx, event); err != nil {
		return outcome, errors.Wrap(err, "failed to publish payment processing request")
	}

	return outcome, nil
}

// HandleInventoryReservationFailure fails the saga. Nothing has been reserved
// yet, so there is nothing to compensate.
func (o *Orchestrator) HandleInventoryReservationFailure(ctx context.Context, correlationID, orderID models.ID, reason string) (Outcome, error) {
	state, outcome, err := o.transition(ctx, correlationID, StepInventoryReservation, func(s *State) {
		s.CurrentStep = StepCompleted
		s.Status = StatusFailed
		s.FailureReason = reason
	})
	if outcome != OutcomeAdvanced || err != nil {
		return outcome, err
	}

	if err := o.orders.UpdateStatus(ctx, orderID, domain.OrderStatusCancelled, reason); err != nil {
		return outcome, errors.Wrap(err, "failed to update order status")
	}

	o.publishLifecycle(ctx, state, events.SagaFailedEvent, reason)

	telemetry.CountSaga(ctx, telemetry.SagaFailed,
		attribute.String("step", string(StepInventoryReservation)))

	return outcome, nil
}

// HandlePaymentSuccess marks the order paid, then confirms it and completes
// the saga.
func (o *Orchestrator) HandlePaymentSuccess(ctx context.Context, correlationID, orderID models.ID) (Outcome, error) {
	_, outcome, err := o.transition(ctx, correlationID, StepPaymentProcessing, func(s *State) {
		s.CurrentStep = StepOrderConfirmation
		s.PushCompensation(CompensationRefundPayment)
		s.StepDeadline = o.now().Add(o.config.StepTimeout)
	})
	if outcome != OutcomeAdvanced || err != nil {
		return outcome, err
	}

	if err := o.orders.UpdateStatus(ctx, orderID, domain.OrderStatusPaid, ""); err != nil {
		return outcome, errors.Wrap(err, "failed to update order status")
	}

	return o.confirmOrder(ctx, correlationID, orderID)
}

// confirmOrder runs the confirmation step. It happens immediately after a
// successful payment, but goes through the store so a crash between the two
// transitions leaves a resumable saga rather than a half-applied one.
func (o *Orchestrator) confirmOrder(ctx context.Context, correlationID, orderID models.ID) (Outcome, error) {
	state, outcome, err := o.transition(ctx, correlationID, StepOrderConfirmation, func(s *State) {
		s.CurrentStep = StepCompleted
		s.Status = StatusCompleted
	})
	if outcome != OutcomeAdvanced || err != nil {
		return outcome, err
	}

	if err := o.orders.UpdateStatus(ctx, orderID, domain.OrderStatusConfirmed, ""); err != nil {
		return outcome, errors.Wrap(err, "failed to update order status")
	}

	confirmed := events.NewEvent(orderID, events.OrderConfirmedEvent, domain.OrderStatusChangedData{
		OrderID: orderID,
		Status:  domain.OrderStatusConfirmed,
	}).WithCorrelationID(correlationID)

	if err := o.publisher.Publish(ctx, confirmed); err != nil {
		return outcome, errors.Wrap(err, "failed to publish order confirmed event")
	}

	o.publishLifecycle(ctx, state, events.SagaCompletedEvent, "")

	telemetry.CountSaga(ctx, telemetry.SagaCompleted,
		attribute.String("kind", "order_processing"))

	return outcome, nil
}

// HandlePaymentFailure rolls the saga back: the order is marked payment
// failed and every queued compensation runs in reverse insertion order.
func (o *Orchestrator) HandlePaymentFailure(ctx context.Context, correlationID, orderID models.ID, reason string) (Outcome, error) {
	state, outcome, err := o.transition(ctx, correlationID, StepPaymentProcessing, func(s *State) {
		s.CurrentStep = StepCompleted
		s.Status = StatusCompensated
		s.FailureReason = reason
	})
	if outcome != OutcomeAdvanced || err != nil {
		return outcome, err
	}

	if err := o.orders.UpdateStatus(ctx, orderID, domain.OrderStatusPaymentFailed, reason); err != nil {
		return outcome, errors.Wrap(err, "failed to update order status")
	}

	if err := o.executeCompensations(ctx, state); err != nil {
		return outcome, err
	}

	o.publishLifecycle(ctx, state, events.SagaCompensatedEvent, reason)

	telemetry.CountSaga(ctx, telemetry.SagaCompensated,
		attribute.String("step", string(StepPaymentProcessing)))

	return outcome, nil
}

// StartOrderCancellation undoes whatever a forward saga has already done to
// the order, based on the order's current status, and cancels it. From the
// caller's point of view it always completes synchronously.
func (o *Orchestrator) StartOrderCancellation(ctx context.Context, order *domain.Order, reason string) (models.ID, error) {
	if order == nil || order.ID.IsZero() {
		return "", errors.New("order is required")
	}

	correlationID := models.GenerateUUID()

	state := NewState(correlationID, order.ID, order.OrderNumber, StepOrderCancellation, o.now().Add(o.config.StepTimeout))
	state.Compensations = compensationsForStatus(order.Status)

	if err := o.store.Put(ctx, state); err != nil {
		return "", errors.Wrap(err, "failed to store saga state")
	}

	o.appendHistory(ctx, state, events.SagaStartedEvent, reason)

	if err := o.executeCompensations(ctx, state); err != nil {
		o.logger.Error().
			Str("correlation_id", correlationID.String()).
			Err(err).
			Msg("cancellation compensations partially failed")
	}

	if err := o.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, reason); err != nil {
		return "", errors.Wrap(err, "failed to update order status")
	}

	done, outcome, err := o.transition(ctx, correlationID, StepOrderCancellation, func(s *State) {
		s.CurrentStep = StepCompleted
		s.Status = StatusCompleted
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeAdvanced {
		o.publishLifecycle(ctx, done, events.SagaCompletedEvent, reason)
	}

	telemetry.CountSaga(ctx, telemetry.SagaStarted,
		attribute.String("kind", "order_cancellation"))

	return correlationID, nil
}

// FailTimedOut is invoked by the reconciler for sagas stuck past their step
// deadline. Queued compensations run; a saga with nothing to undo just fails.
func (o *Orchestrator) FailTimedOut(ctx context.Context, correlationID models.ID) (Outcome, error) {
	var timedOut *State
	var stuckStep Step

	for attempt := 0; attempt < casMaxRetries; attempt++ {
		state, err := o.store.Get(ctx, correlationID)
		if errors.Is(err, ErrNotFound) {
			return OutcomeUnknown, nil
		}
		if err != nil {
			return "", errors.Wrap(err, "failed to load saga state")
		}

		if state.Terminal() || o.now().Before(state.StepDeadline) {
			return OutcomeDuplicate, nil
		}

		updated := state.Clone()
		updated.CurrentStep = StepCompleted
		updated.FailureReason = timeoutReason
		if len(updated.Compensations) > 0 {
			updated.Status = StatusCompensated
		} else {
			updated.Status = StatusFailed
		}
		updated.Timestamps = updated.Timestamps.Update()
		updated.Version = updated.Version.Update()

		swapped, err := o.store.CompareAndSwap(ctx, state.Version.Value, updated)
		if err != nil {
			return "", errors.Wrap(err, "failed to store saga state")
		}
		if swapped {
			timedOut = updated
			stuckStep = state.CurrentStep
			break
		}
	}

	if timedOut == nil {
		return "", errors.Errorf("saga %s: gave up after repeated version conflicts", correlationID)
	}

	o.appendHistory(ctx, timedOut, lifecycleEventType(timedOut), timeoutReason)

	// A payment that never answered is a payment failure; anything else
	// stuck is cancelled outright.
	orderStatus := domain.OrderStatusCancelled
	if stuckStep == StepPaymentProcessing {
		orderStatus = domain.OrderStatusPaymentFailed
	}
	if err := o.orders.UpdateStatus(ctx, timedOut.OrderID, orderStatus, timeoutReason); err != nil {
		return OutcomeAdvanced, errors.Wrap(err, "failed to update order status")
	}

	if err := o.executeCompensations(ctx, timedOut); err != nil {
		return OutcomeAdvanced, err
	}

	o.publishLifecycle(ctx, timedOut, lifecycleEventType(timedOut), timeoutReason)

	o.logger.Warn().
		Str("correlation_id", correlationID.String()).
		Str("order_id", timedOut.OrderID.String()).
		Str("step", string(stuckStep)).
		Msg("saga timed out and was rolled back")

	telemetry.CountSaga(ctx, telemetry.SagaTimedOut,
		attribute.String("step", string(stuckStep)))

	return OutcomeAdvanced, nil
}

// GetSagaState returns the current snapshot for a correlation id
func (o *Orchestrator) GetSagaState(ctx context.Context, correlationID models.ID) (*State, error) {
	return o.store.Get(ctx, correlationID)
}

// ActiveSagas returns every saga still in progress
func (o *Orchestrator) ActiveSagas(ctx context.Context) ([]*State, error) {
	return o.store.Active(ctx)
}

// transition applies mutate to the saga identified by correlationID, guarded
// by a compare-and-swap on the state version. The mutation is only applied
// when the saga is still in progress at fromStep, which makes every callback
// idempotent under redelivery.
func (o *Orchestrator) transition(ctx context.Context, correlationID models.ID, fromStep Step, mutate func(*State)) (*State, Outcome, error) {
	for attempt := 0; attempt < casMaxRetries; attempt++ {
		state, err := o.store.Get(ctx, correlationID)
		if errors.Is(err, ErrNotFound) {
			o.logger.Warn().
				Str("correlation_id", correlationID.String()).
				Str("expected_step", string(fromStep)).
				Msg("callback for unknown saga, ignoring")
			telemetry.CountSaga(ctx, telemetry.SagaUnknownCallback)
			return nil, OutcomeUnknown, nil
		}
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to load saga state")
		}

		if state.Terminal() || state.CurrentStep != fromStep {
			o.logger.Warn().
				Str("correlation_id", correlationID.String()).
				Str("expected_step", string(fromStep)).
				Str("current_step", string(state.CurrentStep)).
				Str("status", string(state.Status)).
				Msg("duplicate or stale callback, ignoring")
			telemetry.CountSaga(ctx, telemetry.SagaDuplicateCallback)
			return nil, OutcomeDuplicate, nil
		}

		updated := state.Clone()
		mutate(updated)
		updated.Timestamps = updated.Timestamps.Update()
		updated.Version = updated.Version.Update()

		swapped, err := o.store.CompareAndSwap(ctx, state.Version.Value, updated)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to store saga state")
		}
		if swapped {
			o.appendHistory(ctx, updated, lifecycleEventType(updated), updated.FailureReason)
			return updated, OutcomeAdvanced, nil
		}
		// Lost the race against a concurrent redelivery; re-read and re-check.
	}

	return nil, "", errors.Errorf("saga %s: gave up after repeated version conflicts", correlationID)
}

// compensationsForStatus derives the undo actions a cancellation saga has to
// run for an order in the given status
func compensationsForStatus(status domain.OrderStatus) []Compensation {
	switch status {
	case domain.OrderStatusPaid, domain.OrderStatusConfirmed:
		return []Compensation{CompensationReleaseInventory, CompensationRefundPayment}
	case domain.OrderStatusInventoryReserved, domain.OrderStatusPaymentProcessing:
		return []Compensation{CompensationReleaseInventory}
	default:
		return nil
	}
}

// lifecycleEventType maps a state to the saga lifecycle event describing it
func lifecycleEventType(state *State) string {
	switch state.Status {
	case StatusCompleted:
		return events.SagaCompletedEvent
	case StatusFailed:
		return events.SagaFailedEvent
	case StatusCompensated:
		return events.SagaCompensatedEvent
	default:
		return events.SagaStepAdvancedEvent
	}
}

// publishLifecycle announces a terminal saga transition on the bus
func (o *Orchestrator) publishLifecycle(ctx context.Context, state *State, eventType, reason string) {
	event := events.NewEvent(state.OrderID, eventType, events.SagaLifecycleData{
		CorrelationID: state.CorrelationID,
		OrderID:       state.OrderID,
		Step:          string(state.CurrentStep),
		Status:        string(state.Status),
		Reason:        reason,
	}).WithCorrelationID(state.CorrelationID)

	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error().
			Str("correlation_id", state.CorrelationID.String()).
			Str("event_type", eventType).
			Err(err).
			Msg("failed to publish saga lifecycle event")
	}
}

// appendHistory records a transition in the saga audit stream, best effort
func (o *Orchestrator) appendHistory(ctx context.Context, state *State, eventType, reason string) {
	if o.history == nil {
		return
	}

	event := events.NewEvent(state.CorrelationID, eventType, events.SagaLifecycleData{
		CorrelationID: state.CorrelationID,
		OrderID:       state.OrderID,
		Step:          string(state.CurrentStep),
		Status:        string(state.Status),
		Reason:        reason,
	}).WithCorrelationID(state.CorrelationID)

	if err := o.history.SaveEvents(ctx, state.CorrelationID, []*events.Event{event}, state.Version.Value-1); err != nil {
		o.logger.Warn().
			Str("correlation_id", state.CorrelationID.String()).
			Err(err).
			Msg("failed to append saga history")
	}
}
