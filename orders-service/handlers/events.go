package handlers

import (
	"context"

	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/commercehq/order-system/shared/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// OrderEventHandlers routes reservation and payment result events from the
// broker into the saga orchestrator. Redelivered events are absorbed by the
// orchestrator's idempotence guard, so handlers never fail on duplicates.
type OrderEventHandlers struct {
	orchestrator *saga.Orchestrator
	logger       zerolog.Logger
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(orchestrator *saga.Orchestrator, logger zerolog.Logger) *OrderEventHandlers {
	return &OrderEventHandlers{
		orchestrator: orchestrator,
		logger:       logger.With().Str("component", "order_event_handlers").Logger(),
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *OrderEventHandlers) HandlerID() string {
	return "orders-service-event-handler"
}

// Handle implements the events.EventHandler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.InventoryReservedEvent:
		return h.HandleInventoryReserved(ctx, event)
	case events.InventoryReservationFailedEvent:
		return h.HandleInventoryReservationFailed(ctx, event)
	case events.PaymentCompletedEvent:
		return h.HandlePaymentCompleted(ctx, event)
	case events.PaymentFailedEvent:
		return h.HandlePaymentFailed(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandleInventoryReserved handles successful reservation callbacks
func (h *OrderEventHandlers) HandleInventoryReserved(ctx context.Context, event *events.Event) error {
	var data events.InventoryReservationResultData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to parse inventory reserved data")
	}

	outcome, err := h.orchestrator.HandleInventoryReservationSuccess(ctx, data.CorrelationID, data.OrderID)
	if err != nil {
		return errors.Wrap(err, "failed to handle inventory reserved")
	}

	h.logOutcome(event, outcome)
	return nil
}

// HandleInventoryReservationFailed handles failed reservation callbacks
func (h *OrderEventHandlers) HandleInventoryReservationFailed(ctx context.Context, event *events.Event) error {
	var data events.InventoryReservationResultData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to parse inventory reservation failed data")
	}

	outcome, err := h.orchestrator.HandleInventoryReservationFailure(ctx, data.CorrelationID, data.OrderID, data.Reason)
	if err != nil {
		return errors.Wrap(err, "failed to handle inventory reservation failure")
	}

	h.logOutcome(event, outcome)
	return nil
}

// HandlePaymentCompleted handles successful payment callbacks
func (h *OrderEventHandlers) HandlePaymentCompleted(ctx context.Context, event *events.Event) error {
	var data events.PaymentResultData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to parse payment completed data")
	}

	outcome, err := h.orchestrator.HandlePaymentSuccess(ctx, data.CorrelationID, data.OrderID)
	if err != nil {
		return errors.Wrap(err, "failed to handle payment completed")
	}

	h.logOutcome(event, outcome)
	return nil
}

// HandlePaymentFailed handles failed payment callbacks
func (h *OrderEventHandlers) HandlePaymentFailed(ctx context.Context, event *events.Event) error {
	var data events.PaymentResultData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to parse payment failed data")
	}

	outcome, err := h.orchestrator.HandlePaymentFailure(ctx, data.CorrelationID, data.OrderID, data.Reason)
	if err != nil {
		return errors.Wrap(err, "failed to handle payment failure")
	}

	h.logOutcome(event, outcome)
	return nil
}

func (h *OrderEventHandlers) logOutcome(event *events.Event, outcome saga.Outcome) {
	h.logger.Debug().
		Str("event_type", event.EventType).
		Str("correlation_id", event.CorrelationID.String()).
		Str("outcome", string(outcome)).
		Msg("saga callback processed")
}
