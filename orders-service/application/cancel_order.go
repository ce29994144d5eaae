package application

import (
	"context"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

// CancelOrderCommand represents the command to cancel an order
type CancelOrderCommand struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// CancelOrderResponse represents the response after cancelling an order
type CancelOrderResponse struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
}

// CancelOrder use case: starts a cancellation saga that undoes any completed
// forward steps before cancelling the order
type CancelOrder struct {
	orderRepository domain.OrderRepository
	orchestrator    *saga.Orchestrator
}

// NewCancelOrder creates a new CancelOrder use case
func NewCancelOrder(
	orderRepository domain.OrderRepository,
	orchestrator *saga.Orchestrator,
) *CancelOrder {
	return &CancelOrder{
		orderRepository: orderRepository,
		orchestrator:    orchestrator,
	}
}

// Execute executes the cancel order use case
func (uc *CancelOrder) Execute(ctx context.Context, cmd *CancelOrderCommand) (*CancelOrderResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	orderID, err := models.NewID(cmd.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	order, err := uc.orderRepository.FindByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}
	if order == nil {
		return nil, errors.Errorf("order %s not found", cmd.OrderID)
	}

	if err := order.CanCancel(); err != nil {
		return nil, errors.Wrap(err, "order cannot be cancelled")
	}

	correlationID, err := uc.orchestrator.StartOrderCancellation(ctx, order, cmd.Reason)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start cancellation saga")
	}

	return &CancelOrderResponse{
		OrderID:       order.ID.String(),
		CorrelationID: correlationID.String(),
	}, nil
}

// validateCommand validates the cancel order command
func (uc *CancelOrder) validateCommand(cmd *CancelOrderCommand) error {
	if cmd.OrderID == "" {
		return errors.New("order ID is required")
	}

	if cmd.Reason == "" {
		return errors.New("reason is required")
	}

	return nil
}
