package application

import (
	"context"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/commercehq/order-system/shared/events"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

// CreateOrderItem is one order line in the create order command
type CreateOrderItem struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
}

// CreateOrderCommand represents the command to create an order
type CreateOrderCommand struct {
	UserID        string            `json:"user_id"`
	OrderNumber   string            `json:"order_number"`
	Items         []CreateOrderItem `json:"items"`
	PaymentMethod string            `json:"payment_method"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
}

// CreateOrder use case: persists a new order and starts its processing saga
type CreateOrder struct {
	orderRepository domain.OrderRepository
	eventPublisher  events.Publisher
	orchestrator    *saga.Orchestrator
}

// NewCreateOrder creates a new CreateOrder use case
func NewCreateOrder(
	orderRepository domain.OrderRepository,
	eventPublisher events.Publisher,
	orchestrator *saga.Orchestrator,
) *CreateOrder {
	return &CreateOrder{
		orderRepository: orderRepository,
		eventPublisher:  eventPublisher,
		orchestrator:    orchestrator,
	}
}

// Execute executes the create order use case
func (uc *CreateOrder) Execute(ctx context.Context, cmd *CreateOrderCommand) (*CreateOrderResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	userID, err := models.NewID(cmd.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user ID")
	}

	items := make([]domain.OrderItem, len(cmd.Items))
	for i, item := range cmd.Items {
		productID, err := models.NewID(item.ProductID)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid product ID at item %d", i)
		}

		items[i] = domain.OrderItem{
			ProductID: productID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: models.NewMoney(item.UnitPrice, item.Currency),
		}
	}

	order, err := domain.CreateOrder(userID, cmd.OrderNumber, items, cmd.PaymentMethod)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}

	if err := uc.orderRepository.Save(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to save order")
	}

	if err := uc.eventPublisher.Publish(ctx, order.Events()...); err != nil {
		return nil, errors.Wrap(err, "failed to publish events")
	}
	order.ClearEvents()

	correlationID, err := uc.orchestrator.StartOrderProcessing(ctx, order)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start order processing saga")
	}

	return &CreateOrderResponse{
		OrderID:       order.ID.String(),
		CorrelationID: correlationID.String(),
	}, nil
}

// validateCommand validates the create order command
func (uc *CreateOrder) validateCommand(cmd *CreateOrderCommand) error {
	if cmd.UserID == "" {
		return errors.New("user ID is required")
	}

	if cmd.OrderNumber == "" {
		return errors.New("order number is required")
	}

	if len(cmd.Items) == 0 {
		return errors.New("at least one item is required")
	}

	for i, item := range cmd.Items {
		if item.ProductID == "" {
			return errors.Errorf("product ID is required at item %d", i)
		}
		if item.Quantity <= 0 {
			return errors.Errorf("quantity must be positive at item %d", i)
		}
		if item.UnitPrice < 0 {
			return errors.Errorf("unit price cannot be negative at item %d", i)
		}
		if item.Currency == "" {
			return errors.Errorf("currency is required at item %d", i)
		}
	}

	if cmd.PaymentMethod == "" {
		return errors.New("payment method is required")
	}

	return nil
}
