package application

import (
	"context"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

// GetOrderQuery represents the query to get an order
type GetOrderQuery struct {
	OrderID string `json:"order_id"`
}

// GetOrderResponse represents the response for getting an order
type GetOrderResponse struct {
	OrderID       string             `json:"order_id"`
	OrderNumber   string             `json:"order_number"`
	UserID        string             `json:"user_id"`
	Items         []domain.OrderItem `json:"items"`
	TotalAmount   int64              `json:"total_amount"`
	Currency      string             `json:"currency"`
	PaymentMethod string             `json:"payment_method"`
	Status        string             `json:"status"`
	StatusReason  string             `json:"status_reason,omitempty"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
}

// GetOrder use case
type GetOrder struct {
	orderRepository domain.OrderRepository
}

// NewGetOrder creates a new GetOrder use case
func NewGetOrder(orderRepository domain.OrderRepository) *GetOrder {
	return &GetOrder{
		orderRepository: orderRepository,
	}
}

// Execute executes the get order use case
func (uc *GetOrder) Execute(ctx context.Context, query *GetOrderQuery) (*GetOrderResponse, error) {
	if query.OrderID == "" {
		return nil, errors.New("order ID is required")
	}

	orderID, err := models.NewID(query.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	order, err := uc.orderRepository.FindByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}

	if order == nil {
		return nil, errors.New("order not found")
	}

	return &GetOrderResponse{
		OrderID:       order.ID.String(),
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID.String(),
		Items:         order.Items,
		TotalAmount:   order.Total.Amount,
		Currency:      order.Total.Currency,
		PaymentMethod: order.PaymentMethod,
		Status:        string(order.Status),
		StatusReason:  order.StatusReason,
		CreatedAt:     order.Timestamps.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     order.Timestamps.UpdatedAt.Format(time.RFC3339),
	}, nil
}
