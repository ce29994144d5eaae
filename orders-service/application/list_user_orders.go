package application

import (
	"context"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

// ListUserOrdersQuery represents the query to list a user's orders
type ListUserOrdersQuery struct {
	UserID string `json:"user_id"`
}

// ListUserOrdersResponse represents the user's orders, newest first
type ListUserOrdersResponse struct {
	Orders []*GetOrderResponse `json:"orders"`
	Count  int                 `json:"count"`
}

// ListUserOrders use case
type ListUserOrders struct {
	orderRepository domain.OrderRepository
}

// NewListUserOrders creates a new ListUserOrders use case
func NewListUserOrders(orderRepository domain.OrderRepository) *ListUserOrders {
	return &ListUserOrders{
		orderRepository: orderRepository,
	}
}

// Execute executes the list user orders use case
func (uc *ListUserOrders) Execute(ctx context.Context, query *ListUserOrdersQuery) (*ListUserOrdersResponse, error) {
	if query.UserID == "" {
		return nil, errors.New("user ID is required")
	}

	userID, err := models.NewID(query.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user ID")
	}

	orders, err := uc.orderRepository.FindByUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find orders")
	}

	views := make([]*GetOrderResponse, len(orders))
	for i, order := range orders {
		views[i] = &GetOrderResponse{
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
		}
	}

	return &ListUserOrdersResponse{
		Orders: views,
		Count:  len(views),
	}, nil
}
