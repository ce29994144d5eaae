package domain

import (
	"context"

	"github.com/commercehq/order-system/shared/events"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending           OrderStatus = "pending"
	OrderStatusInventoryReserved OrderStatus = "inventory_reserved"
	OrderStatusPaymentProcessing OrderStatus = "payment_processing"
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusConfirmed         OrderStatus = "confirmed"
	OrderStatusPaymentFailed     OrderStatus = "payment_failed"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

// OrderItem is one line of an order
type OrderItem struct {
	ProductID models.ID    `json:"product_id"`
	SKU       string       `json:"sku"`
	Quantity  int          `json:"quantity"`
	UnitPrice models.Money `json:"unit_price"`
}

// Subtotal returns quantity times unit price
func (i OrderItem) Subtotal() models.Money {
	return i.UnitPrice.Multiply(i.Quantity)
}

// Order aggregate root
type Order struct {
	ID            models.ID
	OrderNumber   string
	UserID        models.ID
	Items         []OrderItem
	Total         models.Money
	PaymentMethod string
	Status        OrderStatus
	StatusReason  string
	Timestamps    models.Timestamps
	Version       models.Version

	events []*events.Event
}

// CreateOrder factory method
func CreateOrder(userID models.ID, orderNumber string, items []OrderItem, paymentMethod string) (*Order, error) {
	if userID.IsZero() {
		return nil, errors.New("user ID is required")
	}

	if orderNumber == "" {
		return nil, errors.New("order number is required")
	}

	if len(items) == 0 {
		return nil, errors.New("order must contain at least one item")
	}

	if paymentMethod == "" {
		return nil, errors.New("payment method is required")
	}

	total := models.NewMoney(0, items[0].UnitPrice.Currency)
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, errors.New("item quantity must be positive")
		}
		if !item.UnitPrice.IsPositive() {
			return nil, errors.New("item unit price must be positive")
		}

		sum, err := total.Add(item.Subtotal())
		if err != nil {
			return nil, errors.Wrap(err, "order items must share one currency")
		}
		total = sum
	}

	order := &Order{
		ID:            models.GenerateUUID(),
		OrderNumber:   orderNumber,
		UserID:        userID,
		Items:         items,
		Total:         total,
		PaymentMethod: paymentMethod,
		Status:        OrderStatusPending,
		Timestamps:    models.NewTimestamps(),
		Version:       models.NewVersion(),
	}

	event := events.NewEvent(order.ID, events.OrderCreatedEvent, OrderCreatedData{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Items:         order.Items,
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
	})

	order.recordEvent(event)
	return order, nil
}

// CanCancel reports whether a cancellation saga may be started for the order
func (o *Order) CanCancel() error {
	if o.Status == OrderStatusCancelled {
		return errors.New("order is already cancelled")
	}
	return nil
}

// Events returns domain events
func (o *Order) Events() []*events.Event {
	return o.events
}

// ClearEvents clears domain events
func (o *Order) ClearEvents() {
	o.events = make([]*events.Event, 0)
}

// recordEvent records a domain event
func (o *Order) recordEvent(event *events.Event) {
	o.events = append(o.events, event)
}

// Event Data Structures
type OrderCreatedData struct {
	OrderID       models.ID    `json:"order_id"`
	OrderNumber   string       `json:"order_number"`
	UserID        models.ID    `json:"user_id"`
	Items         []OrderItem  `json:"items"`
	Total         models.Money `json:"total"`
	PaymentMethod string       `json:"payment_method"`
}

type OrderStatusChangedData struct {
	OrderID models.ID   `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Reason  string      `json:"reason,omitempty"`
}

// OrderRepository interface
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id models.ID) (*Order, error)
	FindByUserID(ctx context.Context, userID models.ID) ([]*Order, error)
	UpdateStatus(ctx context.Context, id models.ID, status OrderStatus, reason string) error
}
