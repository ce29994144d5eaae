package domain

import (
	"testing"

	"github.com/commercehq/order-system/shared/events"
	"github.com/commercehq/order-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validItems() []OrderItem {
	return []OrderItem{
		{
			ProductID: models.GenerateUUID(),
			SKU:       "SKU-RED-42",
			Quantity:  2,
			UnitPrice: models.NewMoney(2500, "USD"),
		},
		{
			ProductID: models.GenerateUUID(),
			SKU:       "SKU-BLUE-7",
			Quantity:  1,
			UnitPrice: models.NewMoney(999, "USD"),
		},
	}
}

func TestCreateOrder(t *testing.T) {
	userID := models.GenerateUUID()

	tests := []struct {
		name          string
		userID        models.ID
		orderNumber   string
		items         []OrderItem
		paymentMethod string
		expectedError string
	}{
		{
			name:          "valid order",
			userID:        userID,
			orderNumber:   "ORD-1001",
			items:         validItems(),
			paymentMethod: "credit_card",
		},
		{
			name:          "missing user ID",
			orderNumber:   "ORD-1001",
			items:         validItems(),
			paymentMethod: "credit_card",
			expectedError: "user ID is required",
		},
		{
			name:          "missing order number",
			userID:        userID,
			items:         validItems(),
			paymentMethod: "credit_card",
			expectedError: "order number is required",
		},
		{
			name:          "no items",
			userID:        userID,
			orderNumber:   "ORD-1001",
			paymentMethod: "credit_card",
			expectedError: "order must contain at least one item",
		},
		{
			name:          "missing payment method",
			userID:        userID,
			orderNumber:   "ORD-1001",
			items:         validItems(),
			expectedError: "payment method is required",
		},
		{
			name:        "zero quantity",
			userID:      userID,
			orderNumber: "ORD-1001",
			items: []OrderItem{
				{ProductID: models.GenerateUUID(), SKU: "SKU-1", Quantity: 0, UnitPrice: models.NewMoney(100, "USD")},
			},
			paymentMethod: "credit_card",
			expectedError: "item quantity must be positive",
		},
		{
			name:        "zero unit price",
			userID:      userID,
			orderNumber: "ORD-1001",
			items: []OrderItem{
				{ProductID: models.GenerateUUID(), SKU: "SKU-1", Quantity: 1, UnitPrice: models.NewMoney(0, "USD")},
			},
			paymentMethod: "credit_card",
			expectedError: "item unit price must be positive",
		},
		{
			name:        "mixed currencies",
			userID:      userID,
			orderNumber: "ORD-1001",
			items: []OrderItem{
				{ProductID: models.GenerateUUID(), SKU: "SKU-1", Quantity: 1, UnitPrice: models.NewMoney(100, "USD")},
				{ProductID: models.GenerateUUID(), SKU: "SKU-2", Quantity: 1, UnitPrice: models.NewMoney(100, "EUR")},
			},
			paymentMethod: "credit_card",
			expectedError: "order items must share one currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := CreateOrder(tt.userID, tt.orderNumber, tt.items, tt.paymentMethod)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, order)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, order)
			assert.Equal(t, OrderStatusPending, order.Status)
			assert.Equal(t, models.NewMoney(5999, "USD"), order.Total)
			assert.Equal(t, 1, order.Version.Value)

			evts := order.Events()
			require.Len(t, evts, 1)
			assert.Equal(t, events.OrderCreatedEvent, evts[0].EventType)
			assert.Equal(t, order.ID, evts[0].AggregateID)

			order.ClearEvents()
			assert.Empty(t, order.Events())
		})
	}
}

func TestOrder_CanCancel(t *testing.T) {
	order, err := CreateOrder(models.GenerateUUID(), "ORD-1001", validItems(), "credit_card")
	require.NoError(t, err)

	assert.NoError(t, order.CanCancel())

	order.Status = OrderStatusConfirmed
	assert.NoError(t, order.CanCancel())

	order.Status = OrderStatusCancelled
	assert.Error(t, order.CanCancel())
}

func TestOrderItem_Subtotal(t *testing.T) {
	item := OrderItem{
		ProductID: models.GenerateUUID(),
		SKU:       "SKU-1",
		Quantity:  3,
		UnitPrice: models.NewMoney(250, "USD"),
	}
	assert.Equal(t, models.NewMoney(750, "USD"), item.Subtotal())
}
