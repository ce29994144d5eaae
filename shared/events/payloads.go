package events

import (
	"github.com/commercehq/order-system/shared/models"
)

// Payload contracts for the order saga channels. Collaborating services
// (inventory, payments) consume the *Requested payloads and reply with the
// result payloads carrying the same correlation id.

// ReservationItem is one line of an inventory reservation request
type ReservationItem struct {
	ProductID models.ID `json:"product_id"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
}

// InventoryReservationRequestedData requests stock reservation for an order
type InventoryReservationRequestedData struct {
	CorrelationID models.ID         `json:"correlation_id"`
	OrderID       models.ID         `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	Items         []ReservationItem `json:"items"`
}

// InventoryReservationResultData is published by the inventory service
type InventoryReservationResultData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
	Reason        string    `json:"reason,omitempty"`
}

// InventoryReleaseRequestedData compensates a prior reservation
type InventoryReleaseRequestedData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
}

// PaymentProcessingRequestedData requests a charge for an order
type PaymentProcessingRequestedData struct {
	CorrelationID models.ID    `json:"correlation_id"`
	OrderID       models.ID    `json:"order_id"`
	OrderNumber   string       `json:"order_number"`
	UserID        models.ID    `json:"user_id"`
	Amount        models.Money `json:"amount"`
	PaymentMethod string       `json:"payment_method"`
}

// PaymentResultData is published by the payments service
type PaymentResultData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
	Reason        string    `json:"reason,omitempty"`
}

// PaymentRefundRequestedData compensates a prior charge
type PaymentRefundRequestedData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
}

// SagaLifecycleData describes a saga transition for the audit stream
type SagaLifecycleData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
	Step          string    `json:"step"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
}

// CompensationDeadletterData records a compensation whose publish never succeeded
type CompensationDeadletterData struct {
	CorrelationID models.ID `json:"correlation_id"`
	OrderID       models.ID `json:"order_id"`
	Action        string    `json:"action"`
	Attempts      int       `json:"attempts"`
	Reason        string    `json:"reason"`
}
