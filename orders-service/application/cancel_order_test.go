package application

import (
	"context"
	"testing"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/orders-service/mocks"
	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/commercehq/order-system/shared/events"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func paidOrder(t *testing.T) *domain.Order {
	t.Helper()

	order, err := domain.CreateOrder(
		models.GenerateUUID(),
		"ORD-1001",
		[]domain.OrderItem{
			{
				ProductID: models.GenerateUUID(),
				SKU:       "SKU-RED-42",
				Quantity:  1,
				UnitPrice: models.NewMoney(2500, "USD"),
			},
		},
		"credit_card",
	)
	require.NoError(t, err)
	order.ClearEvents()
	order.Status = domain.OrderStatusPaid

	return order
}

func TestCancelOrder_Execute(t *testing.T) {
	order := paidOrder(t)

	tests := []struct {
		name          string
		command       *CancelOrderCommand
		setupMocks    func(*mocks.MockOrderRepository, *mocks.MockPublisher)
		expectedError string
	}{
		{
			name: "paid order is refunded and released before cancelling",
			command: &CancelOrderCommand{
				OrderID: order.ID.String(),
				Reason:  "customer request",
			},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().FindByID(mock.Anything, order.ID).Return(order, nil).Once()
				repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusCancelled, "customer request").Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.PaymentRefundRequestedEvent
				})).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.InventoryReleaseRequestedEvent
				})).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.SagaCompletedEvent
				})).Return(nil).Once()
			},
		},
		{
			name: "missing order ID",
			command: &CancelOrderCommand{
				Reason: "customer request",
			},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				// No expectations - should fail validation
			},
			expectedError: "order ID is required",
		},
		{
			name: "missing reason",
			command: &CancelOrderCommand{
				OrderID: order.ID.String(),
			},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				// No expectations - should fail validation
			},
			expectedError: "reason is required",
		},
		{
			name: "order not found",
			command: &CancelOrderCommand{
				OrderID: "550e8400-e29b-41d4-a716-446655440099",
				Reason:  "customer request",
			},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().FindByID(mock.Anything, models.ID("550e8400-e29b-41d4-a716-446655440099")).
					Return(nil, nil).Once()
			},
			expectedError: "not found",
		},
		{
			name: "already cancelled order",
			command: &CancelOrderCommand{
				OrderID: order.ID.String(),
				Reason:  "customer request",
			},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				cancelled := paidOrder(t)
				cancelled.ID = order.ID
				cancelled.Status = domain.OrderStatusCancelled
				repo.EXPECT().FindByID(mock.Anything, order.ID).Return(cancelled, nil).Once()
			},
			expectedError: "cannot be cancelled",
		},
		{
			name: "repository error",
			command: &CancelOrderCommand{
				OrderID: order.ID.String(),
				Reason:  "customer request",
			},
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().FindByID(mock.Anything, order.ID).
					Return(nil, errors.New("database error")).Once()
			},
			expectedError: "failed to find order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := mocks.NewMockOrderRepository(t)
			mockPublisher := mocks.NewMockPublisher(t)

			tt.setupMocks(mockRepo, mockPublisher)

			orchestrator := saga.NewOrchestrator(
				saga.NewMemoryStore(),
				mockRepo,
				mockPublisher,
				zerolog.Nop(),
				saga.Config{
					StepTimeout:            time.Minute,
					CompensationMaxRetries: 1,
					CompensationBackoffMin: time.Millisecond,
					CompensationBackoffMax: time.Millisecond,
				},
			)

			useCase := NewCancelOrder(mockRepo, orchestrator)

			result, err := useCase.Execute(context.Background(), tt.command)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, result)
			assert.Equal(t, order.ID.String(), result.OrderID)
			assert.NotEmpty(t, result.CorrelationID)

			state, err := orchestrator.GetSagaState(context.Background(), models.ID(result.CorrelationID))
			require.NoError(t, err)
			assert.Equal(t, saga.StatusCompleted, state.Status)
			assert.Equal(t, []saga.Compensation{saga.CompensationReleaseInventory, saga.CompensationRefundPayment}, state.Compensations)
		})
	}
}
