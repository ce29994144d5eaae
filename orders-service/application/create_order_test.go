package application

import (
	"context"
	"testing"
	"time"

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

func validCreateCommand() *CreateOrderCommand {
	return &CreateOrderCommand{
		UserID:      "550e8400-e29b-41d4-a716-446655440010",
		OrderNumber: "ORD-1001",
		Items: []CreateOrderItem{
			{
				ProductID: "550e8400-e29b-41d4-a716-446655440001",
				SKU:       "SKU-RED-42",
				Quantity:  2,
				UnitPrice: 2500,
				Currency:  "USD",
			},
		},
		PaymentMethod: "credit_card",
	}
}

func TestCreateOrder_Execute(t *testing.T) {
	tests := []struct {
		name          string
		command       *CreateOrderCommand
		setupMocks    func(*mocks.MockOrderRepository, *mocks.MockPublisher)
		expectedError string
	}{
		{
			name:    "successful order creation starts the saga",
			command: validCreateCommand(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.OrderCreatedEvent
				})).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.InventoryReservationRequestedEvent
				})).Return(nil).Once()
			},
		},
		{
			name: "missing user ID",
			command: func() *CreateOrderCommand {
				cmd := validCreateCommand()
				cmd.UserID = ""
				return cmd
			}(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				// No expectations - should fail validation
			},
			expectedError: "user ID is required",
		},
		{
			name: "no items",
			command: func() *CreateOrderCommand {
				cmd := validCreateCommand()
				cmd.Items = nil
				return cmd
			}(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				// No expectations - should fail validation
			},
			expectedError: "at least one item is required",
		},
		{
			name: "zero quantity",
			command: func() *CreateOrderCommand {
				cmd := validCreateCommand()
				cmd.Items[0].Quantity = 0
				return cmd
			}(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				// No expectations - should fail validation
			},
			expectedError: "quantity must be positive",
		},
		{
			name: "invalid product ID",
			command: func() *CreateOrderCommand {
				cmd := validCreateCommand()
				cmd.Items[0].ProductID = "not-a-uuid"
				return cmd
			}(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				// No expectations - should fail before calling mocks
			},
			expectedError: "invalid product ID",
		},
		{
			name:    "repository save error",
			command: validCreateCommand(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.Order")).
					Return(errors.New("database error")).Once()
			},
			expectedError: "failed to save order",
		},
		{
			name:    "event publisher error",
			command: validCreateCommand(),
			setupMocks: func(repo *mocks.MockOrderRepository, publisher *mocks.MockPublisher) {
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.Anything).
					Return(errors.New("publisher error")).Once()
			},
			expectedError: "failed to publish events",
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

			useCase := NewCreateOrder(mockRepo, mockPublisher, orchestrator)

			result, err := useCase.Execute(context.Background(), tt.command)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, result)
			assert.NotEmpty(t, result.OrderID)
			assert.NotEmpty(t, result.CorrelationID)

			_, err = models.NewID(result.OrderID)
			assert.NoError(t, err)

			state, err := orchestrator.GetSagaState(context.Background(), models.ID(result.CorrelationID))
			require.NoError(t, err)
			assert.Equal(t, saga.StepInventoryReservation, state.CurrentStep)
			assert.Equal(t, saga.StatusInProgress, state.Status)
		})
	}
}
