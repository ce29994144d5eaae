package saga

import (
	"context"
	"testing"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/orders-service/mocks"
	"github.com/commercehq/order-system/shared/events"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testOrder(t *testing.T) *domain.Order {
	t.Helper()

	order, err := domain.CreateOrder(
		models.GenerateUUID(),
		"ORD-1001",
		[]domain.OrderItem{
			{
				ProductID: models.GenerateUUID(),
				SKU:       "SKU-RED-42",
				Quantity:  2,
				UnitPrice: models.NewMoney(2500, "USD"),
			},
		},
		"credit_card",
	)
	require.NoError(t, err)
	order.ClearEvents()

	return order
}

func newTestOrchestrator(t *testing.T, config Config) (*Orchestrator, *mocks.MockOrderRepository, *mocks.MockPublisher) {
	t.Helper()

	repo := mocks.NewMockOrderRepository(t)
	publisher := mocks.NewMockPublisher(t)
	orch := NewOrchestrator(NewMemoryStore(), repo, publisher, zerolog.Nop(), config)

	return orch, repo, publisher
}

func fastConfig() Config {
	return Config{
		StepTimeout:            5 * time.Minute,
		CompensationMaxRetries: 3,
		CompensationBackoffMin: time.Millisecond,
		CompensationBackoffMax: 2 * time.Millisecond,
	}
}

func eventOfType(eventType string) interface{} {
	return mock.MatchedBy(func(evt *events.Event) bool {
		return evt.EventType == eventType
	})
}

func TestOrchestrator_HappyPath(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.PaymentProcessingRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.OrderConfirmedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaCompletedEvent)).Return(nil).Once()

	repo.EXPECT().FindByID(mock.Anything, order.ID).Return(order, nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusInventoryReserved, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentProcessing, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaid, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusConfirmed, "").Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)
	require.NotEmpty(t, correlationID)

	outcome, err := orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	outcome, err = orch.HandlePaymentSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, state.CurrentStep)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []Compensation{CompensationReleaseInventory, CompensationRefundPayment}, state.Compensations)
	assert.True(t, state.Terminal())
}

func TestOrchestrator_InventoryReservationFailure(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaFailedEvent)).Return(nil).Once()

	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusCancelled, "out of stock").Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)

	outcome, err := orch.HandleInventoryReservationFailure(ctx, correlationID, order.ID, "out of stock")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, state.Status)
	assert.Equal(t, "out of stock", state.FailureReason)
	// Nothing was reserved, so nothing was released.
	assert.Empty(t, state.Compensations)
}

func TestOrchestrator_PaymentFailureCompensates(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.PaymentProcessingRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReleaseRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaCompensatedEvent)).Return(nil).Once()

	repo.EXPECT().FindByID(mock.Anything, order.ID).Return(order, nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusInventoryReserved, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentProcessing, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentFailed, "card declined").Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)

	_, err = orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)

	outcome, err := orch.HandlePaymentFailure(ctx, correlationID, order.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, state.Status)
	assert.Equal(t, "card declined", state.FailureReason)
	assert.True(t, state.Terminal())
}

func TestOrchestrator_DuplicateCallbackIsNoOp(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	// Side effects are expected exactly once even though the callback
	// arrives twice.
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.PaymentProcessingRequestedEvent)).Return(nil).Once()

	repo.EXPECT().FindByID(mock.Anything, order.ID).Return(order, nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusInventoryReserved, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentProcessing, "").Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)

	outcome, err := orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	outcome, err = orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StepPaymentProcessing, state.CurrentStep)
	assert.Equal(t, []Compensation{CompensationReleaseInventory}, state.Compensations)
}

func TestOrchestrator_UnknownCorrelationIsNoOp(t *testing.T) {
	ctx := context.Background()
	orch, _, _ := newTestOrchestrator(t, fastConfig())

	outcome, err := orch.HandlePaymentSuccess(ctx, models.GenerateUUID(), models.GenerateUUID())
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)
}

func TestOrchestrator_TerminalStateIsImmutable(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaFailedEvent)).Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusCancelled, "out of stock").Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)

	_, err = orch.HandleInventoryReservationFailure(ctx, correlationID, order.ID, "out of stock")
	require.NoError(t, err)

	before, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)

	// Late callbacks against a finished saga change nothing.
	outcome, err := orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	outcome, err = orch.HandlePaymentFailure(ctx, correlationID, order.ID, "late failure")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	after, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestOrchestrator_CancellationOfPaidOrderCompensatesInReverse(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)
	order.Status = domain.OrderStatusPaid

	var published []string
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).RunAndReturn(func(_ context.Context, evts ...*events.Event) error {
		for _, evt := range evts {
			published = append(published, evt.EventType)
		}
		return nil
	})

	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusCancelled, "customer request").Return(nil).Once()

	correlationID, err := orch.StartOrderCancellation(ctx, order, "customer request")
	require.NoError(t, err)

	// The refund undoes the most recent step, so it goes out first.
	assert.Equal(t, []string{
		events.PaymentRefundRequestedEvent,
		events.InventoryReleaseRequestedEvent,
		events.SagaCompletedEvent,
	}, published)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, StepCompleted, state.CurrentStep)
}

func TestOrchestrator_CancellationOfPendingOrderHasNothingToUndo(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaCompletedEvent)).Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusCancelled, "changed my mind").Return(nil).Once()

	correlationID, err := orch.StartOrderCancellation(ctx, order, "changed my mind")
	require.NoError(t, err)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Empty(t, state.Compensations)
}

func TestOrchestrator_FailTimedOut(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())
	order := testOrder(t)

	now := time.Now()
	orch.WithClock(func() time.Time { return now })

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.PaymentProcessingRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReleaseRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaCompensatedEvent)).Return(nil).Once()

	repo.EXPECT().FindByID(mock.Anything, order.ID).Return(order, nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusInventoryReserved, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentProcessing, "").Return(nil).Once()
	// Timing out while waiting on the payment marks the order payment_failed,
	// not cancelled.
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentFailed, timeoutReason).Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)

	_, err = orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)

	// Before the deadline the saga is left alone.
	outcome, err := orch.FailTimedOut(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	now = now.Add(fastConfig().StepTimeout + time.Second)

	outcome, err = orch.FailTimedOut(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)

	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, state.Status)
	assert.Equal(t, timeoutReason, state.FailureReason)

	// A second sweep finds the saga already terminal.
	outcome, err = orch.FailTimedOut(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestOrchestrator_CompensationDeadletter(t *testing.T) {
	ctx := context.Background()
	config := fastConfig()
	config.CompensationMaxRetries = 2
	orch, repo, publisher := newTestOrchestrator(t, config)
	order := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.PaymentProcessingRequestedEvent)).Return(nil).Once()
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReleaseRequestedEvent)).
		Return(errors.New("sns unavailable")).Times(2)
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaCompensationDeadletterEvent)).Return(nil).Once()

	repo.EXPECT().FindByID(mock.Anything, order.ID).Return(order, nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusInventoryReserved, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentProcessing, "").Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, order.ID, domain.OrderStatusPaymentFailed, "card declined").Return(nil).Once()

	correlationID, err := orch.StartOrderProcessing(ctx, order)
	require.NoError(t, err)

	_, err = orch.HandleInventoryReservationSuccess(ctx, correlationID, order.ID)
	require.NoError(t, err)

	_, err = orch.HandlePaymentFailure(ctx, correlationID, order.ID, "card declined")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "release_inventory")

	// The saga itself still records the rollback even though the release
	// event ended up dead-lettered.
	state, err := orch.GetSagaState(ctx, correlationID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompensated, state.Status)
}

func TestOrchestrator_StartValidation(t *testing.T) {
	ctx := context.Background()
	orch, _, _ := newTestOrchestrator(t, fastConfig())

	_, err := orch.StartOrderProcessing(ctx, nil)
	assert.Error(t, err)

	_, err = orch.StartOrderCancellation(ctx, nil, "reason")
	assert.Error(t, err)

	order := testOrder(t)
	order.Items = nil
	_, err = orch.StartOrderProcessing(ctx, order)
	assert.Error(t, err)
}
