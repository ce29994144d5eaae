package saga

import (
	"context"
	"testing"
	"time"

	"github.com/commercehq/order-system/orders-service/domain"
	"github.com/commercehq/order-system/shared/events"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReconciler_SweepFailsOverdueSagas(t *testing.T) {
	ctx := context.Background()
	orch, repo, publisher := newTestOrchestrator(t, fastConfig())

	now := time.Now()
	clock := func() time.Time { return now }
	orch.WithClock(clock)

	reconciler := NewReconciler(orch, time.Second, zerolog.Nop()).WithClock(clock)

	stale := testOrder(t)
	fresh := testOrder(t)

	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.InventoryReservationRequestedEvent)).Return(nil).Times(2)
	publisher.EXPECT().Publish(mock.Anything, eventOfType(events.SagaFailedEvent)).Return(nil).Once()
	repo.EXPECT().UpdateStatus(mock.Anything, stale.ID, domain.OrderStatusCancelled, timeoutReason).Return(nil).Once()

	staleID, err := orch.StartOrderProcessing(ctx, stale)
	require.NoError(t, err)

	// The second saga starts after the clock advances, so only the first
	// one is overdue during the sweep.
	now = now.Add(fastConfig().StepTimeout + time.Second)

	freshID, err := orch.StartOrderProcessing(ctx, fresh)
	require.NoError(t, err)

	assert.Equal(t, 1, reconciler.Sweep(ctx))

	staleState, err := orch.GetSagaState(ctx, staleID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, staleState.Status)

	freshState, err := orch.GetSagaState(ctx, freshID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, freshState.Status)

	// Nothing left to fail on the next pass.
	assert.Equal(t, 0, reconciler.Sweep(ctx))
}

func TestReconciler_RunStopsOnCancel(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, fastConfig())
	reconciler := NewReconciler(orch, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- reconciler.Run(ctx)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
