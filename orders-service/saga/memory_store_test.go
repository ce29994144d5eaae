package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/commercehq/order-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState(step Step) *State {
	return NewState(models.GenerateUUID(), models.GenerateUUID(), "ORD-1001", step, time.Now().Add(time.Minute))
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState(StepInventoryReservation)

	require.NoError(t, store.Put(ctx, state))

	got, err := store.Get(ctx, state.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// Put never overwrites an existing saga.
	assert.ErrorIs(t, store.Put(ctx, state), ErrAlreadyExists)

	_, err = store.Get(ctx, models.GenerateUUID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState(StepInventoryReservation)
	require.NoError(t, store.Put(ctx, state))

	got, err := store.Get(ctx, state.CorrelationID)
	require.NoError(t, err)
	got.Status = StatusFailed
	got.PushCompensation(CompensationReleaseInventory)

	fresh, err := store.Get(ctx, state.CorrelationID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, fresh.Status)
	assert.Empty(t, fresh.Compensations)
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState(StepInventoryReservation)
	require.NoError(t, store.Put(ctx, state))

	updated := state.Clone()
	updated.CurrentStep = StepPaymentProcessing
	updated.Version = updated.Version.Update()

	swapped, err := store.CompareAndSwap(ctx, state.Version.Value, updated)
	require.NoError(t, err)
	assert.True(t, swapped)

	// The stale version loses.
	swapped, err = store.CompareAndSwap(ctx, state.Version.Value, updated)
	require.NoError(t, err)
	assert.False(t, swapped)

	_, err = store.CompareAndSwap(ctx, 1, newTestState(StepInventoryReservation))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CompareAndSwapConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState(StepInventoryReservation)
	require.NoError(t, store.Put(ctx, state))

	const contenders = 16
	wins := make(chan bool, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated := state.Clone()
			updated.CurrentStep = StepPaymentProcessing
			updated.Version = updated.Version.Update()
			swapped, err := store.CompareAndSwap(ctx, state.Version.Value, updated)
			assert.NoError(t, err)
			wins <- swapped
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for swapped := range wins {
		if swapped {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func TestMemoryStore_Active(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	running := newTestState(StepInventoryReservation)
	require.NoError(t, store.Put(ctx, running))

	finished := newTestState(StepCompleted)
	finished.Status = StatusCompleted
	require.NoError(t, store.Put(ctx, finished))

	active, err := store.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, running.CorrelationID, active[0].CorrelationID)
}
