package application

import (
	"context"
	"sort"

	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/pkg/errors"
)

// ListActiveSagasResponse represents the in-progress saga runs
type ListActiveSagasResponse struct {
	Sagas []*SagaView `json:"sagas"`
	Count int         `json:"count"`
}

// ListActiveSagas use case
type ListActiveSagas struct {
	orchestrator *saga.Orchestrator
}

// NewListActiveSagas creates a new ListActiveSagas use case
func NewListActiveSagas(orchestrator *saga.Orchestrator) *ListActiveSagas {
	return &ListActiveSagas{
		orchestrator: orchestrator,
	}
}

// Execute executes the list active sagas use case
func (uc *ListActiveSagas) Execute(ctx context.Context) (*ListActiveSagasResponse, error) {
	states, err := uc.orchestrator.ActiveSagas(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active sagas")
	}

	// Snapshot order is nondeterministic, oldest first reads better.
	sort.Slice(states, func(i, j int) bool {
		return states[i].Timestamps.CreatedAt.Before(states[j].Timestamps.CreatedAt)
	})

	views := make([]*SagaView, len(states))
	for i, state := range states {
		views[i] = newSagaView(state)
	}

	return &ListActiveSagasResponse{
		Sagas: views,
		Count: len(views),
	}, nil
}
