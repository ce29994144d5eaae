package application

import (
	"context"
	"time"

	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

// GetSagaQuery represents the query to get a saga run
type GetSagaQuery struct {
	CorrelationID string `json:"correlation_id"`
}

// SagaView is the read model for one saga run
type SagaView struct {
	CorrelationID string   `json:"correlation_id"`
	OrderID       string   `json:"order_id"`
	OrderNumber   string   `json:"order_number"`
	CurrentStep   string   `json:"current_step"`
	Status        string   `json:"status"`
	Compensations []string `json:"compensations"`
	FailureReason string   `json:"failure_reason,omitempty"`
	StepDeadline  string   `json:"step_deadline"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// GetSaga use case
type GetSaga struct {
	orchestrator *saga.Orchestrator
}

// NewGetSaga creates a new GetSaga use case
func NewGetSaga(orchestrator *saga.Orchestrator) *GetSaga {
	return &GetSaga{
		orchestrator: orchestrator,
	}
}

// Execute executes the get saga use case
func (uc *GetSaga) Execute(ctx context.Context, query *GetSagaQuery) (*SagaView, error) {
	if query.CorrelationID == "" {
		return nil, errors.New("correlation ID is required")
	}

	correlationID, err := models.NewID(query.CorrelationID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid correlation ID")
	}

	state, err := uc.orchestrator.GetSagaState(ctx, correlationID)
	if errors.Is(err, saga.ErrNotFound) {
		return nil, errors.New("saga not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load saga state")
	}

	return newSagaView(state), nil
}

func newSagaView(state *saga.State) *SagaView {
	compensations := make([]string, len(state.Compensations))
	for i, c := range state.Compensations {
		compensations[i] = string(c)
	}

	return &SagaView{
		CorrelationID: state.CorrelationID.String(),
		OrderID:       state.OrderID.String(),
		OrderNumber:   state.OrderNumber,
		CurrentStep:   string(state.CurrentStep),
		Status:        string(state.Status),
		Compensations: compensations,
		FailureReason: state.FailureReason,
		StepDeadline:  state.StepDeadline.Format(time.RFC3339),
		CreatedAt:     state.Timestamps.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     state.Timestamps.UpdatedAt.Format(time.RFC3339),
	}
}
