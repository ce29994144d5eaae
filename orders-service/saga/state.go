package saga

import (
	"time"

	"github.com/commercehq/order-system/shared/models"
)

// Step identifies where a saga currently is in its flow
type Step string

const (
	StepInventoryReservation Step = "inventory_reservation"
	StepPaymentProcessing    Step = "payment_processing"
	StepOrderConfirmation    Step = "order_confirmation"
	StepOrderCancellation    Step = "order_cancellation"
	StepCompleted            Step = "completed"
)

// Status is the lifecycle status of a saga run. Every status other than
// InProgress is terminal.
type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCompensated Status = "compensated"
)

// Compensation is an action that undoes a previously completed step.
// The set is closed; dispatch happens via a lookup, not virtual calls.
type Compensation string

const (
	CompensationReleaseInventory Compensation = "release_inventory"
	CompensationRefundPayment    Compensation = "refund_payment"
)

// State is the persisted record of one saga run. Compensations only grows
// while the saga moves forward; rollback reads a reversed snapshot and
// never mutates the list.
type State struct {
	CorrelationID models.ID         `json:"correlation_id"`
	OrderID       models.ID         `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	CurrentStep   Step              `json:"current_step"`
	Status        Status            `json:"status"`
	Compensations []Compensation    `json:"compensations"`
	FailureReason string            `json:"failure_reason,omitempty"`
	StepDeadline  time.Time         `json:"step_deadline"`
	Timestamps    models.Timestamps `json:"-"`
	Version       models.Version    `json:"-"`
}

// NewState creates the initial state for a saga run
func NewState(correlationID, orderID models.ID, orderNumber string, step Step, deadline time.Time) *State {
	return &State{
		CorrelationID: correlationID,
		OrderID:       orderID,
		OrderNumber:   orderNumber,
		CurrentStep:   step,
		Status:        StatusInProgress,
		Compensations: nil,
		StepDeadline:  deadline,
		Timestamps:    models.NewTimestamps(),
		Version:       models.NewVersion(),
	}
}

// Terminal reports whether the saga reached a final status
func (s *State) Terminal() bool {
	return s.Status != StatusInProgress
}

// PushCompensation appends an undo action for the step that just began
func (s *State) PushCompensation(c Compensation) {
	s.Compensations = append(s.Compensations, c)
}

// ReversedCompensations returns a reversed copy of the compensation list.
// Later side effects must be undone before earlier ones.
func (s *State) ReversedCompensations() []Compensation {
	rev := make([]Compensation, len(s.Compensations))
	for i, c := range s.Compensations {
		rev[len(s.Compensations)-1-i] = c
	}
	return rev
}

// Clone returns a deep copy of the state
func (s *State) Clone() *State {
	clone := *s
	clone.Compensations = make([]Compensation, len(s.Compensations))
	copy(clone.Compensations, s.Compensations)
	return &clone
}
