package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/commercehq/order-system/orders-service/saga"
	"github.com/commercehq/order-system/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresSagaStore implements saga.Store using PostgreSQL. Compare-and-swap
// is a conditional UPDATE on the version column, so concurrent callbacks for
// the same saga serialize without explicit locks.
type PostgresSagaStore struct {
	db *sqlx.DB
}

// NewPostgresSagaStore creates a new PostgresSagaStore
func NewPostgresSagaStore(db *sqlx.DB) *PostgresSagaStore {
	return &PostgresSagaStore{db: db}
}

// postgresSaga represents a saga run in the database
type postgresSaga struct {
	CorrelationID string    `db:"correlation_id"`
	OrderID       string    `db:"order_id"`
	OrderNumber   string    `db:"order_number"`
	CurrentStep   string    `db:"current_step"`
	Status        string    `db:"status"`
	Compensations []byte    `db:"compensations"`
	FailureReason string    `db:"failure_reason"`
	StepDeadline  time.Time `db:"step_deadline"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	Version       int       `db:"version"`
}

// Put stores a new saga run. A correlation id can only be used once.
func (s *PostgresSagaStore) Put(ctx context.Context, state *saga.State) error {
	query := `
		INSERT INTO sagas (
			correlation_id, order_id, order_number, current_step, status,
			compensations, failure_reason, step_deadline, created_at, updated_at, version
		) VALUES (
			:correlation_id, :order_id, :order_number, :current_step, :status,
			:compensations, :failure_reason, :step_deadline, :created_at, :updated_at, :version
		)`

	pgSaga, err := s.toPostgres(state)
	if err != nil {
		return err
	}

	if _, err := s.db.NamedExecContext(ctx, query, pgSaga); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return saga.ErrAlreadyExists
		}
		return errors.Wrap(err, "failed to insert saga")
	}

	return nil
}

// Get returns the saga run for a correlation id
func (s *PostgresSagaStore) Get(ctx context.Context, correlationID models.ID) (*saga.State, error) {
	query := `
		SELECT correlation_id, order_id, order_number, current_step, status,
			   compensations, failure_reason, step_deadline, created_at, updated_at, version
		FROM sagas
		WHERE correlation_id = $1`

	var pgSaga postgresSaga
	err := s.db.GetContext(ctx, &pgSaga, query, correlationID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, saga.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find saga")
	}

	return s.toDomain(&pgSaga)
}

// CompareAndSwap replaces the saga run only if the stored version still
// matches expectedVersion
func (s *PostgresSagaStore) CompareAndSwap(ctx context.Context, expectedVersion int, state *saga.State) (bool, error) {
	query := `
		UPDATE sagas
		SET current_step = :current_step, status = :status, compensations = :compensations,
			failure_reason = :failure_reason, step_deadline = :step_deadline,
			updated_at = :updated_at, version = :version
		WHERE correlation_id = :correlation_id AND version = :expected_version`

	pgSaga, err := s.toPostgres(state)
	if err != nil {
		return false, err
	}

	result, err := s.db.NamedExecContext(ctx, query, map[string]interface{}{
		"correlation_id":   pgSaga.CorrelationID,
		"current_step":     pgSaga.CurrentStep,
		"status":           pgSaga.Status,
		"compensations":    pgSaga.Compensations,
		"failure_reason":   pgSaga.FailureReason,
		"step_deadline":    pgSaga.StepDeadline,
		"updated_at":       pgSaga.UpdatedAt,
		"version":          pgSaga.Version,
		"expected_version": expectedVersion,
	})
	if err != nil {
		return false, errors.Wrap(err, "failed to update saga")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check update result")
	}

	return rows == 1, nil
}

// Active returns every saga run still in progress
func (s *PostgresSagaStore) Active(ctx context.Context) ([]*saga.State, error) {
	query := `
		SELECT correlation_id, order_id, order_number, current_step, status,
			   compensations, failure_reason, step_deadline, created_at, updated_at, version
		FROM sagas
		WHERE status = $1
		ORDER BY created_at`

	var pgSagas []postgresSaga
	if err := s.db.SelectContext(ctx, &pgSagas, query, string(saga.StatusInProgress)); err != nil {
		return nil, errors.Wrap(err, "failed to list active sagas")
	}

	states := make([]*saga.State, len(pgSagas))
	for i := range pgSagas {
		state, err := s.toDomain(&pgSagas[i])
		if err != nil {
			return nil, err
		}
		states[i] = state
	}

	return states, nil
}

// toPostgres converts a saga state to the postgres model
func (s *PostgresSagaStore) toPostgres(state *saga.State) (*postgresSaga, error) {
	compensations, err := json.Marshal(state.Compensations)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal compensations")
	}

	return &postgresSaga{
		CorrelationID: state.CorrelationID.String(),
		OrderID:       state.OrderID.String(),
		OrderNumber:   state.OrderNumber,
		CurrentStep:   string(state.CurrentStep),
		Status:        string(state.Status),
		Compensations: compensations,
		FailureReason: state.FailureReason,
		StepDeadline:  state.StepDeadline,
		CreatedAt:     state.Timestamps.CreatedAt,
		UpdatedAt:     state.Timestamps.UpdatedAt,
		Version:       state.Version.Value,
	}, nil
}

// toDomain converts a postgres model to a saga state
func (s *PostgresSagaStore) toDomain(pgSaga *postgresSaga) (*saga.State, error) {
	var compensations []saga.Compensation
	if len(pgSaga.Compensations) > 0 {
		if err := json.Unmarshal(pgSaga.Compensations, &compensations); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal compensations")
		}
	}

	return &saga.State{
		CorrelationID: models.ID(pgSaga.CorrelationID),
		OrderID:       models.ID(pgSaga.OrderID),
		OrderNumber:   pgSaga.OrderNumber,
		CurrentStep:   saga.Step(pgSaga.CurrentStep),
		Status:        saga.Status(pgSaga.Status),
		Compensations: compensations,
		FailureReason: pgSaga.FailureReason,
		StepDeadline:  pgSaga.StepDeadline,
		Timestamps: models.Timestamps{
			CreatedAt: pgSaga.CreatedAt,
			UpdatedAt: pgSaga.UpdatedAt,
		},
		Version: models.Version{Value: pgSaga.Version},
	}, nil
}
