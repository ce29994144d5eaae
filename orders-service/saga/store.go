package saga

import (
	"context"

	"github.com/commercehq/order-system/shared/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when no saga exists for a correlation id
	ErrNotFound = errors.New("saga not found")

	// ErrAlreadyExists is returned when Put would overwrite an in-flight saga
	ErrAlreadyExists = errors.New("saga already exists")
)

// Store persists saga state keyed by correlation id. Implementations must
// hand out copies: a state obtained from the store is owned by the caller.
type Store interface {
	// Get returns the current state for a correlation id, or ErrNotFound
	Get(ctx context.Context, correlationID models.ID) (*State, error)

	// Put creates a new saga record. Overwriting is refused with
	// ErrAlreadyExists so a correlation id collision cannot silently
	// replace an in-flight saga.
	Put(ctx context.Context, state *State) error

	// CompareAndSwap writes state only if the stored version still equals
	// expectedVersion. Returns false on a version conflict, ErrNotFound
	// when the saga does not exist.
	CompareAndSwap(ctx context.Context, expectedVersion int, state *State) (bool, error)

	// Active returns a snapshot of every saga still in progress. The
	// snapshot is safe to iterate while writers proceed concurrently.
	Active(ctx context.Context) ([]*State, error)
}
