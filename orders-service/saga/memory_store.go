package saga

import (
	"context"

	"github.com/commercehq/order-system/shared/models"
	"github.com/puzpuzpuz/xsync/v3"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps saga state in a concurrent map. It is the single-instance
// store; a multi-instance deployment needs the Postgres store so every
// replica sees the same saga table.
type MemoryStore struct {
	states *xsync.MapOf[string, *State]
}

// NewMemoryStore creates a new in-memory saga store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: xsync.NewMapOf[string, *State](),
	}
}

// Get returns a copy of the stored state
func (m *MemoryStore) Get(ctx context.Context, correlationID models.ID) (*State, error) {
	state, ok := m.states.Load(correlationID.String())
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// Put creates a new saga record, refusing to overwrite an existing one
func (m *MemoryStore) Put(ctx context.Context, state *State) error {
	_, loaded := m.states.LoadOrStore(state.CorrelationID.String(), state.Clone())
	if loaded {
		return ErrAlreadyExists
	}
	return nil
}

// CompareAndSwap writes state only if the stored version matches
func (m *MemoryStore) CompareAndSwap(ctx context.Context, expectedVersion int, state *State) (bool, error) {
	var swapped bool
	var missing bool

	m.states.Compute(state.CorrelationID.String(), func(old *State, loaded bool) (*State, bool) {
		if !loaded {
			missing = true
			return nil, true
		}
		if old.Version.Value != expectedVersion {
			return old, false
		}
		swapped = true
		return state.Clone(), false
	})

	if missing {
		return false, ErrNotFound
	}
	return swapped, nil
}

// Active returns a snapshot of all in-progress sagas
func (m *MemoryStore) Active(ctx context.Context) ([]*State, error) {
	var active []*State
	m.states.Range(func(_ string, state *State) bool {
		if !state.Terminal() {
			active = append(active, state.Clone())
		}
		return true
	})
	return active, nil
}
