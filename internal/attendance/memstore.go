package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemStore is a channel-free in-memory Store for dev and tests, selected
// with STORE_BACKEND=memory. A per-session mutex gives Mutate the same
// atomic read-modify-write guarantee the Postgres store gets from
// SELECT ... FOR UPDATE.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*memEntry
}

type memEntry struct {
	mu  sync.Mutex
	agg *Aggregate
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*memEntry)}
}

// Create stores a new session.
func (m *MemStore) Create(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return errors.New("session already exists")
	}
	m.sessions[s.ID] = &memEntry{agg: NewAggregate(s, nil, nil)}
	return nil
}

// Get returns a copy of the session aggregate.
func (m *MemStore) Get(ctx context.Context, id string) (*Aggregate, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.clone(), nil
}

// List returns sessions matching the filter, newest first.
func (m *MemStore) List(ctx context.Context, f ListFilter) ([]Session, error) {
	m.mu.RLock()
	entries := make([]*memEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []Session
	for _, e := range entries {
		e.mu.Lock()
		s := e.agg.clone().Session
		e.mu.Unlock()
		if f.CourseID != "" && s.CourseID != f.CourseID {
			continue
		}
		if f.State != "" && s.State != f.State {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Mutate runs fn against a working copy under the session's lock and
// commits it only when fn succeeds.
func (m *MemStore) Mutate(ctx context.Context, id string, fn func(*Aggregate) error) (*Aggregate, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.agg.clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	work.dirtySigs = nil
	work.rosterSet = false
	e.agg = work
	return work.clone(), nil
}
