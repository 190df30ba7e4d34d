package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoState is returned by a StateStore that has nothing persisted yet.
var ErrNoState = errors.New("scheduler: no persisted state")

// State is the durable part of the scheduler.
type State struct {
	Enabled      bool
	LastFiredAt  *time.Time
	NextDeadline *time.Time
}

// StateStore persists State across restarts.
type StateStore interface {
	LoadSchedule(ctx context.Context) (State, error)
	SaveSchedule(ctx context.Context, st State) error
}

// MemoryStore keeps state for the lifetime of the process only.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadSchedule(context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return State{}, ErrNoState
	}
	return cloneState(*m.state), nil
}

func (m *MemoryStore) SaveSchedule(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cloneState(st)
	m.state = &c
	return nil
}

func cloneState(st State) State {
	out := State{Enabled: st.Enabled}
	if st.LastFiredAt != nil {
		t := *st.LastFiredAt
		out.LastFiredAt = &t
	}
	if st.NextDeadline != nil {
		t := *st.NextDeadline
		out.NextDeadline = &t
	}
	return out
}

var _ StateStore = (*MemoryStore)(nil)
