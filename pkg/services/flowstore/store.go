// Package flowstore keeps the most recent flow state where request handlers
// and other processes can read it.
package flowstore

import (
	"context"
	"errors"
	"sync"

	"waterwatch/pkg/services/flowstate"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var ErrNoState = errors.New("no flow state computed yet")

// Store holds a single latest flow state. Save overwrites it.
type Store interface {
	Save(ctx context.Context, state flowstate.State) error
	Latest(ctx context.Context) (flowstate.State, error)
	Close() error
}

// Sink adapts a Store to receive states from the recomputer.
func Sink(s Store) flowstate.ResultSink {
	return sink{s}
}

type sink struct{ Store }

func (s sink) PublishFlow(ctx context.Context, state flowstate.State) error {
	return s.Save(ctx, state)
}

type MemoryStore struct {
	mu    sync.RWMutex
	state *flowstate.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Save(ctx context.Context, state flowstate.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context) (flowstate.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return flowstate.State{}, ErrNoState
	}
	return *m.state, nil
}

func (m *MemoryStore) Close() error { return nil }
