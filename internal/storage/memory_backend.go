package storage

import (
	"encoding/json"
	"sync"
)

// InMemoryStateBackend keeps a deep copy of the last saved state.
// Used by tests and by callers that manage durability themselves.
type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *WorkdirState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*WorkdirState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	return cloneState(b.snapshot)
}

func (b *InMemoryStateBackend) Save(state *WorkdirState) error {
	if b == nil || state == nil {
		return nil
	}
	clone, err := cloneState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = clone
	return nil
}

func cloneState(state *WorkdirState) (*WorkdirState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var clone WorkdirState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	clone.normalize()
	return &clone, nil
}
