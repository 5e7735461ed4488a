package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/consentcompanion/policywatch/pkg/host"
)

// Memory is an in-process host.Area. Values are stored JSON-encoded so that
// callers get the same copy semantics as the sqlite tier.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

var _ host.Area = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	raw, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *Memory) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}
