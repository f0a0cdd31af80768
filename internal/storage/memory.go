package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dougwithseismic/dotoro-ads-sub003/internal/engine"
	"github.com/dougwithseismic/dotoro-ads-sub003/internal/variables"
)

// Memory is an in-process lookup used by the CLI and tests.
type Memory struct {
	mu      sync.RWMutex
	sources map[string]engine.DataSource
	rows    map[string][]variables.Row
	rules   map[string]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{
		sources: map[string]engine.DataSource{},
		rows:    map[string][]variables.Row{},
		rules:   map[string]json.RawMessage{},
	}
}

// PutDataSource registers a data source and replaces its rows.
func (m *Memory) PutDataSource(ds engine.DataSource, rows []variables.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[ds.ID] = ds
	m.rows[ds.ID] = append([]variables.Row(nil), rows...)
}

func (m *Memory) PutRule(id string, definition json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[id] = definition
}

func (m *Memory) DataSource(_ context.Context, id string) (*engine.DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.sources[id]
	if !ok {
		return nil, nil
	}
	return &ds, nil
}

func (m *Memory) DataRows(_ context.Context, id string) ([]variables.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]variables.Row(nil), m.rows[id]...), nil
}

func (m *Memory) Rule(_ context.Context, id string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules[id], nil
}

func (m *Memory) LoadRules(_ context.Context) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(m.rules))
	for id, raw := range m.rules {
		out[id] = raw
	}
	return out, nil
}
