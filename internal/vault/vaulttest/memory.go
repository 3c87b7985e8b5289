// Package vaulttest provides an in-memory note store for tests.
package vaulttest

import (
	"context"
	"sort"
	"sync"

	"calnotes/internal/model"
	"calnotes/internal/vault"
)

var (
	_ vault.Store  = (*Memory)(nil)
	_ vault.Lister = (*Memory)(nil)
)

// Memory is an in-memory vault.Store and vault.Lister. It counts the
// writes it received and can be told to fail writes for specific dates.
type Memory struct {
	mu     sync.Mutex
	notes  map[model.Date]string
	writes int
	fail   map[model.Date]error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		notes: make(map[model.Date]string),
		fail:  make(map[model.Date]error),
	}
}

// Put seeds a note without counting it as a write.
func (m *Memory) Put(d model.Date, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes[d] = content
}

// FailWrites makes writes for d return err.
func (m *Memory) FailWrites(d model.Date, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[d] = err
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get returns the note for d.
func (m *Memory) Get(d model.Date) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.notes[d]
	return s, ok
}

// Exists implements vault.Store.
func (m *Memory) Exists(_ context.Context, d model.Date) (bool, error) {
	_, ok := m.Get(d)
	return ok, nil
}

// Read implements vault.Store.
func (m *Memory) Read(_ context.Context, d model.Date) (string, error) {
	s, _ := m.Get(d)
	return s, nil
}

// Write implements vault.Store.
func (m *Memory) Write(_ context.Context, d model.Date, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[d]; err != nil {
		return err
	}
	m.notes[d] = content
	m.writes++
	return nil
}

// Dates implements vault.Lister.
func (m *Memory) Dates(context.Context) ([]model.Date, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Date, 0, len(m.notes))
	for d := range m.notes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
