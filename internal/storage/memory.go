package storage

import (
	"context"
	"sync"
)

type memoryKV struct {
	mu       sync.Mutex
	entries  map[string][]byte
	watchers map[string]map[int]func(Event)
	nextID   int
	closed   bool
}

// NewMemory returns a process-local KV. Watch callbacks fire for every
// mutation of the watched key, mirroring the storage-change notifications a
// same-origin context receives.
func NewMemory() KV {
	return &memoryKV{
		entries:  make(map[string][]byte),
		watchers: make(map[string]map[int]func(Event)),
	}
}

func (m *memoryKV) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *memoryKV) Store(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = stored
	fns := m.watcherSnapshot(key)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(Event{Key: key})
	}
	return nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.entries[key]
	delete(m.entries, key)
	var fns []func(Event)
	if existed {
		fns = m.watcherSnapshot(key)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(Event{Key: key, Deleted: true})
	}
	return nil
}

func (m *memoryKV) Watch(_ context.Context, key string, fn func(Event)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[int]func(Event))
	}
	id := m.nextID
	m.nextID++
	m.watchers[key][id] = fn

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers[key], id)
	}
	return cancel, nil
}

func (m *memoryKV) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watchers = make(map[string]map[int]func(Event))
	return nil
}

// watcherSnapshot copies the callback list so notifications run outside the
// lock. Callers must hold mu.
func (m *memoryKV) watcherSnapshot(key string) []func(Event) {
	if m.closed || len(m.watchers[key]) == 0 {
		return nil
	}
	fns := make([]func(Event), 0, len(m.watchers[key]))
	for _, fn := range m.watchers[key] {
		fns = append(fns, fn)
	}
	return fns
}
