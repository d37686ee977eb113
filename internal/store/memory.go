package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps sets and lists in process memory. State is lost on restart.
type MemoryBackend struct {
	mu    sync.Mutex
	sets  map[string]map[string]struct{}
	lists map[string][]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sets:  make(map[string]map[string]struct{}),
		lists: make(map[string][]string),
	}
}

func (m *MemoryBackend) OverwriteSet(_ context.Context, key string, members []string) error {
	set := make(map[string]struct{}, len(members))
	for _, member := range members {
		set[member] = struct{}{}
	}
	m.mu.Lock()
	m.sets[key] = set
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) AddToSet(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (m *MemoryBackend) AppendBounded(_ context.Context, key, value string, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.lists[key], value)
	if len(list) > limit {
		list = append([]string(nil), list[len(list)-limit:]...)
	}
	m.lists[key] = list
	return nil
}

func (m *MemoryBackend) ReadSet(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryBackend) ReadBoundedList(_ context.Context, key string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]string(nil), list...), nil
}
