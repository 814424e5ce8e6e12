package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryEngine is a thread-safe in-memory rule set store.
// Stored values are copied in and out, so callers may keep mutating theirs.
type MemoryEngine struct {
	mu     sync.RWMutex
	sets   map[string]*RuleSet
	closed bool
	now    func() time.Time
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		sets: make(map[string]*RuleSet),
		now:  time.Now,
	}
}

// Put implements Engine.
func (m *MemoryEngine) Put(rs *RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}

	stored, err := prepare(rs, m.sets[nameOf(rs)], m.now().UTC())
	if err != nil {
		return err
	}
	m.sets[stored.Name] = stored
	return nil
}

// Get implements Engine.
func (m *MemoryEngine) Get(name string) (*RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}

	rs, ok := m.sets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return rs.clone(), nil
}

// List implements Engine.
func (m *MemoryEngine) List() ([]*RuleSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}

	out := make([]*RuleSet, 0, len(m.sets))
	for _, rs := range m.sets {
		out = append(out, rs.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete implements Engine.
func (m *MemoryEngine) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.sets[name]; !ok {
		return ErrNotFound
	}
	delete(m.sets, name)
	return nil
}

// Close implements Engine.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sets = nil
	return nil
}

func nameOf(rs *RuleSet) string {
	if rs == nil {
		return ""
	}
	return rs.Name
}
