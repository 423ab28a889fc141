package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	kv     map[string]map[string][]byte
	dedup  map[string]time.Time
	audit  []AuditEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{kv: map[string]map[string][]byte{}, dedup: map[string]time.Time{}}
}

func (m *Memory) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.kv[ns][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Put(_ context.Context, ns, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket := m.kv[ns]
	if bucket == nil {
		bucket = map[string][]byte{}
		m.kv[ns] = bucket
	}
	bucket[key] = append([]byte(nil), val...)
	return nil
}

func (m *Memory) Delete(_ context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.kv[ns], key)
	return nil
}

func (m *Memory) Keys(_ context.Context, ns string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]string, 0, len(m.kv[ns]))
	for k := range m.kv[ns] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the audit trail.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) PutDedup(_ context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.dedup[key] = until
	return nil
}

func (m *Memory) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return time.Time{}, false, ErrClosed
	}
	until, ok := m.dedup[key]
	if !ok || until.Before(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
