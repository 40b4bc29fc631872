package negotiation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Queue used by tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*Entry)}
}

func (m *MemoryStore) Enqueue(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.Status = StatusPending
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *MemoryStore) Lease(ctx context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	var pending []*Entry
	for _, e := range m.entries {
		if e.Status == StatusPending {
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]Entry, 0, len(pending))
	for _, e := range pending {
		now := time.Now().UTC()
		e.Status = StatusNegotiating
		e.LeasedAt = &now
		e.UpdatedAt = now
		out = append(out, *e)
	}
	return out, nil
}

func (m *MemoryStore) RequeueStale(ctx context.Context, leasedBefore time.Time, maxAttempts int) (RequeueResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res RequeueResult
	for _, e := range m.entries {
		if e.Status != StatusNegotiating || e.LeasedAt == nil || !e.LeasedAt.Before(leasedBefore) {
			continue
		}
		if e.Attempts+1 >= maxAttempts {
			e.Status = StatusFailed
			e.LastError = "lease expired after max attempts"
			res.Failed++
			continue
		}
		e.Status = StatusPending
		e.Attempts++
		e.LeasedAt = nil
		res.Requeued++
	}
	return res, nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return m.transition(id, StatusCompleted, "")
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return m.transition(id, StatusFailed, reason)
}

func (m *MemoryStore) transition(id uuid.UUID, to Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.Status != StatusNegotiating {
		return ErrLeaseLost
	}
	e.Status = to
	if to == StatusFailed {
		e.LastError = reason
		e.Attempts++
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Get returns a copy of an entry.
func (m *MemoryStore) Get(id uuid.UUID) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Backdate moves an entry's lease into the past.
func (m *MemoryStore) Backdate(id uuid.UUID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok && e.LeasedAt != nil {
		t := e.LeasedAt.Add(-d)
		e.LeasedAt = &t
	}
}
