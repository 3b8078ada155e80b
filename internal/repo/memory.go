package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/oceanstack/argo-insight/internal/models"
)

// MemoryEvents keeps events in process. It backs local runs without Postgres
// and follows the same closed-event immutability as the SQL store.
type MemoryEvents struct {
	mu     sync.RWMutex
	events map[string]models.AnomalyEvent
}

// NewMemoryEvents constructs an empty store.
func NewMemoryEvents() *MemoryEvents {
	return &MemoryEvents{events: make(map[string]models.AnomalyEvent)}
}

// UpsertEvent stores e unless a closed event with the same ID already exists.
func (m *MemoryEvents) UpsertEvent(_ context.Context, e models.AnomalyEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.events[e.ID]; ok && !existing.Open() {
		return nil
	}
	if e.EndTime != nil {
		end := *e.EndTime
		e.EndTime = &end
	}
	m.events[e.ID] = e
	return nil
}

// ListEvents applies f the same way the SQL query does.
func (m *MemoryEvents) ListEvents(_ context.Context, f models.EventFilter) ([]models.AnomalyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.AnomalyEvent, 0)
	for _, e := range m.events {
		if f.AnomalyType != "" && e.AnomalyType != f.AnomalyType {
			continue
		}
		if f.Severity != "" && e.Severity != f.Severity {
			continue
		}
		if f.End != nil && e.StartTime.After(*f.End) {
			continue
		}
		if f.Start != nil && e.EndTime != nil && e.EndTime.Before(*f.Start) {
			continue
		}
		if f.BBox != nil && !f.BBox.Contains(e.CentroidLat, e.CentroidLon) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit := listLimit(f.Limit, defaultEventLimit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// OpenEvents returns events without an end time.
func (m *MemoryEvents) OpenEvents(_ context.Context) ([]models.AnomalyEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make([]models.AnomalyEvent, 0)
	for _, e := range m.events {
		if e.Open() {
			open = append(open, e)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].StartTime.Equal(open[j].StartTime) {
			return open[i].StartTime.Before(open[j].StartTime)
		}
		return open[i].ID < open[j].ID
	})
	return open, nil
}

// MemoryHistory is a bounded append-only history log.
type MemoryHistory struct {
	mu       sync.RWMutex
	entries  []models.QueryHistoryEntry
	capacity int
}

// NewMemoryHistory keeps at most capacity entries, dropping the oldest.
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryHistory{capacity: capacity}
}

// AppendHistory records entry.
func (m *MemoryHistory) AppendHistory(_ context.Context, entry models.QueryHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append([]models.QueryHistoryEntry(nil), m.entries[over:]...)
	}
	return nil
}

// ListHistory returns up to limit entries, newest first.
func (m *MemoryHistory) ListHistory(_ context.Context, limit int) ([]models.QueryHistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit = listLimit(limit, defaultHistoryLimit)
	out := make([]models.QueryHistoryEntry, 0, min(limit, len(m.entries)))
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

const defaultHistoryLimit = 50

// listLimit applies def to unset limits and caps the rest at
// models.MaxListLimit.
func listLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, models.MaxListLimit)
}
