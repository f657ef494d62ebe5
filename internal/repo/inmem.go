package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/fanfetch/internal/data"
)

// DefaultInMemoryCapacity bounds how many entries InMemoryHistoryRepo keeps.
const DefaultInMemoryCapacity = 1000

// InMemoryHistoryRepo keeps the most recent entries in memory. Older
// entries are dropped once capacity is reached.
type InMemoryHistoryRepo struct {
	mu       sync.RWMutex
	entries  data.HistoryEntries
	capacity int
}

func NewInMemoryHistoryRepo(capacity int) *InMemoryHistoryRepo {
	if capacity <= 0 {
		capacity = DefaultInMemoryCapacity
	}
	return &InMemoryHistoryRepo{capacity: capacity}
}

func (r *InMemoryHistoryRepo) Record(ctx context.Context, e *data.HistoryEntry) (*data.HistoryEntry, error) {
	c := e.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, c)
	if over := len(r.entries) - r.capacity; over > 0 {
		r.entries = append(data.HistoryEntries(nil), r.entries[over:]...)
	}
	return c.Clone(), nil
}

func (r *InMemoryHistoryRepo) List(ctx context.Context, limit int) (data.HistoryEntries, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.HistoryEntries, 0, min(limit, len(r.entries)))
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.entries[i].Clone())
	}
	return out, nil
}

func (r *InMemoryHistoryRepo) Close() error { return nil }
