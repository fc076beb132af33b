// Package sessionlog сохраняет уведомления жизненного цикла сессий
// (подключения, отключения, пиры, записи) в журнал.
package sessionlog

import (
	"context"
	"sync"

	"github.com/annel0/statesync/internal/eventbus"
)

// Entry запись журнала
type Entry struct {
	ID     string `json:"id" bson:"_id"`
	Source string `json:"source" bson:"source"`

	eventbus.Notice `bson:",inline"`
}

// Repo хранилище журнала сессий
type Repo interface {
	Append(ctx context.Context, e Entry) error
	// Recent последние limit записей, новые первыми
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// MemoryRepo журнал в памяти с ограниченной ёмкостью
type MemoryRepo struct {
	mu       sync.RWMutex
	entries  []Entry
	seen     map[string]struct{}
	capacity int
}

// NewMemoryRepo capacity <= 0 означает без ограничения
func NewMemoryRepo(capacity int) *MemoryRepo {
	return &MemoryRepo{capacity: capacity, seen: make(map[string]struct{})}
}

func (r *MemoryRepo) Append(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[e.ID]; dup {
		return nil
	}
	r.seen[e.ID] = struct{}{}
	r.entries = append(r.entries, e)
	if r.capacity > 0 && len(r.entries) > r.capacity {
		drop := len(r.entries) - r.capacity
		for _, old := range r.entries[:drop] {
			delete(r.seen, old.ID)
		}
		r.entries = append([]Entry(nil), r.entries[drop:]...)
	}
	return nil
}

func (r *MemoryRepo) Recent(_ context.Context, limit int) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

func (r *MemoryRepo) Close() error { return nil }
