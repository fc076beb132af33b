// Package replay записывает снимки сущностей по кадрам логического времени
// и воспроизводит их как события Replay.
package replay

import (
	"time"

	"github.com/google/uuid"

	"github.com/annel0/statesync/internal/entity"
)

// DefaultFrameDuration длительность кадра в логических единицах (60 кадров/с при tic=1)
const DefaultFrameDuration int64 = int64(1e9) / 60

// Frame корзина снимков одного кадра
type Frame struct {
	Index     int64
	Snapshots []entity.Entity
}

// Recording законченная запись
type Recording struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	FrameDuration int64
	Frames        []Frame
}

// Summary краткие сведения о записи для списков
type Summary struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Frames    int       `json:"frames"`
	Events    int       `json:"events"`
}

// EventCount число снимков во всех кадрах
func (r *Recording) EventCount() int {
	n := 0
	for _, f := range r.Frames {
		n += len(f.Snapshots)
	}
	return n
}

func (r *Recording) Summary() Summary {
	return Summary{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Frames:    len(r.Frames),
		Events:    r.EventCount(),
	}
}
