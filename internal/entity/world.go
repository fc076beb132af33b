package entity

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateID = errors.New("entity: сущность с таким id уже существует")
	ErrNotFound    = errors.New("entity: сущность не найдена")
)

// World владеет сущностями: упорядоченный реестр с доступом по id
type World struct {
	mu       sync.RWMutex
	entities map[ID]*Entity
	order    []ID // порядок вставки
	nextID   ID
}

// NewWorld создаёт пустой мир; id начинаются с 1
func NewWorld() *World {
	return &World{
		entities: make(map[ID]*Entity),
		nextID:   1,
	}
}

// Spawn добавляет сущность с новым id и возвращает его
func (w *World) Spawn(e Entity) ID {
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		if _, taken := w.entities[w.nextID]; !taken {
			break
		}
		w.nextID++
	}
	e.ID = w.nextID
	w.nextID++
	w.insertLocked(e)
	return e.ID
}

// Insert добавляет сущность с заданным id
func (w *World) Insert(e Entity) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entities[e.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, e.ID)
	}
	w.insertLocked(e)
	if e.ID >= w.nextID {
		w.nextID = e.ID + 1
	}
	return nil
}

// Upsert обновляет существующую сущность или вставляет новую.
// Возвращает true, если сущность была вставлена.
func (w *World) Upsert(e Entity) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cur, exists := w.entities[e.ID]; exists {
		*cur = e
		return false
	}
	w.insertLocked(e)
	if e.ID >= w.nextID {
		w.nextID = e.ID + 1
	}
	return true
}

func (w *World) insertLocked(e Entity) {
	stored := e
	w.entities[e.ID] = &stored
	w.order = append(w.order, e.ID)
}

// Remove удаляет сущность; false если её не было
func (w *World) Remove(id ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.entities[id]; !exists {
		return false
	}
	delete(w.entities, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

// Get возвращает копию сущности
func (w *World) Get(id ID) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, exists := w.entities[id]
	if !exists {
		return Entity{}, false
	}
	return *e, true
}

// Update изменяет сущность под блокировкой мира
func (w *World) Update(id ID, fn func(e *Entity)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, exists := w.entities[id]
	if !exists {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	fn(e)
	e.ID = id
	return nil
}

// Snapshot возвращает копии всех сущностей в порядке вставки
func (w *World) Snapshot() []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Entity, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.entities[id])
	}
	return out
}

// Mutate даёт эксклюзивный доступ ко всем сущностям на время fn.
// Указатели действительны только внутри fn; id менять нельзя.
func (w *World) Mutate(fn func(entities []*Entity) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ptrs := make([]*Entity, 0, len(w.order))
	for _, id := range w.order {
		ptrs = append(ptrs, w.entities[id])
	}
	return fn(ptrs)
}

// Retain удаляет все сущности, для которых keep возвращает false.
// Возвращает id удалённых сущностей.
func (w *World) Retain(keep func(e Entity) bool) []ID {
	w.mu.Lock()
	defer w.mu.Unlock()

	var removed []ID
	kept := w.order[:0]
	for _, id := range w.order {
		if keep(*w.entities[id]) {
			kept = append(kept, id)
			continue
		}
		delete(w.entities, id)
		removed = append(removed, id)
	}
	w.order = kept
	return removed
}

// SpawnZones возвращает копии всех зон появления
func (w *World) SpawnZones() []Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var zones []Entity
	for _, id := range w.order {
		if e := w.entities[id]; e.Zone == ZoneSpawn {
			zones = append(zones, *e)
		}
	}
	return zones
}

// Len количество сущностей
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.order)
}
