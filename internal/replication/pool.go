package replication

import (
	"sync"

	"github.com/annel0/statesync/internal/entity"
)

// PlayerPool фиксированный набор шаблонов игроков. Слот занят, пока
// участник подключён.
type PlayerPool struct {
	mu        sync.Mutex
	templates []entity.Entity
	used      []bool
}

func NewPlayerPool(templates []entity.Entity) *PlayerPool {
	return &PlayerPool{
		templates: append([]entity.Entity(nil), templates...),
		used:      make([]bool, len(templates)),
	}
}

// Acquire занимает первый свободный слот
func (p *PlayerPool) Acquire() (int, entity.Entity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, used := range p.used {
		if !used {
			p.used[i] = true
			return i, p.templates[i], true
		}
	}
	return -1, entity.Entity{}, false
}

// Release освобождает слот; повторное освобождение ничего не делает
func (p *PlayerPool) Release(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slot >= 0 && slot < len(p.used) {
		p.used[slot] = false
	}
}

// Free количество свободных слотов
func (p *PlayerPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, used := range p.used {
		if !used {
			n++
		}
	}
	return n
}

func (p *PlayerPool) Cap() int {
	return len(p.templates)
}
