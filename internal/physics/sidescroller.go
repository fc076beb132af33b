package physics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/statesync/internal/entity"
)

// ScrollStep смещение мира при срабатывании зоны прокрутки
const ScrollStep = 50.0

// ZoneAction вызывается, когда сущность входит в зону прокрутки
type ZoneAction func(trigger *entity.Entity, entities []*entity.Entity)

type scrollZone struct {
	area   entity.Entity
	action ZoneAction
}

// SideScroller именованные зоны, сдвигающие весь мир при входе в них
type SideScroller struct {
	mu    sync.RWMutex
	zones map[string]scrollZone
}

// NewSideScroller создаёт пустой набор зон
func NewSideScroller() *SideScroller {
	return &SideScroller{zones: make(map[string]scrollZone)}
}

// AddZone добавляет зону; имя должно быть уникальным
func (s *SideScroller) AddZone(name string, area entity.Entity, action ZoneAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.zones[name]; exists {
		return fmt.Errorf("зона прокрутки %q уже существует", name)
	}
	s.zones[name] = scrollZone{area: area, action: action}
	return nil
}

// RemoveZone удаляет зону
func (s *SideScroller) RemoveZone(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.zones[name]; !exists {
		return fmt.Errorf("зона прокрутки %q не существует", name)
	}
	delete(s.zones, name)
	return nil
}

// Len количество зон
func (s *SideScroller) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}

// Process вызывает действие каждой зоны, которую пересекает trigger.
// Зоны обходятся в порядке имён.
func (s *SideScroller) Process(trigger *entity.Entity, entities []*entity.Entity) int {
	s.mu.RLock()
	names := make([]string, 0, len(s.zones))
	for name := range s.zones {
		names = append(names, name)
	}
	sort.Strings(names)
	zones := make([]scrollZone, 0, len(names))
	for _, name := range names {
		zones = append(zones, s.zones[name])
	}
	s.mu.RUnlock()

	fired := 0
	for _, z := range zones {
		area := z.area
		if Overlaps(&area, trigger) {
			z.action(trigger, entities)
			fired++
		}
	}
	return fired
}

// Translate сдвигает все сущности
func Translate(entities []*entity.Entity, dx, dy float64) {
	for _, e := range entities {
		e.Position.X += dx
		e.Position.Y += dy
	}
}

// ScrollUp, ScrollDown, ScrollLeft и ScrollRight стандартные действия зон
func ScrollUp(_ *entity.Entity, entities []*entity.Entity)    { Translate(entities, 0, -ScrollStep) }
func ScrollDown(_ *entity.Entity, entities []*entity.Entity)  { Translate(entities, 0, ScrollStep) }
func ScrollLeft(_ *entity.Entity, entities []*entity.Entity)  { Translate(entities, -ScrollStep, 0) }
func ScrollRight(_ *entity.Entity, entities []*entity.Entity) { Translate(entities, ScrollStep, 0) }
