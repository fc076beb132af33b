package physics

import (
	"errors"
	"fmt"

	"github.com/annel0/statesync/internal/entity"
)

// ErrUnsupportedShape столкновения определены только для прямоугольников
var ErrUnsupportedShape = errors.New("physics: столкновения поддерживаются только для прямоугольников")

// Pair пара столкнувшихся сущностей
type Pair struct {
	A, B entity.ID
}

// CollisionSystem попарная проверка осевых прямоугольников по плоскому списку
type CollisionSystem struct{}

// NewCollisionSystem создаёт систему столкновений
func NewCollisionSystem() *CollisionSystem {
	return &CollisionSystem{}
}

func checkShapes(a, b *entity.Entity) error {
	if a.Shape != entity.ShapeRectangle || b.Shape != entity.ShapeRectangle {
		return fmt.Errorf("%w: %d(%s) и %d(%s)", ErrUnsupportedShape, a.ID, a.Shape, b.ID, b.Shape)
	}
	return nil
}

// Overlaps проверяет строгое пересечение прямоугольников (касание не считается)
func Overlaps(a, b *entity.Entity) bool {
	if a.Size.Width <= 0 || a.Size.Height <= 0 || b.Size.Width <= 0 || b.Size.Height <= 0 {
		return false
	}
	aMax, bMax := a.Max(), b.Max()
	return a.Position.X < bMax.X && b.Position.X < aMax.X &&
		a.Position.Y < bMax.Y && b.Position.Y < aMax.Y
}

// HasCollisionRaw пересечение без учёта типов сущностей
func (cs *CollisionSystem) HasCollisionRaw(a, b *entity.Entity) (bool, error) {
	if err := checkShapes(a, b); err != nil {
		return false, err
	}
	return Overlaps(a, b), nil
}

func isNotMoving(e *entity.Entity) bool {
	return e.Type == entity.Fixed || e.Velocity.IsZero()
}

// HasCollision проверяет столкновение с учётом типов: Ghost не сталкивается,
// а движущаяся от неподвижной сущности не считается столкнувшейся.
func (cs *CollisionSystem) HasCollision(a, b *entity.Entity) (bool, error) {
	if err := checkShapes(a, b); err != nil {
		return false, err
	}
	if a.Type == entity.Ghost || b.Type == entity.Ghost {
		return false, nil
	}

	// неподвижная сущность всегда первая
	if isNotMoving(b) && !isNotMoving(a) {
		a, b = b, a
	}
	if isNotMoving(a) {
		if b.Acceleration.Y*b.Velocity.Y < 0 || b.Acceleration.X*b.Velocity.X < 0 {
			return false, nil
		}
	}
	return Overlaps(a, b), nil
}

// Run проверяет все пары, применяет реакцию к столкнувшимся и возвращает
// множество столкнувшихся id и список пар в порядке обхода.
func (cs *CollisionSystem) Run(entities []*entity.Entity) (map[entity.ID]bool, []Pair, error) {
	collided := make(map[entity.ID]bool)
	var pairs []Pair

	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			hit, err := cs.HasCollision(a, b)
			if err != nil {
				return collided, pairs, err
			}
			if !hit {
				continue
			}
			cs.Resolve(a)
			cs.Resolve(b)
			collided[a.ID] = true
			collided[b.ID] = true
			pairs = append(pairs, Pair{A: a.ID, B: b.ID})
		}
	}
	return collided, pairs, nil
}

// Resolve применяет реакцию на столкновение по типу сущности
func (cs *CollisionSystem) Resolve(e *entity.Entity) {
	switch e.Type {
	case entity.Default:
		e.Velocity.X, e.Velocity.Y = 0, 0
	case entity.Elastic:
		e.Velocity = e.Velocity.Neg()
	}
}

// DeathZoneHits возвращает игроков, пересекающих зоны гибели
func (cs *CollisionSystem) DeathZoneHits(entities []*entity.Entity, players map[entity.ID]bool) ([]entity.ID, error) {
	var hits []entity.ID
	seen := make(map[entity.ID]bool)
	for _, zone := range entities {
		if zone.Zone != entity.ZoneDeath {
			continue
		}
		for _, e := range entities {
			if !players[e.ID] || seen[e.ID] || e.ID == zone.ID {
				continue
			}
			hit, err := cs.HasCollisionRaw(zone, e)
			if err != nil {
				return hits, err
			}
			if hit {
				seen[e.ID] = true
				hits = append(hits, e.ID)
			}
		}
	}
	return hits, nil
}
