package physics

import (
	"errors"
	"math/rand"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/vec"
)

// ErrNoSpawnPoints в мире нет ни одной зоны появления
var ErrNoSpawnPoints = errors.New("physics: нет зон появления")

// PlayerSize размер игрока по умолчанию
var PlayerSize = entity.Size{Width: 50, Height: 50}

// SpawnPosition выбирает случайную точку внутри случайной зоны SPAWN так,
// чтобы прямоугольник size поместился в зону.
func SpawnPosition(rng *rand.Rand, zones []entity.Entity, size entity.Size) (vec.Vec2Float, error) {
	var spawns []entity.Entity
	for _, z := range zones {
		if z.Zone == entity.ZoneSpawn {
			spawns = append(spawns, z)
		}
	}
	if len(spawns) == 0 {
		return vec.Vec2Float{}, ErrNoSpawnPoints
	}

	zone := spawns[rng.Intn(len(spawns))]
	freeW := zone.Size.Width - size.Width
	freeH := zone.Size.Height - size.Height
	if freeW < 0 {
		freeW = 0
	}
	if freeH < 0 {
		freeH = 0
	}
	return vec.Vec2Float{
		X: zone.Position.X + rng.Float64()*freeW,
		Y: zone.Position.Y + rng.Float64()*freeH,
	}, nil
}
