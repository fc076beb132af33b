// Package worldgen строит демонстрационные миры: процедурно из шума Перлина
// или из YAML-файла со списком сущностей.
package worldgen

import (
	"fmt"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/physics"
	"github.com/annel0/statesync/internal/vec"
)

// Размеры элементов мира
const (
	FloorHeight    = 20.0
	FloorSegment   = 200.0
	DeathHeight    = 60.0
	SpawnSize      = 200.0
	PlatformWidth  = 150.0
	PlatformHeight = 20.0
	ObstacleSize   = 30.0
	ObstacleSpeed  = 50.0
	ScrollWidth    = 20.0

	// сегмент пола пропускается, если шум ниже порога
	gapThreshold = 0.35
	// шаг выборки шума
	noiseScale = 0.37
)

// Params параметры генерации
type Params struct {
	Seed       int64
	Width      float64
	Height     float64
	Platforms  int
	Obstacles  int
	SideScroll bool
}

// FromConfig переводит секцию world конфигурации в Params
func FromConfig(c config.WorldConfig) Params {
	return Params{
		Seed:       c.Seed,
		Width:      float64(c.Width),
		Height:     float64(c.Height),
		Platforms:  c.Platforms,
		Obstacles:  c.Obstacles,
		SideScroll: c.SideScroll,
	}
}

func (p Params) withDefaults() Params {
	if p.Width <= 0 {
		p.Width = 1600
	}
	if p.Height <= 0 {
		p.Height = 900
	}
	if p.Platforms < 0 {
		p.Platforms = 0
	}
	if p.Obstacles < 0 {
		p.Obstacles = 0
	}
	return p
}

func rect(x, y, w, h float64, typ entity.Type, zone entity.Zone, c entity.Color) entity.Entity {
	e := entity.NewRect(vec.Vec2Float{X: x, Y: y}, entity.Size{Width: w, Height: h}, c)
	e.Type = typ
	e.Zone = zone
	return e
}

// Generate строит детерминированный мир: одинаковые Params дают одинаковый список.
// Порядок: зона появления, пол, зона гибели, платформы, препятствия, зоны прокрутки.
func Generate(p Params) []entity.Entity {
	p = p.withDefaults()
	n := newNoise(p.Seed)

	var out []entity.Entity
	out = append(out, rect(0, 0, SpawnSize, SpawnSize, entity.Ghost, entity.ZoneSpawn, entity.White))

	floorY := p.Height - DeathHeight - FloorHeight
	for i, x := 0, 0.0; x < p.Width; i, x = i+1, x+FloorSegment {
		w := FloorSegment
		if x+w > p.Width {
			w = p.Width - x
		}
		// под зоной появления пол есть всегда
		if x >= SpawnSize && n.at(float64(i)*noiseScale, 0.5) < gapThreshold {
			continue
		}
		out = append(out, rect(x, floorY, w, FloorHeight, entity.Fixed, entity.ZoneNone, entity.White))
	}

	out = append(out, rect(0, p.Height-DeathHeight, p.Width, DeathHeight, entity.Ghost, entity.ZoneDeath, entity.Red))

	band := floorY - SpawnSize - PlatformHeight*2
	for i := 0; i < p.Platforms; i++ {
		x := float64(i+1)*p.Width/float64(p.Platforms+1) - PlatformWidth/2
		y := SpawnSize + PlatformHeight
		if band > 0 {
			y += n.at(float64(i)*noiseScale, 1.5) * band
		}
		out = append(out, rect(x, y, PlatformWidth, PlatformHeight, entity.Fixed, entity.ZoneNone, entity.Green))
	}

	for i := 0; i < p.Obstacles; i++ {
		v := n.at(float64(i)*noiseScale, 2.5)
		x := SpawnSize + v*(p.Width-SpawnSize-ObstacleSize)
		o := rect(x, floorY-ObstacleSize*2, ObstacleSize, ObstacleSize, entity.Elastic, entity.ZoneNone, entity.Blue)
		o.Velocity = vec.Vec2Float{X: ObstacleSpeed}
		if v < 0.5 {
			o.Velocity.X = -ObstacleSpeed
		}
		out = append(out, o)
	}

	if p.SideScroll {
		out = append(out,
			rect(0, 0, ScrollWidth, p.Height, entity.Ghost, entity.ZoneSideScroll, entity.Blue),
			rect(p.Width-ScrollWidth, 0, ScrollWidth, p.Height, entity.Ghost, entity.ZoneSideScroll, entity.Blue),
		)
	}
	return out
}

// Populate добавляет сущности в мир и возвращает их идентификаторы
func Populate(w *entity.World, entities []entity.Entity) []entity.ID {
	ids := make([]entity.ID, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, w.Spawn(e))
	}
	return ids
}

// RegisterScrollZones регистрирует SIDESCROLL-сущности в s: зона в левой
// половине мира сдвигает мир вправо, в правой влево.
func RegisterScrollZones(s *physics.SideScroller, entities []entity.Entity, width float64) (int, error) {
	n := 0
	for _, e := range entities {
		if e.Zone != entity.ZoneSideScroll {
			continue
		}
		action := physics.ScrollLeft
		if e.Center().X < width/2 {
			action = physics.ScrollRight
		}
		if err := s.AddZone(fmt.Sprintf("scroll-%d", n), e, action); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

var playerColors = []entity.Color{entity.Red, entity.Green, entity.Blue, entity.White}

// PlayerPool шаблоны игроков, расставленные внутри зоны появления spawn.
// Игроки падают под действием гравитации.
func PlayerPool(n int, spawn entity.Entity) []entity.Entity {
	if n <= 0 {
		return nil
	}
	size := physics.PlayerSize
	free := spawn.Size.Width - size.Width
	if free < 0 {
		free = 0
	}
	out := make([]entity.Entity, 0, n)
	for i := 0; i < n; i++ {
		x := spawn.Position.X
		if n > 1 {
			x += free * float64(i) / float64(n-1)
		}
		e := entity.NewRect(vec.Vec2Float{X: x, Y: spawn.Position.Y}, size, playerColors[i%len(playerColors)])
		physics.ApplyPhysics(&e, physics.DefaultGravity, vec.Vec2Float{}, vec.Vec2Float{})
		out = append(out, e)
	}
	return out
}

// FirstSpawn первая зона появления из списка
func FirstSpawn(entities []entity.Entity) (entity.Entity, bool) {
	for _, e := range entities {
		if e.Zone == entity.ZoneSpawn {
			return e, true
		}
	}
	return entity.Entity{}, false
}
