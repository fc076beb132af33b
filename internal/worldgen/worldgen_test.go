package worldgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/physics"
	"github.com/annel0/statesync/internal/vec"
)

func countZone(es []entity.Entity, z entity.Zone) int {
	n := 0
	for _, e := range es {
		if e.Zone == z {
			n++
		}
	}
	return n
}

func TestGenerate(t *testing.T) {
	p := Params{Seed: 7, Width: 1600, Height: 900, Platforms: 5, Obstacles: 3, SideScroll: true}
	a := Generate(p)
	b := Generate(p)
	assert.Equal(t, a, b, "одинаковые параметры дают одинаковый мир")

	assert.Equal(t, 1, countZone(a, entity.ZoneSpawn))
	assert.Equal(t, 1, countZone(a, entity.ZoneDeath))
	assert.Equal(t, 2, countZone(a, entity.ZoneSideScroll))

	var death entity.Entity
	for _, e := range a {
		if e.Zone == entity.ZoneDeath {
			death = e
		}
	}

	var platforms, obstacles, floor int
	for _, e := range a {
		switch {
		case e.Zone != entity.ZoneNone:
		case e.Type == entity.Elastic:
			obstacles++
			assert.False(t, e.Velocity.IsZero(), "препятствия движутся")
		case e.Type == entity.Fixed && e.Size.Height == PlatformHeight && e.Size.Width == PlatformWidth:
			platforms++
		case e.Type == entity.Fixed:
			floor++
			assert.Less(t, e.Position.Y, death.Position.Y, "пол выше зоны гибели")
		}
	}
	assert.Equal(t, 5, platforms)
	assert.Equal(t, 3, obstacles)
	assert.GreaterOrEqual(t, floor, 1, "под зоной появления есть пол")
	assert.Equal(t, 1600.0, death.Size.Width)
	assert.Equal(t, 900.0-DeathHeight, death.Position.Y)

	t.Run("без прокрутки и с умолчаниями", func(t *testing.T) {
		es := Generate(Params{Seed: 1})
		assert.Zero(t, countZone(es, entity.ZoneSideScroll))
		assert.Equal(t, 1, countZone(es, entity.ZoneSpawn))
	})

	t.Run("зоны прокрутки", func(t *testing.T) {
		sc := physics.NewSideScroller()
		n, err := RegisterScrollZones(sc, a, p.Width)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, sc.Len())
	})

	t.Run("Populate", func(t *testing.T) {
		w := entity.NewWorld()
		ids := Populate(w, a)
		assert.Len(t, ids, len(a))
		assert.Equal(t, len(a), w.Len())
		assert.Len(t, w.SpawnZones(), 1)
	})
}

func TestPlayerPool(t *testing.T) {
	spawn := entity.NewRect(vec.Vec2Float{X: 10, Y: 20}, entity.Size{Width: 200, Height: 200}, entity.White)
	spawn.Zone = entity.ZoneSpawn

	players := PlayerPool(3, spawn)
	require.Len(t, players, 3)
	for i, p := range players {
		assert.Equal(t, physics.PlayerSize, p.Size)
		assert.Equal(t, physics.DefaultGravity, p.Acceleration.Y, "игроки падают")
		assert.GreaterOrEqual(t, p.Position.X, spawn.Position.X)
		assert.LessOrEqual(t, p.Max().X, spawn.Max().X, "игрок %d внутри зоны появления", i)
	}
	assert.Equal(t, 10.0, players[0].Position.X)
	assert.Equal(t, 160.0, players[2].Position.X)
	assert.NotEqual(t, players[0].Color, players[1].Color)

	assert.Nil(t, PlayerPool(0, spawn))
	assert.Len(t, PlayerPool(1, spawn), 1)
}

func TestLoadFile(t *testing.T) {
	l, err := LoadFile(filepath.Join("testdata", "arena.yaml"))
	require.NoError(t, err)
	require.Len(t, l.Entities, 4)
	assert.Equal(t, 800.0, l.Width)

	spawn := l.Entities[0]
	assert.Equal(t, entity.Ghost, spawn.Type)
	assert.Equal(t, entity.ZoneSpawn, spawn.Zone)
	assert.Equal(t, entity.White, spawn.Color)

	assert.Equal(t, entity.Green, l.Entities[1].Color)
	assert.Equal(t, entity.Color{R: 255, A: 128}, l.Entities[2].Color)

	ball := l.Entities[3]
	assert.Equal(t, entity.Elastic, ball.Type)
	assert.Equal(t, vec.Vec2Float{X: -50}, ball.Velocity)
	assert.Equal(t, physics.DefaultGravity, ball.Acceleration.Y)

	players, err := l.Players(2)
	require.NoError(t, err)
	assert.Len(t, players, 2)

	t.Run("ошибки", func(t *testing.T) {
		_, err := Parse([]byte("entities: []"))
		assert.ErrorIs(t, err, ErrEmptyWorld)

		_, err = Parse([]byte("entities:\n  - width: 0\n    height: 1\n"))
		assert.Error(t, err)

		_, err = Parse([]byte("entities:\n  - width: 1\n    height: 1\n    color: [1, 2]\n"))
		assert.Error(t, err)

		_, err = Parse([]byte("entities:\n  - width: 1\n    height: 1\n    color: [1, 2, 300]\n"))
		assert.Error(t, err)

		_, err = LoadFile(filepath.Join(t.TempDir(), "нет.yaml"))
		assert.Error(t, err)
	})

	t.Run("размер по содержимому", func(t *testing.T) {
		l, err := Parse([]byte("entities:\n  - x: 10\n    y: 20\n    width: 5\n    height: 5\n"))
		require.NoError(t, err)
		assert.Equal(t, 15.0, l.Width)
		assert.Equal(t, 25.0, l.Height)

		_, err = l.Players(1)
		assert.ErrorIs(t, err, physics.ErrNoSpawnPoints)
	})
}

func TestBuild(t *testing.T) {
	c := config.Default().World
	l, err := Build(c)
	require.NoError(t, err)
	assert.Equal(t, float64(c.Width), l.Width)
	assert.Equal(t, 1, countZone(l.Entities, entity.ZoneSpawn))

	path := filepath.Join(t.TempDir(), "w.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entities:\n  - zone: spawn\n    type: ghost\n    width: 100\n    height: 100\n"), 0o644))
	c.File = path
	l, err = Build(c)
	require.NoError(t, err)
	require.Len(t, l.Entities, 1)
}
