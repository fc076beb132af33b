package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/statesync/internal/vec"
)

func TestWorldSpawnAndInsert(t *testing.T) {
	w := NewWorld()

	first := w.Spawn(NewRect(vec.Vec2Float{X: 1}, Size{10, 10}, White))
	second := w.Spawn(NewRect(vec.Vec2Float{X: 2}, Size{10, 10}, White))
	assert.Equal(t, ID(1), first)
	assert.Equal(t, ID(2), second)

	t.Run("дубликат отклоняется", func(t *testing.T) {
		err := w.Insert(Entity{ID: first})
		assert.ErrorIs(t, err, ErrDuplicateID)
	})

	t.Run("после явного id счётчик сдвигается", func(t *testing.T) {
		require.NoError(t, w.Insert(Entity{ID: 10}))
		assert.Equal(t, ID(11), w.Spawn(Entity{}))
	})

	assert.Equal(t, 4, w.Len())
}

func TestWorldSnapshotIsCopy(t *testing.T) {
	w := NewWorld()
	id := w.Spawn(NewRect(vec.Vec2Float{X: 5, Y: 5}, Size{1, 1}, Red))

	snap := w.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Position.X = 100

	got, ok := w.Get(id)
	require.True(t, ok)
	assert.Equal(t, 5.0, got.Position.X, "снимок не должен разделять память с миром")
}

func TestWorldOrderAndRemove(t *testing.T) {
	w := NewWorld()
	for i := 1; i <= 3; i++ {
		require.NoError(t, w.Insert(Entity{ID: ID(i * 10)}))
	}
	assert.True(t, w.Remove(20))
	assert.False(t, w.Remove(20))

	ids := []ID{}
	for _, e := range w.Snapshot() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []ID{10, 30}, ids)
}

func TestWorldUpdateAndMutate(t *testing.T) {
	w := NewWorld()
	id := w.Spawn(Entity{})

	require.NoError(t, w.Update(id, func(e *Entity) { e.Velocity.X = 3 }))
	assert.ErrorIs(t, w.Update(999, func(e *Entity) {}), ErrNotFound)

	err := w.Mutate(func(es []*Entity) error {
		for _, e := range es {
			e.Position = e.Position.Add(e.Velocity)
		}
		return nil
	})
	require.NoError(t, err)
	got, _ := w.Get(id)
	assert.Equal(t, 3.0, got.Position.X)
}

func TestWorldRetainAndZones(t *testing.T) {
	w := NewWorld()
	w.Spawn(Entity{Zone: ZoneSpawn, Type: Ghost})
	keep := w.Spawn(Entity{})
	w.Spawn(Entity{Zone: ZoneDeath, Type: Ghost})

	assert.Len(t, w.SpawnZones(), 1)

	removed := w.Retain(func(e Entity) bool { return e.ID == keep })
	assert.Len(t, removed, 2)
	assert.Equal(t, 1, w.Len())
	assert.Empty(t, w.SpawnZones())
}

func TestParseEnums(t *testing.T) {
	assert.Equal(t, Ghost, ParseType("GHOST"))
	assert.Equal(t, Default, ParseType("bogus"), "неизвестный тип становится DEFAULT")
	assert.Equal(t, ZoneSideScroll, ParseZone(ZoneSideScroll.String()))
	assert.Equal(t, ShapeCircle, ParseShape("circle"))
	assert.Equal(t, "ELASTIC", Elastic.String())
}
