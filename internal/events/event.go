// Package events реализует отложенную типизированную доставку событий,
// упорядоченную по логическому времени.
package events

import (
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/vec"
)

// Type закрытое перечисление видов событий
type Type uint8

const (
	TypeCollision Type = iota
	TypeDeath
	TypeSpawn
	TypeInput
	TypeEntityUpdate
	TypeReplay

	typeCount
)

func (t Type) String() string {
	switch t {
	case TypeCollision:
		return "collision"
	case TypeDeath:
		return "death"
	case TypeSpawn:
		return "spawn"
	case TypeInput:
		return "input"
	case TypeEntityUpdate:
		return "entity_update"
	case TypeReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// Key нажатая клавиша управления
type Key string

const (
	KeyLeft  Key = "left"
	KeyRight Key = "right"
	KeyUp    Key = "up"
	KeyDown  Key = "down"
)

// Payload полезная нагрузка события. Реализуется только типами этого пакета.
type Payload interface {
	eventType() Type
}

type Collision struct {
	A, B entity.ID
}

type Death struct {
	Entity  entity.ID
	Respawn vec.Vec2Float
}

type Spawn struct {
	Entity   entity.ID
	Position vec.Vec2Float
}

type Input struct {
	Entity entity.ID
	Keys   []Key
}

type EntityUpdate struct {
	Snapshot entity.Entity
}

type Replay struct {
	Snapshot entity.Entity
	Frame    int64
	IsReplay bool
}

func (Collision) eventType() Type    { return TypeCollision }
func (Death) eventType() Type        { return TypeDeath }
func (Spawn) eventType() Type        { return TypeSpawn }
func (Input) eventType() Type        { return TypeInput }
func (EntityUpdate) eventType() Type { return TypeEntityUpdate }
func (Replay) eventType() Type       { return TypeReplay }

// Event событие с логической меткой времени
type Event struct {
	Type      Type
	Timestamp int64

	seq     uint64
	payload Payload
}

// New создаёт событие; тип выводится из нагрузки
func New(p Payload) Event {
	return Event{Type: p.eventType(), payload: p}
}

// Payload возвращает нагрузку события
func (e Event) Payload() Payload {
	return e.payload
}

// Seq порядковый номер в очереди (0 до Raise)
func (e Event) Seq() uint64 {
	return e.seq
}

func (e Event) AsCollision() (Collision, bool) {
	p, ok := e.payload.(Collision)
	return p, ok
}

func (e Event) AsDeath() (Death, bool) {
	p, ok := e.payload.(Death)
	return p, ok
}

func (e Event) AsSpawn() (Spawn, bool) {
	p, ok := e.payload.(Spawn)
	return p, ok
}

func (e Event) AsInput() (Input, bool) {
	p, ok := e.payload.(Input)
	return p, ok
}

func (e Event) AsEntityUpdate() (EntityUpdate, bool) {
	p, ok := e.payload.(EntityUpdate)
	return p, ok
}

func (e Event) AsReplay() (Replay, bool) {
	p, ok := e.payload.(Replay)
	return p, ok
}
