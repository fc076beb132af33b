// Package entity описывает реплицируемые сущности и их реестр.
package entity

import (
	"strings"

	"github.com/annel0/statesync/internal/vec"
)

// ID уникальный идентификатор сущности в пределах одного мира
type ID int64

// Type определяет реакцию сущности на столкновения
type Type uint8

const (
	Default Type = iota // останавливается при столкновении
	Fixed               // неподвижна
	Elastic             // отскакивает
	Ghost               // не взаимодействует
)

func (t Type) String() string {
	switch t {
	case Fixed:
		return "FIXED"
	case Elastic:
		return "ELASTIC"
	case Ghost:
		return "GHOST"
	default:
		return "DEFAULT"
	}
}

// ParseType разбирает тип; неизвестные строки дают Default
func ParseType(s string) Type {
	switch strings.ToUpper(s) {
	case "FIXED":
		return Fixed
	case "ELASTIC":
		return Elastic
	case "GHOST":
		return Ghost
	default:
		return Default
	}
}

// Zone помечает сущность как особую область мира
type Zone uint8

const (
	ZoneNone Zone = iota
	ZoneSpawn
	ZoneDeath
	ZoneSideScroll
)

func (z Zone) String() string {
	switch z {
	case ZoneSpawn:
		return "SPAWN"
	case ZoneDeath:
		return "DEATH"
	case ZoneSideScroll:
		return "SIDESCROLL"
	default:
		return "NONE"
	}
}

// ParseZone разбирает зону; неизвестные строки дают ZoneNone
func ParseZone(s string) Zone {
	switch strings.ToUpper(s) {
	case "SPAWN":
		return ZoneSpawn
	case "DEATH":
		return ZoneDeath
	case "SIDESCROLL":
		return ZoneSideScroll
	default:
		return ZoneNone
	}
}

// Shape геометрия сущности. Столкновения поддерживаются только для прямоугольников.
type Shape uint8

const (
	ShapeRectangle Shape = iota
	ShapeTriangle
	ShapeCircle
	ShapeTexture
)

func (s Shape) String() string {
	switch s {
	case ShapeTriangle:
		return "TRIANGLE"
	case ShapeCircle:
		return "CIRCLE"
	case ShapeTexture:
		return "TEXTURE"
	default:
		return "RECTANGLE"
	}
}

// ParseShape разбирает форму; неизвестные строки дают ShapeRectangle
func ParseShape(s string) Shape {
	switch strings.ToUpper(s) {
	case "TRIANGLE":
		return ShapeTriangle
	case "CIRCLE":
		return ShapeCircle
	case "TEXTURE":
		return ShapeTexture
	default:
		return ShapeRectangle
	}
}

type Size struct {
	Width, Height float64
}

type Color struct {
	R, G, B, A uint8
}

var (
	White = Color{R: 255, G: 255, B: 255, A: 255}
	Red   = Color{R: 255, A: 255}
	Green = Color{G: 255, A: 255}
	Blue  = Color{B: 255, A: 255}
)

// Entity значение состояния сущности. Копия является снимком.
type Entity struct {
	ID           ID
	Position     vec.Vec2Float
	Velocity     vec.Vec2Float
	Acceleration vec.Vec2Float
	Size         Size
	Type         Type
	Zone         Zone
	Shape        Shape
	Color        Color
	Rotation     float64
	TexturePath  string
}

// NewRect создаёт прямоугольную сущность типа Default
func NewRect(pos vec.Vec2Float, size Size, color Color) Entity {
	return Entity{Position: pos, Size: size, Color: color, Shape: ShapeRectangle}
}

// Min левый верхний угол
func (e Entity) Min() vec.Vec2Float {
	return e.Position
}

// Max правый нижний угол
func (e Entity) Max() vec.Vec2Float {
	return vec.Vec2Float{X: e.Position.X + e.Size.Width, Y: e.Position.Y + e.Size.Height}
}

// Center центр ограничивающего прямоугольника
func (e Entity) Center() vec.Vec2Float {
	return vec.Vec2Float{X: e.Position.X + e.Size.Width/2, Y: e.Position.Y + e.Size.Height/2}
}

// IsMoving сообщает, движется ли сущность (Fixed никогда не движется)
func (e Entity) IsMoving() bool {
	return e.Type != Fixed && !e.Velocity.IsZero()
}

// IsZone сообщает, является ли сущность зоной
func (e Entity) IsZone() bool {
	return e.Zone != ZoneNone
}
