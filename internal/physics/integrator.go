package physics

import (
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/vec"
)

const (
	// BaseDeltaTime шаг интегрирования при скорости 1.0
	BaseDeltaTime = 0.1
	// DefaultGravity ускорение свободного падения для игроков
	DefaultGravity = 9.8
)

// Integrator явный метод Эйлера: v += a*dt, затем p += v*dt
type Integrator struct{}

// NewIntegrator создаёт интегратор
func NewIntegrator() *Integrator {
	return &Integrator{}
}

// Step продвигает сущности на dt, пропуская skip, неподвижные и зоны
func (in *Integrator) Step(dt float64, entities []*entity.Entity, skip map[entity.ID]bool) {
	for _, e := range entities {
		if skip[e.ID] || e.Type == entity.Fixed || e.IsZone() {
			continue
		}
		e.Velocity = e.Velocity.Add(e.Acceleration.Mul(dt))
		e.Position = e.Position.Add(e.Velocity.Mul(dt))
	}
}

// ApplyPhysics задаёт скорость и ускорение с учётом гравитации
func ApplyPhysics(e *entity.Entity, gravity float64, velocity, acceleration vec.Vec2Float) {
	e.Velocity = velocity
	e.Acceleration = vec.Vec2Float{X: acceleration.X, Y: acceleration.Y + gravity}
}
