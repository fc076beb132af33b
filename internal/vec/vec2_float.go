package vec

import "math"

// Vec2Float позиция, скорость или ускорение в мировых единицах
type Vec2Float struct {
	X, Y float64
}

func (v Vec2Float) Add(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X + other.X, Y: v.Y + other.Y}
}

// Mul масштабирует вектор (v*dt при интегрировании)
func (v Vec2Float) Mul(k float64) Vec2Float {
	return Vec2Float{X: v.X * k, Y: v.Y * k}
}

// Neg разворот скорости при упругом отскоке
func (v Vec2Float) Neg() Vec2Float {
	return Vec2Float{X: -v.X, Y: -v.Y}
}

func (v Vec2Float) IsZero() bool {
	return v.X == 0 && v.Y == 0
}

// ApproxEqual допуск eps по каждой оси; текстовый формат теряет точность
func (v Vec2Float) ApproxEqual(other Vec2Float, eps float64) bool {
	return math.Abs(v.X-other.X) <= eps && math.Abs(v.Y-other.Y) <= eps
}
