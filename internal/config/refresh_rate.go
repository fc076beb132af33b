package config

import "time"

// RefreshRate частота кадров/тиков. Допустимы только перечисленные значения.
type RefreshRate int

const (
	Rate15  RefreshRate = 15
	Rate30  RefreshRate = 30
	Rate60  RefreshRate = 60
	Rate90  RefreshRate = 90
	Rate120 RefreshRate = 120
	Rate240 RefreshRate = 240
)

// Valid сообщает, входит ли значение в перечисление
func (r RefreshRate) Valid() bool {
	switch r {
	case Rate15, Rate30, Rate60, Rate90, Rate120, Rate240:
		return true
	}
	return false
}

// Interval длительность одного тика
func (r RefreshRate) Interval() time.Duration {
	if r <= 0 {
		return time.Second / time.Duration(Rate60)
	}
	return time.Second / time.Duration(r)
}
