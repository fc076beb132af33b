package vec

// Vec2 целочисленные координаты (клетки экрана)
type Vec2 struct {
	X, Y int
}

// Add возвращает сумму векторов
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Clamp ограничивает компоненты диапазоном [lo, hi]
func (v Vec2) Clamp(lo, hi Vec2) Vec2 {
	return Vec2{X: clampInt(v.X, lo.X, hi.X), Y: clampInt(v.Y, lo.Y, hi.Y)}
}

// Floor переводит вещественный вектор в клетки размером cell
func (v Vec2Float) Floor(cell Vec2Float) Vec2 {
	return Vec2{X: floorDiv(v.X, cell.X), Y: floorDiv(v.Y, cell.Y)}
}

func floorDiv(a, b float64) int {
	q := a / b
	i := int(q)
	if float64(i) > q {
		i--
	}
	return i
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
