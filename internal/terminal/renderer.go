package terminal

import (
	"math"
	"sort"

	"github.com/gdamore/tcell/v2"

	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/vec"
)

// Символы заливки
const (
	runeZone  = '░'
	runeSolid = '█'
	runeBody  = '▓'
	runeOwn   = '@'
)

// Renderer рисует прямоугольники сущностей, масштабируя мир под экран.
// Нижняя строка отведена под статус.
type Renderer struct {
	screen tcell.Screen
	width  float64
	height float64
}

// NewRenderer width и height размеры мира в мировых единицах
func NewRenderer(screen tcell.Screen, width, height float64) *Renderer {
	return &Renderer{screen: screen, width: width, height: height}
}

// cellRect прямоугольник в клетках размером cell; хотя бы одна клетка
func cellRect(e entity.Entity, cell vec.Vec2Float) (lo, hi vec.Vec2) {
	lo = e.Position.Floor(cell)
	hi = vec.Vec2{
		X: int(math.Ceil((e.Position.X+e.Size.Width)/cell.X)) - 1,
		Y: int(math.Ceil((e.Position.Y+e.Size.Height)/cell.Y)) - 1,
	}
	if hi.X < lo.X {
		hi.X = lo.X
	}
	if hi.Y < lo.Y {
		hi.Y = lo.Y
	}
	return lo, hi
}

func styleOf(c entity.Color) tcell.Style {
	return tcell.StyleDefault.Foreground(tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B)))
}

// layer порядок отрисовки: зоны, затем неподвижные, затем подвижные, своя сверху
func layer(e entity.Entity, own entity.ID) int {
	switch {
	case e.ID == own:
		return 3
	case e.IsZone():
		return 0
	case e.Type == entity.Fixed:
		return 1
	default:
		return 2
	}
}

// Draw перерисовывает экран
func (r *Renderer) Draw(entities []entity.Entity, own entity.ID, status string) {
	r.screen.Clear()
	cols, rows := r.screen.Size()
	rows-- // строка статуса
	if cols <= 0 || rows <= 0 || r.width <= 0 || r.height <= 0 {
		r.screen.Show()
		return
	}
	cell := vec.Vec2Float{X: r.width / float64(cols), Y: r.height / float64(rows)}
	last := vec.Vec2{X: cols - 1, Y: rows - 1}

	ordered := append([]entity.Entity(nil), entities...)
	sort.SliceStable(ordered, func(i, j int) bool { return layer(ordered[i], own) < layer(ordered[j], own) })

	for _, e := range ordered {
		ch, style := runeBody, styleOf(e.Color)
		switch {
		case e.ID == own:
			ch, style = runeOwn, tcell.StyleDefault.Foreground(tcell.ColorYellow).Reverse(true)
		case e.IsZone():
			ch = runeZone
		case e.Type == entity.Fixed:
			ch = runeSolid
		}
		lo, hi := cellRect(e, cell)
		if hi.X < 0 || hi.Y < 0 || lo.X > last.X || lo.Y > last.Y {
			continue
		}
		lo, hi = lo.Clamp(vec.Vec2{}, last), hi.Clamp(vec.Vec2{}, last)
		for y := lo.Y; y <= hi.Y; y++ {
			for x := lo.X; x <= hi.X; x++ {
				r.screen.SetContent(x, y, ch, nil, style)
			}
		}
	}

	for i, c := range []rune(status) {
		if i >= cols {
			break
		}
		r.screen.SetContent(i, rows, c, nil, tcell.StyleDefault.Reverse(true))
	}
	r.screen.Show()
}
