package worldgen

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/annel0/statesync/internal/config"
	"github.com/annel0/statesync/internal/entity"
	"github.com/annel0/statesync/internal/physics"
	"github.com/annel0/statesync/internal/vec"
)

var ErrEmptyWorld = errors.New("worldgen: файл мира не содержит сущностей")

// entityDoc одна сущность в YAML-файле мира
type entityDoc struct {
	Type     string  `yaml:"type"`
	Zone     string  `yaml:"zone"`
	Shape    string  `yaml:"shape"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	VX       float64 `yaml:"vx"`
	VY       float64 `yaml:"vy"`
	AX       float64 `yaml:"ax"`
	AY       float64 `yaml:"ay"`
	Gravity  bool    `yaml:"gravity"`
	Color    []int   `yaml:"color"`
	Rotation float64 `yaml:"rotation"`
	Texture  string  `yaml:"texture"`
}

type worldDoc struct {
	Width    float64     `yaml:"width"`
	Height   float64     `yaml:"height"`
	Entities []entityDoc `yaml:"entities"`
}

// Layout готовый набор сущностей и размеры мира
type Layout struct {
	Width    float64
	Height   float64
	Entities []entity.Entity
}

func (d entityDoc) toEntity(i int) (entity.Entity, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return entity.Entity{}, fmt.Errorf("сущность %d: размер должен быть > 0", i)
	}
	c, err := parseColor(d.Color)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("сущность %d: %w", i, err)
	}

	e := entity.NewRect(vec.Vec2Float{X: d.X, Y: d.Y}, entity.Size{Width: d.Width, Height: d.Height}, c)
	e.Type = entity.ParseType(d.Type)
	e.Zone = entity.ParseZone(d.Zone)
	e.Shape = entity.ParseShape(d.Shape)
	e.Rotation = d.Rotation
	e.TexturePath = d.Texture

	gravity := 0.0
	if d.Gravity {
		gravity = physics.DefaultGravity
	}
	physics.ApplyPhysics(&e, gravity, vec.Vec2Float{X: d.VX, Y: d.VY}, vec.Vec2Float{X: d.AX, Y: d.AY})
	return e, nil
}

func parseColor(rgba []int) (entity.Color, error) {
	if len(rgba) == 0 {
		return entity.White, nil
	}
	if len(rgba) != 3 && len(rgba) != 4 {
		return entity.Color{}, errors.New("цвет задаётся 3 или 4 компонентами")
	}
	var ch [4]uint8
	ch[3] = 255
	for i, v := range rgba {
		if v < 0 || v > 255 {
			return entity.Color{}, fmt.Errorf("компонента цвета %d вне 0..255", v)
		}
		ch[i] = uint8(v)
	}
	return entity.Color{R: ch[0], G: ch[1], B: ch[2], A: ch[3]}, nil
}

// Parse разбирает YAML-описание мира
func Parse(data []byte) (Layout, error) {
	var doc worldDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Layout{}, fmt.Errorf("ошибка разбора мира: %w", err)
	}
	if len(doc.Entities) == 0 {
		return Layout{}, ErrEmptyWorld
	}

	l := Layout{Width: doc.Width, Height: doc.Height, Entities: make([]entity.Entity, 0, len(doc.Entities))}
	for i, d := range doc.Entities {
		e, err := d.toEntity(i)
		if err != nil {
			return Layout{}, err
		}
		l.Entities = append(l.Entities, e)
	}
	if l.Width <= 0 || l.Height <= 0 {
		for _, e := range l.Entities {
			m := e.Max()
			if m.X > l.Width {
				l.Width = m.X
			}
			if m.Y > l.Height {
				l.Height = m.Y
			}
		}
	}
	return l, nil
}

// LoadFile читает мир из YAML-файла
func LoadFile(path string) (Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("не удалось прочитать мир: %w", err)
	}
	return Parse(data)
}

// Build строит мир по конфигурации: из файла, если он задан, иначе генерацией
func Build(c config.WorldConfig) (Layout, error) {
	if c.File != "" {
		return LoadFile(c.File)
	}
	p := FromConfig(c).withDefaults()
	return Layout{Width: p.Width, Height: p.Height, Entities: Generate(p)}, nil
}

// Players шаблоны игроков для первой зоны появления мира
func (l Layout) Players(n int) ([]entity.Entity, error) {
	spawn, ok := FirstSpawn(l.Entities)
	if !ok {
		return nil, physics.ErrNoSpawnPoints
	}
	return PlayerPool(n, spawn), nil
}
