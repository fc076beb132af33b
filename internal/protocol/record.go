// Package protocol содержит текстовый формат записей сущностей, кадры рассылки,
// ответы рукопожатия и управляющие JSON-сообщения.
package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/annel0/statesync/internal/entity"
)

// ErrMalformedRecord запись без обязательного поля или с нечисловым значением
var ErrMalformedRecord = errors.New("protocol: некорректная запись сущности")

const (
	fieldSep = "|"
	kvSep    = ":"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// EncodeRecord кодирует сущность в строку key:value, разделённую '|'
func EncodeRecord(e entity.Entity) string {
	var b strings.Builder
	b.Grow(192)
	write := func(key, value string) {
		if b.Len() > 0 {
			b.WriteString(fieldSep)
		}
		b.WriteString(key)
		b.WriteString(kvSep)
		b.WriteString(value)
	}

	write("id", strconv.FormatInt(int64(e.ID), 10))
	write("x", formatFloat(e.Position.X))
	write("y", formatFloat(e.Position.Y))
	write("width", formatFloat(e.Size.Width))
	write("height", formatFloat(e.Size.Height))
	write("type", e.Type.String())
	write("zoneType", e.Zone.String())
	write("velocityX", formatFloat(e.Velocity.X))
	write("velocityY", formatFloat(e.Velocity.Y))
	write("accelerationX", formatFloat(e.Acceleration.X))
	write("accelerationY", formatFloat(e.Acceleration.Y))
	write("cr", strconv.Itoa(int(e.Color.R)))
	write("cg", strconv.Itoa(int(e.Color.G)))
	write("cb", strconv.Itoa(int(e.Color.B)))
	write("ca", strconv.Itoa(int(e.Color.A)))
	write("rotationAngle", formatFloat(e.Rotation))
	write("texturePath", url.QueryEscape(e.TexturePath))
	if e.Shape != entity.ShapeRectangle {
		write("shape", e.Shape.String())
	}
	return b.String()
}

// DecodeRecord разбирает запись. Неизвестные ключи игнорируются, отсутствующие
// необязательные поля получают значения по умолчанию.
func DecodeRecord(s string) (entity.Entity, error) {
	var e entity.Entity
	var seen [5]bool // id, x, y, width, height
	s = strings.TrimSpace(s)
	if s == "" {
		return e, fmt.Errorf("%w: пустая запись", ErrMalformedRecord)
	}

	for _, field := range strings.Split(s, fieldSep) {
		key, value, ok := strings.Cut(field, kvSep)
		if !ok {
			continue
		}
		switch key {
		case "id":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return e, fmt.Errorf("%w: id=%q", ErrMalformedRecord, value)
			}
			e.ID = entity.ID(id)
			seen[0] = true
		case "x", "y", "width", "height":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return e, fmt.Errorf("%w: %s=%q", ErrMalformedRecord, key, value)
			}
			switch key {
			case "x":
				e.Position.X, seen[1] = f, true
			case "y":
				e.Position.Y, seen[2] = f, true
			case "width":
				e.Size.Width, seen[3] = f, true
			case "height":
				e.Size.Height, seen[4] = f, true
			}
		case "type":
			e.Type = entity.ParseType(value)
		case "zoneType":
			e.Zone = entity.ParseZone(value)
		case "shape":
			e.Shape = entity.ParseShape(value)
		case "velocityX":
			e.Velocity.X = optionalFloat(value)
		case "velocityY":
			e.Velocity.Y = optionalFloat(value)
		case "accelerationX":
			e.Acceleration.X = optionalFloat(value)
		case "accelerationY":
			e.Acceleration.Y = optionalFloat(value)
		case "rotationAngle":
			e.Rotation = optionalFloat(value)
		case "cr":
			e.Color.R = optionalByte(value)
		case "cg":
			e.Color.G = optionalByte(value)
		case "cb":
			e.Color.B = optionalByte(value)
		case "ca":
			e.Color.A = optionalByte(value)
		case "texturePath":
			if p, err := url.QueryUnescape(value); err == nil {
				e.TexturePath = p
			}
		}
	}

	for i, name := range [...]string{"id", "x", "y", "width", "height"} {
		if !seen[i] {
			return e, fmt.Errorf("%w: нет поля %s", ErrMalformedRecord, name)
		}
	}
	return e, nil
}

func optionalFloat(value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return f
}

func optionalByte(value string) uint8 {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// EncodeRecords записи по одной на строку
func EncodeRecords(entities []entity.Entity) string {
	lines := make([]string, 0, len(entities))
	for _, e := range entities {
		lines = append(lines, EncodeRecord(e))
	}
	return strings.Join(lines, "\n")
}

// DecodeRecords разбирает записи по строкам; некорректные пропускаются.
// Возвращает разобранные сущности и количество отброшенных строк.
func DecodeRecords(s string) ([]entity.Entity, int) {
	var out []entity.Entity
	bad := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := DecodeRecord(line)
		if err != nil {
			bad++
			continue
		}
		out = append(out, e)
	}
	return out, bad
}
