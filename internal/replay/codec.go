package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/statesync/internal/entity"
)

var (
	ErrChecksum      = errors.New("replay: контрольная сумма записи не совпадает")
	ErrCorruptRecord = errors.New("replay: повреждённая запись")
)

const checksumSize = 8

// Номера полей. Менять нельзя: сохранённые записи читаются по ним.
const (
	recID            protowire.Number = 1
	recCreatedAt     protowire.Number = 2
	recFrameDuration protowire.Number = 3
	recFrame         protowire.Number = 4

	frameIndex    protowire.Number = 1
	frameSnapshot protowire.Number = 2

	entID       protowire.Number = 1
	entX        protowire.Number = 2
	entY        protowire.Number = 3
	entWidth    protowire.Number = 4
	entHeight   protowire.Number = 5
	entVX       protowire.Number = 6
	entVY       protowire.Number = 7
	entAX       protowire.Number = 8
	entAY       protowire.Number = 9
	entType     protowire.Number = 10
	entZone     protowire.Number = 11
	entShape    protowire.Number = 12
	entColor    protowire.Number = 13
	entRotation protowire.Number = 14
	entTexture  protowire.Number = 15
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil)
	})
	return encoder, decoder, codecErr
}

// EncodeRecording сериализует запись: protowire, затем zstd, затем xxhash64 (LE) сжатых байт
func EncodeRecording(r *Recording) ([]byte, error) {
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	raw := marshalRecording(r)
	blob := enc.EncodeAll(raw, make([]byte, 0, len(raw)/2+checksumSize))
	return binary.LittleEndian.AppendUint64(blob, xxhash.Sum64(blob)), nil
}

// DecodeRecording проверяет контрольную сумму и восстанавливает запись
func DecodeRecording(blob []byte) (*Recording, error) {
	if len(blob) < checksumSize {
		return nil, fmt.Errorf("%w: %d байт", ErrCorruptRecord, len(blob))
	}
	body, sum := blob[:len(blob)-checksumSize], blob[len(blob)-checksumSize:]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(sum) {
		return nil, ErrChecksum
	}

	_, dec, err := zstdCodec()
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации zstd: %w", err)
	}
	raw, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки записи: %w", err)
	}
	r, err := unmarshalRecording(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return r, nil
}

func marshalRecording(r *Recording) []byte {
	var b []byte
	b = protowire.AppendTag(b, recID, protowire.BytesType)
	b = protowire.AppendBytes(b, r.ID[:])
	b = protowire.AppendTag(b, recCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(r.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, recFrameDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.FrameDuration))

	for _, f := range r.Frames {
		b = protowire.AppendTag(b, recFrame, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalFrame(f))
	}
	return b
}

func marshalFrame(f Frame) []byte {
	var b []byte
	b = protowire.AppendTag(b, frameIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(f.Index))
	for i := range f.Snapshots {
		b = protowire.AppendTag(b, frameSnapshot, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalEntity(&f.Snapshots[i]))
	}
	return b
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func marshalEntity(e *entity.Entity) []byte {
	var b []byte
	b = protowire.AppendTag(b, entID, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.ID)))
	b = appendDouble(b, entX, e.Position.X)
	b = appendDouble(b, entY, e.Position.Y)
	b = appendDouble(b, entWidth, e.Size.Width)
	b = appendDouble(b, entHeight, e.Size.Height)
	b = appendDouble(b, entVX, e.Velocity.X)
	b = appendDouble(b, entVY, e.Velocity.Y)
	b = appendDouble(b, entAX, e.Acceleration.X)
	b = appendDouble(b, entAY, e.Acceleration.Y)
	b = protowire.AppendTag(b, entType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	b = protowire.AppendTag(b, entZone, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Zone))
	b = protowire.AppendTag(b, entShape, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Shape))
	b = protowire.AppendTag(b, entColor, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, uint32(e.Color.R)<<24|uint32(e.Color.G)<<16|uint32(e.Color.B)<<8|uint32(e.Color.A))
	b = appendDouble(b, entRotation, e.Rotation)
	if e.TexturePath != "" {
		b = protowire.AppendTag(b, entTexture, protowire.BytesType)
		b = protowire.AppendString(b, e.TexturePath)
	}
	return b
}

// field одно прочитанное поле сообщения
type field struct {
	num   protowire.Number
	typ   protowire.Type
	value uint64
	bytes []byte
}

// walk перебирает поля сообщения; неизвестные типы пропускаются
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.value, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.value, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.value = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalRecording(b []byte) (*Recording, error) {
	r := &Recording{}
	err := walk(b, func(f field) error {
		switch f.num {
		case recID:
			id, err := uuid.FromBytes(f.bytes)
			if err != nil {
				return fmt.Errorf("id записи: %w", err)
			}
			r.ID = id
		case recCreatedAt:
			r.CreatedAt = time.Unix(0, protowire.DecodeZigZag(f.value)).UTC()
		case recFrameDuration:
			r.FrameDuration = int64(f.value)
		case recFrame:
			frame, err := unmarshalFrame(f.bytes)
			if err != nil {
				return err
			}
			r.Frames = append(r.Frames, frame)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func unmarshalFrame(b []byte) (Frame, error) {
	var fr Frame
	err := walk(b, func(f field) error {
		switch f.num {
		case frameIndex:
			fr.Index = protowire.DecodeZigZag(f.value)
		case frameSnapshot:
			e, err := unmarshalEntity(f.bytes)
			if err != nil {
				return err
			}
			fr.Snapshots = append(fr.Snapshots, e)
		}
		return nil
	})
	return fr, err
}

func unmarshalEntity(b []byte) (entity.Entity, error) {
	var e entity.Entity
	double := func(v uint64) float64 { return math.Float64frombits(v) }
	err := walk(b, func(f field) error {
		switch f.num {
		case entID:
			e.ID = entity.ID(protowire.DecodeZigZag(f.value))
		case entX:
			e.Position.X = double(f.value)
		case entY:
			e.Position.Y = double(f.value)
		case entWidth:
			e.Size.Width = double(f.value)
		case entHeight:
			e.Size.Height = double(f.value)
		case entVX:
			e.Velocity.X = double(f.value)
		case entVY:
			e.Velocity.Y = double(f.value)
		case entAX:
			e.Acceleration.X = double(f.value)
		case entAY:
			e.Acceleration.Y = double(f.value)
		case entType:
			e.Type = entity.Type(f.value)
		case entZone:
			e.Zone = entity.Zone(f.value)
		case entShape:
			e.Shape = entity.Shape(f.value)
		case entColor:
			c := uint32(f.value)
			e.Color = entity.Color{R: uint8(c >> 24), G: uint8(c >> 16), B: uint8(c >> 8), A: uint8(c)}
		case entRotation:
			e.Rotation = double(f.value)
		case entTexture:
			e.TexturePath = string(f.bytes)
		}
		return nil
	})
	return e, err
}
