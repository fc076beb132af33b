package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	frameHeaderSize = 4
	maxFrameSize    = 8 << 20

	flagCompressed = 1 << 0
	flagHello      = 1 << 1

	// compressThreshold полезная нагрузка меньше порога не сжимается
	compressThreshold = 256
)

var errFrameTooLarge = errors.New("network: кадр превышает допустимый размер")

// frameCodec кадр: [длина LE uint32][флаги][длина темы][тема][нагрузка]
type frameCodec struct {
	compress     bool
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

func newFrameCodec(compress bool) (*frameCodec, error) {
	c := &frameCodec{compress: compress}
	var err error
	c.compressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd компрессора: %w", err)
	}
	c.decompressor, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd декомпрессора: %w", err)
	}
	return c, nil
}

func (c *frameCodec) close() {
	if c.compressor != nil {
		c.compressor.Close()
	}
	if c.decompressor != nil {
		c.decompressor.Close()
	}
}

func (c *frameCodec) encode(topic string, payload []byte, flags byte) ([]byte, error) {
	if len(topic) > 255 {
		return nil, fmt.Errorf("network: тема длиннее 255 байт: %q", topic)
	}
	if c.compress && len(payload) >= compressThreshold {
		payload = c.compressor.EncodeAll(payload, nil)
		flags |= flagCompressed
	}

	bodyLen := 2 + len(topic) + len(payload)
	if bodyLen > maxFrameSize {
		return nil, errFrameTooLarge
	}
	buf := make([]byte, frameHeaderSize+bodyLen)
	binary.LittleEndian.PutUint32(buf, uint32(bodyLen))
	buf[4] = flags
	buf[5] = byte(len(topic))
	copy(buf[6:], topic)
	copy(buf[6+len(topic):], payload)
	return buf, nil
}

type frame struct {
	flags   byte
	topic   string
	payload []byte
}

func (c *frameCodec) read(r io.Reader) (frame, error) {
	var f frame
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return f, err
	}
	bodyLen := binary.LittleEndian.Uint32(header[:])
	if bodyLen < 2 || bodyLen > maxFrameSize {
		return f, fmt.Errorf("%w: %d", errFrameTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return f, err
	}
	f.flags = body[0]
	topicLen := int(body[1])
	if 2+topicLen > len(body) {
		return f, fmt.Errorf("network: длина темы %d выходит за кадр", topicLen)
	}
	f.topic = string(body[2 : 2+topicLen])
	f.payload = body[2+topicLen:]

	if f.flags&flagCompressed != 0 {
		payload, err := c.decompressor.DecodeAll(f.payload, nil)
		if err != nil {
			return f, fmt.Errorf("ошибка распаковки кадра: %w", err)
		}
		f.payload = payload
	}
	return f, nil
}
