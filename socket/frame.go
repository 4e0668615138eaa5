package socket

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout: LENGTH | PAYLOAD
//               4 (uint32 big endian) | LENGTH
const HeaderSize = 4

const (
	DefaultChunkSize    = 64 * 1024
	DefaultMaxFrameSize = 64 * 1024 * 1024
	maxWireFrameSize    = 1<<31 - 1
)

var ErrFrameTooLarge = errors.New("frame too large")

// EncodeHeader returns the length prefix for a payload of n bytes.
func EncodeHeader(n int) ([]byte, error) {
	if n < 0 || n > maxWireFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(header, uint32(n))
	return header, nil
}

// Split cuts payload into writes of at most chunkSize bytes.
func Split(payload []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunks := make([][]byte, 0, len(payload)/chunkSize+1)
	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[offset:end])
	}
	return chunks
}

type decoderState int

const (
	readingLength decoderState = iota
	readingPayload
)

// Decoder reassembles frames from an arbitrarily split byte stream.
type Decoder struct {
	state   decoderState
	need    int
	buf     []byte
	maxSize int
}

func NewDecoder(maxSize int) *Decoder {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	return &Decoder{
		state:   readingLength,
		need:    HeaderSize,
		maxSize: maxSize,
	}
}

// Feed consumes data and returns every frame it completes. After an error
// the stream is unusable.
func (d *Decoder) Feed(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)

	var frames [][]byte
	offset := 0
	for len(d.buf)-offset >= d.need {
		switch d.state {
		case readingLength:
			size := binary.BigEndian.Uint32(d.buf[offset : offset+HeaderSize])
			offset += HeaderSize
			if int64(size) > int64(d.maxSize) {
				return frames, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, d.maxSize)
			}

			d.state = readingPayload
			d.need = int(size)
		case readingPayload:
			frame := make([]byte, d.need)
			copy(frame, d.buf[offset:offset+d.need])
			frames = append(frames, frame)
			offset += d.need

			d.state = readingLength
			d.need = HeaderSize
		}
	}

	if offset > 0 {
		if offset == len(d.buf) {
			d.buf = nil
		} else {
			d.buf = append([]byte(nil), d.buf[offset:]...)
		}
	}

	return frames, nil
}

// Buffered is the number of bytes waiting for a frame to complete.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
