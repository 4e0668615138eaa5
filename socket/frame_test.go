package socket

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeFrame(t *testing.T, payload []byte, chunkSize int) [][]byte {
	header, err := EncodeHeader(len(payload))
	require.NoError(t, err)
	return append([][]byte{header}, Split(payload, chunkSize)...)
}

func TestFrameRoundTripSizes(t *testing.T) {
	const chunk = 1024
	for _, size := range []int{0, 1, chunk - 1, chunk, chunk + 1, 10 * 1024 * 1024} {
		payload := bytes.Repeat([]byte{0xab}, size)
		for i := range payload {
			payload[i] = byte(i % 251)
		}

		d := NewDecoder(0)
		var frames [][]byte
		for _, write := range encodeFrame(t, payload, chunk) {
			got, err := d.Feed(write)
			require.NoError(t, err)
			frames = append(frames, got...)
		}

		require.Len(t, frames, 1, "size %d", size)
		assert.True(t, bytes.Equal(payload, frames[0]), "size %d", size)
		assert.Equal(t, 0, d.Buffered())
	}
}

func TestDecoderSeveralFramesInOneRead(t *testing.T) {
	var stream []byte
	for _, p := range []string{"one", "", "three"} {
		for _, w := range encodeFrame(t, []byte(p), DefaultChunkSize) {
			stream = append(stream, w...)
		}
	}

	frames, err := NewDecoder(0).Feed(stream)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "one", string(frames[0]))
	assert.Equal(t, "", string(frames[1]))
	assert.Equal(t, "three", string(frames[2]))
}

func TestDecoderByteByByte(t *testing.T) {
	var stream []byte
	for _, w := range encodeFrame(t, []byte("hello world"), 3) {
		stream = append(stream, w...)
	}

	d := NewDecoder(0)
	var frames [][]byte
	for _, b := range stream {
		got, err := d.Feed([]byte{b})
		require.NoError(t, err)
		frames = append(frames, got...)
	}

	require.Len(t, frames, 1)
	assert.Equal(t, "hello world", string(frames[0]))
}

func TestDecoderRejectsOversizedFrame(t *testing.T) {
	header, err := EncodeHeader(2048)
	require.NoError(t, err)

	_, err = NewDecoder(1024).Feed(header)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestSplit(t *testing.T) {
	assert.Empty(t, Split(nil, 4))
	assert.Equal(t, [][]byte{[]byte("abcd"), []byte("ef")}, Split([]byte("abcdef"), 4))
}
