package api

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("{}"),
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	var buf bytes.Buffer
	for _, payload := range payloads {
		require.NoError(t, WriteFrame(&buf, payload))
	}
	for _, want := range payloads {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF, "clean end of stream between frames")
}

func TestFrameSplitReads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one message")))

	// One transport read never equals one message; the reader must
	// reassemble from arbitrarily small chunks.
	got, err := ReadFrame(oneByteReader{r: &buf})
	require.NoError(t, err)
	assert.Equal(t, []byte("one message"), got)
}

// oneByteReader yields at most one byte per read.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("truncated")))
	full := buf.Bytes()

	_, err := ReadFrame(bytes.NewReader(full[:len(full)-2]))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF, "mid-frame close is not a clean EOF")
}

func TestFrameTooLarge(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// A length prefix announcing an oversized frame is rejected before
	// any allocation.
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}
