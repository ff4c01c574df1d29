package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ev3dev/ev3link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_BinarySafe(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameStdout, payload))
	require.NoError(t, WriteFrame(&buf, FrameReady, nil))

	// 300 needs a two byte uvarint.
	assert.Equal(t, 1+2+300+1+1, buf.Len())

	r := bufio.NewReader(&buf)

	f, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, FrameStdout, f.Type)
	assert.Equal(t, payload, f.Payload)

	f, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, FrameReady, f.Type)
	assert.Empty(t, f.Payload)

	_, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrame_Errors(t *testing.T) {
	t.Parallel()

	err := WriteFrame(io.Discard, FrameStdin, make([]byte, MaxPayload+1))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	// Header claims 2 MiB.
	huge := []byte{byte(FrameStdin), 0x80, 0x80, 0x80, 0x01}
	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(huge)))
	require.ErrorIs(t, err, ErrFrameTooLarge)

	truncated := []byte{byte(FrameStdout), 0x05, 'a', 'b'}
	_, err = ReadFrame(bufio.NewReader(bytes.NewReader(truncated)))
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
}

func TestDecodeWindow(t *testing.T) {
	t.Parallel()

	w, err := decodeWindow(encodeWindow(ev3link.Window{Rows: 24, Cols: 80}))
	require.NoError(t, err)
	assert.Equal(t, ev3link.Window{Rows: 24, Cols: 80}, w)

	w, err = decodeWindow(nil)
	require.NoError(t, err)
	assert.Equal(t, ev3link.Window{}, w)

	_, err = decodeWindow([]byte("{"))
	require.Error(t, err)
}
