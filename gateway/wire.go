package gateway

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ev3dev/ev3link"
)

// FrameType identifies a gateway frame.
//
// Frame layout: [type:1][uvarint payload length][payload].
type FrameType byte

const (
	// FrameOpen is the first client frame; payload is a JSON window.
	FrameOpen FrameType = 0x01
	// FrameReady acknowledges FrameOpen once the remote shell is allocated.
	FrameReady FrameType = 0x02
	// FrameStdout carries raw remote stdout bytes.
	FrameStdout FrameType = 0x03
	// FrameStderr carries raw remote stderr bytes.
	FrameStderr FrameType = 0x04
	// FrameStdin carries raw bytes for the remote shell input.
	FrameStdin FrameType = 0x05
	// FrameResize carries a JSON window.
	FrameResize FrameType = 0x06
	// FrameExit is the last server frame; payload is a JSON exit status.
	FrameExit FrameType = 0x07
)

func (t FrameType) String() string {
	switch t {
	case FrameOpen:
		return "open"
	case FrameReady:
		return "ready"
	case FrameStdout:
		return "stdout"
	case FrameStderr:
		return "stderr"
	case FrameStdin:
		return "stdin"
	case FrameResize:
		return "resize"
	case FrameExit:
		return "exit"
	default:
		return fmt.Sprintf("frame(0x%02x)", byte(t))
	}
}

// MaxPayload bounds a single frame payload.
const MaxPayload = 1 << 20

// ErrFrameTooLarge is returned for frames whose payload exceeds MaxPayload.
var ErrFrameTooLarge = errors.New("gateway frame too large")

// Frame is one decoded message.
type Frame struct {
	Type    FrameType
	Payload []byte
}

type windowMsg struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// ExitStatus is the payload of FrameExit.
type ExitStatus struct {
	Code  int    `json:"code"`
	Error string `json:"error,omitempty"`
}

// WriteFrame encodes one frame to w in a single Write call.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, 1+binary.MaxVarintLen64+len(payload))
	buf[0] = byte(t)
	n := binary.PutUvarint(buf[1:], uint64(len(payload)))
	n += copy(buf[1+n:], payload)

	_, err := w.Write(buf[:1+n])

	return err
}

// ReadFrame decodes one frame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	t, err := r.ReadByte()
	if err != nil {
		return Frame{}, err
	}

	length, err := binary.ReadUvarint(r)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read %s frame length: %w", FrameType(t), unexpectedEOF(err))
	}

	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("failed to read %s frame: %w", FrameType(t), unexpectedEOF(err))
	}

	return Frame{Type: FrameType(t), Payload: payload}, nil
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}

func encodeWindow(w ev3link.Window) []byte {
	data, _ := json.Marshal(windowMsg{Rows: w.Rows, Cols: w.Cols})

	return data
}

func decodeWindow(payload []byte) (ev3link.Window, error) {
	if len(payload) == 0 {
		return ev3link.Window{}, nil
	}

	var msg windowMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ev3link.Window{}, fmt.Errorf("invalid window payload: %w", err)
	}

	return ev3link.Window{Rows: msg.Rows, Cols: msg.Cols}, nil
}
