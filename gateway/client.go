package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ev3dev/ev3link"
)

// Conn is the front-end side of one gateway shell.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader

	stdout io.Writer
	stderr io.Writer

	writeMu sync.Mutex

	done    chan struct{}
	status  ExitStatus
	exited  bool
	readErr error
}

// Dial connects to a gateway at addr and opens a shell of the given size.
// Remote stdout and stderr are copied to the given writers; nil discards.
// Writers are called from a single goroutine and must not block for long.
func Dial(ctx context.Context, addr string, w ev3link.Window, stdout, stderr io.Writer) (*Conn, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial shell gateway at %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := WriteFrame(conn, FrameOpen, encodeWindow(w)); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to request shell: %w", err)
	}

	r := bufio.NewReader(conn)

	reply, err := ReadFrame(r)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to read shell reply: %w", err)
	}

	switch reply.Type {
	case FrameReady:
	case FrameExit:
		_ = conn.Close()

		var status ExitStatus
		_ = json.Unmarshal(reply.Payload, &status)

		return nil, fmt.Errorf("remote shell refused: %s", status.Error)
	default:
		_ = conn.Close()

		return nil, fmt.Errorf("unexpected %s frame from shell gateway", reply.Type)
	}

	if stdout == nil {
		stdout = io.Discard
	}

	if stderr == nil {
		stderr = io.Discard
	}

	c := &Conn{
		conn:   conn,
		r:      r,
		stdout: stdout,
		stderr: stderr,
		done:   make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// Write sends p to the remote shell input.
func (c *Conn) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxPayload {
			chunk = chunk[:MaxPayload]
		}

		if err := c.send(FrameStdin, chunk); err != nil {
			return written, err
		}

		written += len(chunk)
		p = p[len(chunk):]
	}

	return written, nil
}

// Resize changes the remote terminal size.
func (c *Conn) Resize(w ev3link.Window) error {
	return c.send(FrameResize, encodeWindow(w))
}

// Done is closed once the remote shell has ended or the connection dropped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the shell ends and returns its exit status. A dropped
// connection without an exit frame is reported as an error.
func (c *Conn) Wait() (ExitStatus, error) {
	<-c.done

	if !c.exited {
		if c.readErr != nil {
			return ExitStatus{}, c.readErr
		}

		return ExitStatus{}, io.ErrUnexpectedEOF
	}

	return c.status, nil
}

// Close drops the connection, which closes the remote shell.
func (c *Conn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

func (c *Conn) send(t FrameType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return WriteFrame(c.conn, t, payload)
}

func (c *Conn) readLoop() {
	defer close(c.done)
	defer func() { _ = c.conn.Close() }()

	for {
		f, err := ReadFrame(c.r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.readErr = err
			}

			return
		}

		switch f.Type {
		case FrameStdout:
			_, _ = c.stdout.Write(f.Payload)
		case FrameStderr:
			_, _ = c.stderr.Write(f.Payload)
		case FrameExit:
			_ = json.Unmarshal(f.Payload, &c.status)
			c.exited = true

			return
		default:
			// unknown frames are skipped
		}
	}
}
