package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus"
)

const readBufferSize = 32 * 1024

// bridge ties one local connection to one remote shell.
type bridge struct {
	id   string
	conn net.Conn
	log  logrus.FieldLogger

	writeMu sync.Mutex

	mu     sync.Mutex
	shell  Shell
	closed bool
}

func newBridge(id string, conn net.Conn, log logrus.FieldLogger) *bridge {
	return &bridge{
		id:   id,
		conn: conn,
		log:  log.WithField("bridge", id),
	}
}

func (b *bridge) run(ctx context.Context, opener Opener) {
	defer b.close()

	r := bufio.NewReader(b.conn)

	first, err := ReadFrame(r)
	if err != nil {
		b.log.WithError(err).Debug("client went away before open")

		return
	}

	if first.Type != FrameOpen {
		b.log.WithField("frame", first.Type).Debug("expected open frame")

		return
	}

	window, err := decodeWindow(first.Payload)
	if err != nil {
		b.sendExit(ExitStatus{Code: -1, Error: err.Error()})

		return
	}

	shell, err := opener.OpenShell(ctx, window.OrDefault())
	if err != nil {
		b.log.WithError(err).Warn("failed to open remote shell")
		b.sendExit(ExitStatus{Code: -1, Error: err.Error()})

		return
	}

	if !b.attach(shell) {
		_ = shell.Close()

		return
	}

	if err := b.send(FrameReady, nil); err != nil {
		b.log.WithError(err).Debug("client write failed")

		return
	}

	b.log.Debug("shell opened")

	var pumps sync.WaitGroup

	pumps.Add(2)

	go b.pump(&pumps, FrameStdout, shell.Stdout())
	go b.pump(&pumps, FrameStderr, shell.Stderr())

	inputDone := make(chan struct{})

	go func() {
		defer close(inputDone)

		b.readInput(r, shell)

		// Local side is gone: release the remote channel.
		_ = shell.Close()
	}()

	pumps.Wait()

	status := exitStatus(shell.Wait())
	b.sendExit(status)
	b.log.WithField("code", status.Code).Debug("shell ended")

	_ = b.conn.Close()

	<-inputDone
}

func (b *bridge) attach(shell Shell) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	b.shell = shell

	return true
}

// close tears down both sides. Safe to call more than once.
func (b *bridge) close() {
	b.mu.Lock()
	shell := b.shell
	b.closed = true
	b.mu.Unlock()

	_ = b.conn.Close()

	if shell != nil {
		_ = shell.Close()
	}
}

func (b *bridge) send(t FrameType, payload []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return WriteFrame(b.conn, t, payload)
}

func (b *bridge) sendExit(status ExitStatus) {
	data, _ := json.Marshal(status)

	if err := b.send(FrameExit, data); err != nil {
		b.log.WithError(err).Debug("failed to deliver exit status")
	}
}

// pump forwards one remote output stream to the client until the stream ends.
func (b *bridge) pump(wg *sync.WaitGroup, t FrameType, r io.Reader) {
	defer wg.Done()

	buf := make([]byte, readBufferSize)
	failed := false

	for {
		n, err := r.Read(buf)
		if n > 0 && !failed {
			if werr := b.send(t, buf[:n]); werr != nil {
				b.log.WithError(werr).Debug("client write failed")

				failed = true

				// Keep draining so the remote channel can finish closing.
				b.mu.Lock()
				shell := b.shell
				b.mu.Unlock()

				if shell != nil {
					_ = shell.Close()
				}
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.log.WithError(err).WithField("stream", t).Debug("remote stream error")
			}

			return
		}
	}
}

// readInput applies client frames to the shell until the client disconnects.
func (b *bridge) readInput(r *bufio.Reader, shell Shell) {
	for {
		f, err := ReadFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				b.log.WithError(err).Debug("client read failed")
			}

			return
		}

		switch f.Type {
		case FrameStdin:
			if _, err := shell.Write(f.Payload); err != nil {
				b.log.WithError(err).Debug("remote write failed")

				return
			}
		case FrameResize:
			w, err := decodeWindow(f.Payload)
			if err != nil {
				b.log.WithError(err).Debug("ignoring resize")

				continue
			}

			if err := shell.Resize(w); err != nil {
				b.log.WithError(err).Debug("remote resize failed")
			}
		default:
			b.log.WithField("frame", f.Type).Debug("ignoring unexpected frame")
		}
	}
}

func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}

	var exitErr *ev3link.ExitError
	if errors.As(err, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode}
	}

	return ExitStatus{Code: -1, Error: err.Error()}
}
