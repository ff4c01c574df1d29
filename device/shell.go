package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/gateway"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

var _ gateway.Shell = (*Shell)(nil)

// Shell is an interactive login shell on a remote pseudo-terminal.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

func openShell(ctx context.Context, client *ssh.Client, cfg Config, w ev3link.Window, log logrus.FieldLogger) (*Shell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh session: %w", err)
	}

	sh, err := setupShell(session, cfg, w.OrDefault(), log)
	if err != nil {
		_ = session.Close()

		return nil, err
	}

	go func() {
		sh.waitErr = session.Wait()
		close(sh.done)
	}()

	return sh, nil
}

func setupShell(session *ssh.Session, cfg Config, w ev3link.Window, log logrus.FieldLogger) (*Shell, error) {
	// Servers commonly refuse env requests; the shell still works without them.
	for _, k := range sortedKeys(cfg.Env) {
		if err := session.Setenv(k, cfg.Env[k]); err != nil {
			log.WithError(err).WithField("name", k).Debug("environment variable rejected by server")
		}
	}

	if err := session.RequestPty(cfg.TermType, w.Rows, w.Cols, buildTerminalModes()); err != nil {
		return nil, fmt.Errorf("request for pty failed: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}

	if err := session.Shell(); err != nil {
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return &Shell{
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		done:    make(chan struct{}),
	}, nil
}

// Write sends p to the shell input.
func (s *Shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Stdout is the terminal output.
func (s *Shell) Stdout() io.Reader {
	return s.stdout
}

// Stderr is the remote standard error stream. With a PTY it is usually empty.
func (s *Shell) Stderr() io.Reader {
	return s.stderr
}

// Resize changes the remote terminal size.
func (s *Shell) Resize(w ev3link.Window) error {
	w = w.OrDefault()

	return s.session.WindowChange(w.Rows, w.Cols)
}

// Signal sends os.Interrupt or os.Kill to the shell.
func (s *Shell) Signal(sig os.Signal) error {
	return signalSession(s.session, sig)
}

// Done is closed when the shell has ended.
func (s *Shell) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the shell ends. A non-zero exit status is *ev3link.ExitError.
func (s *Shell) Wait() error {
	<-s.done

	exitErr := &ssh.ExitError{}
	if errors.As(s.waitErr, &exitErr) {
		return &ev3link.ExitError{ExitCode: exitErr.ExitStatus(), Cause: s.waitErr}
	}

	return s.waitErr
}

// Close releases the remote channel. It is idempotent.
func (s *Shell) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})

	return err
}
