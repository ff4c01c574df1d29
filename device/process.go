package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ev3dev/ev3link"
	"golang.org/x/crypto/ssh"
)

var _ ev3link.Process = (*Process)(nil)

// Process is a remote command running on its own SSH session, without a PTY.
type Process struct {
	session *ssh.Session
	cmd     *ev3link.Command
	stdout  io.Reader
	stderr  io.Reader

	result *ev3link.Result
	mu     sync.RWMutex
	done   chan struct{}
	closed bool
}

func startProcess(ctx context.Context, client *ssh.Client, env map[string]string, cmd *ev3link.Command) (*Process, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh session: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()

		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		_ = session.Close()

		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}

	p := &Process{
		session: session,
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		done:    make(chan struct{}),
	}

	if err := p.start(ctx, buildFullCommand(env, cmd)); err != nil {
		_ = session.Close()

		return nil, err
	}

	return p, nil
}

// Stdout is the remote standard output stream.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Stderr is the remote standard error stream.
func (p *Process) Stderr() io.Reader {
	return p.stderr
}

// Done is closed once the remote command has exited or the session was closed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the command completes.
func (p *Process) Wait() error {
	<-p.done

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.result.Error != nil {
		// If it's a clean exit error, convert to ev3link.ExitError
		exitErr := &ssh.ExitError{}
		if errors.As(p.result.Error, &exitErr) {
			return &ev3link.ExitError{
				Command:  p.cmd,
				ExitCode: exitErr.ExitStatus(),
				Cause:    p.result.Error,
			}
		}

		return p.result.Error
	}

	return nil
}

// Result returns the command execution result.
func (p *Process) Result() *ev3link.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.result == nil {
		return &ev3link.Result{}
	}

	return &ev3link.Result{
		ExitCode: p.result.ExitCode,
		Duration: p.result.Duration,
		Error:    p.result.Error,
	}
}

// Signal sends a signal to the remote process.
func (p *Process) Signal(sig os.Signal) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.New("process closed")
	}

	return signalSession(p.session, sig)
}

// Close terminates the SSH session.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	err := p.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

func (p *Process) start(ctx context.Context, fullCommand string) error {
	startTime := time.Now()

	if err := p.session.Start(fullCommand); err != nil {
		return fmt.Errorf("failed to start %q: %w", p.cmd.String(), err)
	}

	go func() {
		defer close(p.done)

		// Monitor context cancellation
		doneCheck := make(chan struct{})

		go func() {
			select {
			case <-ctx.Done():
				// Context canceled: kill the session
				_ = p.Signal(os.Kill)
				_ = p.Close()
			case <-doneCheck:
				// Process finished naturally, stop monitor
			}
		}()

		err := p.session.Wait()

		close(doneCheck) // Signal monitor to exit

		var exitCode int

		if err != nil {
			exitErr := &ssh.ExitError{}
			if errors.As(err, &exitErr) {
				exitCode = exitErr.ExitStatus()
			} else {
				exitCode = 255 // Unknown/connection error
			}
		}

		p.mu.Lock()
		p.result = &ev3link.Result{
			ExitCode: exitCode,
			Duration: time.Since(startTime),
			Error:    err,
		}
		p.mu.Unlock()
	}()

	return nil
}

func signalSession(session *ssh.Session, sig os.Signal) error {
	// Map OS signals to SSH signals
	var sshSig ssh.Signal

	switch sig {
	case os.Interrupt:
		sshSig = ssh.SIGINT
	case os.Kill:
		sshSig = ssh.SIGKILL
	default:
		return fmt.Errorf("signal %v not supported over ssh", sig)
	}

	return session.Signal(sshSig)
}
