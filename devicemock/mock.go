package devicemock

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/ev3dev/ev3link"
	"github.com/stretchr/testify/mock"
)

// Device implements a mock ev3link.Device using testify/mock.
type Device struct {
	mock.Mock

	Home string
}

var _ ev3link.Device = (*Device)(nil)

// New creates a mock device whose HomeDir is home.
func New(home string) *Device {
	return &Device{Home: home}
}

// HomeDir returns the configured home directory. It is not recorded.
func (m *Device) HomeDir() string {
	return m.Home
}

// Stat mocks reading file metadata.
func (m *Device) Stat(ctx context.Context, path string) (ev3link.FileEntry, error) {
	args := m.Called(ctx, path)

	entry, _ := args.Get(0).(ev3link.FileEntry)

	return entry, args.Error(1)
}

// List mocks listing a directory.
func (m *Device) List(ctx context.Context, path string) ([]ev3link.FileEntry, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]ev3link.FileEntry), args.Error(1)
}

// Mkdir mocks creating one directory level.
func (m *Device) Mkdir(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

// MkdirAll mocks creating a directory tree.
func (m *Device) MkdirAll(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

// Put mocks uploading a file.
func (m *Device) Put(ctx context.Context, localPath, remotePath string, opts ...ev3link.PutOption) error {
	// Variadic capture fix for testify
	args := m.Called(ctx, localPath, remotePath, opts)

	return args.Error(0)
}

// Remove mocks deleting a file.
func (m *Device) Remove(ctx context.Context, path string) error {
	return m.Called(ctx, path).Error(0)
}

// Chmod mocks changing permission bits.
func (m *Device) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	return m.Called(ctx, path, mode).Error(0)
}

// RunCommand mocks starting a remote command.
func (m *Device) RunCommand(ctx context.Context, cmd *ev3link.Command) (ev3link.Process, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(ev3link.Process), args.Error(1)
}

// Process implements a mock ev3link.Process using testify/mock.
//
// Stdout, Stderr and Done are served from fields rather than expectations, so
// a process built with NewProcess behaves like a command that already ran.
type Process struct {
	mock.Mock

	Out  io.Reader
	Err  io.Reader
	done chan struct{}
}

var _ ev3link.Process = (*Process)(nil)

// NewProcess returns a finished process with the given output. Wait returns
// waitErr; Result and Close are pre-registered.
func NewProcess(stdout, stderr string, waitErr error) *Process {
	p := &Process{
		Out:  strings.NewReader(stdout),
		Err:  strings.NewReader(stderr),
		done: make(chan struct{}),
	}

	close(p.done)

	code := 0

	var exitErr *ev3link.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode
	}

	p.On("Wait").Return(waitErr).Maybe()
	p.On("Result").Return(&ev3link.Result{ExitCode: code, Error: waitErr}).Maybe()
	p.On("Close").Return(nil).Maybe()

	return p
}

// Stdout returns Out.
func (m *Process) Stdout() io.Reader {
	if m.Out == nil {
		return strings.NewReader("")
	}

	return m.Out
}

// Stderr returns Err.
func (m *Process) Stderr() io.Reader {
	if m.Err == nil {
		return strings.NewReader("")
	}

	return m.Err
}

// Done is closed for processes built with NewProcess. A zero Process never
// finishes.
func (m *Process) Done() <-chan struct{} {
	return m.done
}

// Wait mocks waiting for the process to complete.
func (m *Process) Wait() error {
	return m.Called().Error(0)
}

// Result mocks returning the process result.
func (m *Process) Result() *ev3link.Result {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(*ev3link.Result)
}

// Signal mocks sending a signal to the process.
func (m *Process) Signal(sig os.Signal) error {
	return m.Called(sig).Error(0)
}

// Close mocks closing the process.
func (m *Process) Close() error {
	return m.Called().Error(0)
}
