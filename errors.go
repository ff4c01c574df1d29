package ev3link

import (
	"errors"
	"fmt"
)

// ErrNotConnected indicates that an operation was attempted outside the connected state.
var ErrNotConnected = errors.New("device is not connected")

// ErrSessionUsed is returned by Connect on a session that has already been connected
// or disconnected. Construct a new session to retry.
var ErrSessionUsed = errors.New("session has already been used")

// ErrPromptCanceled is returned by a CredentialProvider when the user dismisses a prompt.
var ErrPromptCanceled = errors.New("prompt canceled")

// Kind sentinels for FileError. Match with errors.Is.
var (
	ErrNotFound   = errors.New("no such file")
	ErrPermission = errors.New("permission denied")
	ErrIO         = errors.New("i/o failure")
)

// ConnectionError is a transport level failure: DNS, TCP or the SSH handshake.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError means every configured authentication method was rejected,
// or the credential provider gave up.
type AuthenticationError struct {
	User string
	Err  error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %q: %v", e.User, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// RemoteSetupError is a failure after authentication succeeded: starting the SFTP
// subsystem or reading the home directory.
type RemoteSetupError struct {
	Step string
	Err  error
}

func (e *RemoteSetupError) Error() string {
	return fmt.Sprintf("remote setup failed (%s): %v", e.Step, e.Err)
}

func (e *RemoteSetupError) Unwrap() error {
	return e.Err
}

// GatewayError is a failure of the local shell gateway listener.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("shell gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// FileError is a remote filesystem failure. Kind is one of ErrNotFound,
// ErrPermission or ErrIO; errors.Is matches against it.
type FileError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error. Kinds never alias.
func (e *FileError) Is(target error) bool {
	return target == e.Kind //nolint:errorlint // kind sentinels are compared by identity
}

// ExitError represents a successful execution that resulted in a non-zero exit code.
type ExitError struct {
	Command  *Command
	ExitCode int
	Stderr   []byte
	Cause    error
}

func (e *ExitError) Error() string {
	if e.Command == nil {
		return fmt.Sprintf("command exited with code %d", e.ExitCode)
	}

	return fmt.Sprintf("command %q exited with code %d", e.Command.String(), e.ExitCode)
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}
