// Package ev3link manages a connection to an ev3dev device over SSH.
//
// # Core Interfaces
//
// - FileSystem: SFTP-backed remote file operations (Stat, List, MkdirAll, Put...).
// - CommandRunner: non-interactive remote program execution.
// - Process: a running remote command (stdout/stderr streams, Wait, Signal, Close).
// - Device: both of the above plus the home directory, as served by a device.Session.
//
// # Streaming
//
// Processes are streaming-first: stdout and stderr are readers that must be
// drained by the caller. For "just give me the output" cases, use the Executor.
//
// # Errors
//
// Lifecycle failures are typed (ConnectionError, AuthenticationError,
// RemoteSetupError, GatewayError). File operations return *FileError whose kind
// is matched with errors.Is against ErrNotFound, ErrPermission or ErrIO.
package ev3link

import (
	"context"
	"io"
	"os"
)

// FileSystem is the set of remote file operations a connected device offers.
type FileSystem interface {
	// Stat returns metadata for a single path.
	Stat(ctx context.Context, path string) (FileEntry, error)

	// List returns the entries of a directory in server order.
	List(ctx context.Context, path string) ([]FileEntry, error)

	// Mkdir creates exactly one directory level. The parent must exist.
	Mkdir(ctx context.Context, path string) error

	// MkdirAll creates path and every missing parent. It is idempotent.
	MkdirAll(ctx context.Context, path string) error

	// Put copies a local file to the remote path, overwriting it if present.
	Put(ctx context.Context, localPath, remotePath string, opts ...PutOption) error

	// Remove deletes a single file or symbolic link.
	Remove(ctx context.Context, path string) error

	// Chmod sets POSIX permission bits.
	Chmod(ctx context.Context, path string, mode os.FileMode) error
}

// CommandRunner starts non-interactive remote programs.
type CommandRunner interface {
	// RunCommand starts cmd without a pseudo-terminal. The caller must drain
	// Stdout and Stderr and release the Process via Wait or Close.
	RunCommand(ctx context.Context, cmd *Command) (Process, error)
}

// Device is everything a connected device offers to a front end.
type Device interface {
	FileSystem
	CommandRunner

	// HomeDir is the remote working directory for uploaded programs.
	HomeDir() string
}

// Process represents a command that has been started but not yet completed.
type Process interface {
	io.Closer

	// Stdout is the remote standard output stream.
	Stdout() io.Reader

	// Stderr is the remote standard error stream.
	Stderr() io.Reader

	// Done is closed once the remote command has exited or the channel was closed.
	Done() <-chan struct{}

	// Wait blocks until the process exits.
	// Returns *ExitError if the exit code is non-zero.
	Wait() error

	// Result returns metadata (exit code, duration) (only valid after Wait).
	Result() *Result

	// Signal sends an OS signal to the process.
	// Only os.Interrupt and os.Kill are mapped.
	Signal(sig os.Signal) error
}

// Prompt is a single question issued by the device during interactive authentication.
type Prompt struct {
	User        string
	Instruction string
	Text        string
	Echo        bool // false for secret input such as passwords
}

// CredentialProvider answers authentication prompts on behalf of the user.
type CredentialProvider interface {
	// Prompt returns the answer to p, or ErrPromptCanceled.
	Prompt(ctx context.Context, p Prompt) (string, error)
}

// CredentialFunc adapts a function to CredentialProvider.
type CredentialFunc func(ctx context.Context, p Prompt) (string, error)

// Prompt calls f.
func (f CredentialFunc) Prompt(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}
