package ev3link

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// DefaultPort is the SSH port used when an Endpoint does not advertise one.
const DefaultPort = 22

// DefaultUser is the login user of a stock ev3dev image.
const DefaultUser = "robot"

// Endpoint describes a discovered device: where to reach it and what it advertises.
type Endpoint struct {
	ID   string // Service identity, used to key add/remove events
	Name string // Human-readable name
	Host string // Hostname or IP address
	Port int    // SSH port (default 22)
	User string // Advertised login user
	Home string // Advertised home directory, empty when not advertised
}

// HomeDir returns the advertised home directory, or /home/<user> when none was advertised.
func (e Endpoint) HomeDir() string {
	if e.Home != "" {
		return e.Home
	}

	return path.Join("/home", e.User)
}

// Address returns the host:port pair to dial.
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}

	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) String() string {
	if e.Name != "" {
		return e.Name
	}

	return e.Host
}

// FileType classifies a remote file entry.
type FileType int

const (
	// FileTypeOther covers devices, sockets, pipes and anything else.
	FileTypeOther FileType = iota
	// FileTypeRegular is a plain file.
	FileTypeRegular
	// FileTypeDirectory is a directory.
	FileTypeDirectory
	// FileTypeSymlink is a symbolic link.
	FileTypeSymlink
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "file"
	case FileTypeDirectory:
		return "dir"
	case FileTypeSymlink:
		return "symlink"
	case FileTypeOther:
		return "other"
	default:
		return "other"
	}
}

// FileEntry is the metadata of one remote file as returned by Stat or List.
type FileEntry struct {
	Path    string
	Name    string
	Mode    os.FileMode
	Size    int64
	Type    FileType
	ModTime time.Time
}

// NewFileEntry builds a FileEntry for p from the given file info.
func NewFileEntry(p string, info os.FileInfo) FileEntry {
	mode := info.Mode()

	typ := FileTypeOther

	switch {
	case mode.IsRegular():
		typ = FileTypeRegular
	case mode.IsDir():
		typ = FileTypeDirectory
	case mode&os.ModeSymlink != 0:
		typ = FileTypeSymlink
	}

	return FileEntry{
		Path:    p,
		Name:    info.Name(),
		Mode:    mode,
		Size:    info.Size(),
		Type:    typ,
		ModTime: info.ModTime(),
	}
}

// Perm returns the POSIX permission bits.
func (f FileEntry) Perm() os.FileMode {
	return f.Mode.Perm()
}

// IsDir reports whether the entry is a directory.
func (f FileEntry) IsDir() bool {
	return f.Type == FileTypeDirectory
}

// Window is a terminal size in character cells.
type Window struct {
	Rows int
	Cols int
}

// DefaultWindow is used when a shell is opened without a size.
var DefaultWindow = Window{Rows: 24, Cols: 80}

// OrDefault returns w, or DefaultWindow when either dimension is unset.
func (w Window) OrDefault() Window {
	if w.Rows <= 0 || w.Cols <= 0 {
		return DefaultWindow
	}

	return w
}

// Command describes a remote program invocation.
type Command struct {
	Cmd  string   // Absolute path or name of the remote executable
	Args []string // Arguments to pass to the program
	Dir  string   // Working directory, empty for the login directory
}

// NewCommand creates a new Command with the given binary and arguments.
func NewCommand(binary string, args ...string) *Command {
	return &Command{
		Cmd:  binary,
		Args: args,
	}
}

// Validate checks that the command is well-formed.
func (c *Command) Validate() error {
	if c == nil {
		return errors.New("command cannot be nil")
	}

	if strings.TrimSpace(c.Cmd) == "" {
		return errors.New("command binary cannot be empty")
	}

	return nil
}

// String returns a POSIX shell-quoted representation of the command, suitable
// for an SSH exec request.
func (c *Command) String() string {
	var b strings.Builder

	b.WriteString(quoteArg(c.Cmd))

	for _, arg := range c.Args {
		b.WriteString(" ")
		b.WriteString(quoteArg(arg))
	}

	return b.String()
}

// ParseCommand splits a shell-style command line into a Command using shlex.
func ParseCommand(cmdStr string) (*Command, error) {
	parts, err := shlex.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	if len(parts) == 0 {
		return nil, errors.New("empty command")
	}

	return &Command{
		Cmd:  parts[0],
		Args: parts[1:],
	}, nil
}

// QuoteShell wraps s in single quotes for a POSIX shell.
func QuoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}

	if strings.ContainsAny(s, " \t\n'\"\\$`;&|<>()*?[]#~!{}") {
		return QuoteShell(s)
	}

	return s
}

// Result contains metadata about a completed command execution.
type Result struct {
	ExitCode int           // Process exit code (0 indicates success)
	Duration time.Duration // Time taken for execution
	Error    error         // Transport error, distinct from a non-zero exit code
}

// Success returns true if the command completed with exit code 0 and no transport error.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && r.Error == nil
}

// Failed returns true if the command failed (non-zero exit code or transport error).
func (r *Result) Failed() bool {
	return !r.Success()
}

// BufferedResult extends Result with captured stdout/stderr content.
// Returned by Executor.RunBuffered.
type BufferedResult struct {
	Result

	Stdout []byte
	Stderr []byte
}
