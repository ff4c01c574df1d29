package ev3link

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoint_HomeDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ep   Endpoint
		want string
	}{
		{name: "advertised home", ep: Endpoint{User: "robot", Home: "/srv/robot"}, want: "/srv/robot"},
		{name: "default from user", ep: Endpoint{User: "robot"}, want: "/home/robot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.ep.HomeDir())
		})
	}
}

func TestEndpoint_Address(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ev3dev.local:22", Endpoint{Host: "ev3dev.local"}.Address())
	assert.Equal(t, "10.0.0.5:2222", Endpoint{Host: "10.0.0.5", Port: 2222}.Address())
	assert.Equal(t, "[fe80::1]:22", Endpoint{Host: "fe80::1"}.Address())
}

func TestCommand_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  *Command
		want string
	}{
		{name: "no args", cmd: NewCommand("/usr/bin/ev3dev-sysinfo"), want: "/usr/bin/ev3dev-sysinfo"},
		{name: "plain args", cmd: NewCommand("ls", "-l", "/home/robot"), want: "ls -l /home/robot"},
		{name: "spaces are quoted", cmd: NewCommand("/home/robot/my prog"), want: "'/home/robot/my prog'"},
		{name: "single quote escaped", cmd: NewCommand("echo", "it's"), want: `echo 'it'\''s'`},
		{name: "empty arg", cmd: NewCommand("echo", ""), want: "echo ''"},
		{name: "shell metacharacters", cmd: NewCommand("echo", "$HOME;rm"), want: "echo '$HOME;rm'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cmd.String())
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cmd, err := ParseCommand(`/home/robot/run.py --speed "50 fast"`)
	require.NoError(t, err)
	assert.Equal(t, "/home/robot/run.py", cmd.Cmd)
	assert.Equal(t, []string{"--speed", "50 fast"}, cmd.Args)

	_, err = ParseCommand("   ")
	require.Error(t, err)

	_, err = ParseCommand(`echo "unterminated`)
	require.Error(t, err)
}

type fakeInfo struct {
	name string
	mode os.FileMode
	size int64
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return time.Unix(1700000000, 0) }
func (f fakeInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeInfo) Sys() any           { return nil }

func TestNewFileEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode os.FileMode
		want FileType
	}{
		{name: "regular", mode: 0o644, want: FileTypeRegular},
		{name: "directory", mode: os.ModeDir | 0o755, want: FileTypeDirectory},
		{name: "symlink", mode: os.ModeSymlink | 0o777, want: FileTypeSymlink},
		{name: "socket", mode: os.ModeSocket, want: FileTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewFileEntry("/home/robot/x", fakeInfo{name: "x", mode: tt.mode, size: 12})
			assert.Equal(t, tt.want, e.Type)
			assert.Equal(t, tt.mode.Perm(), e.Perm())
			assert.Equal(t, int64(12), e.Size)
			assert.Equal(t, "/home/robot/x", e.Path)
		})
	}
}

func TestFileError_KindsNeverAlias(t *testing.T) {
	t.Parallel()

	notFound := &FileError{Op: "stat", Path: "/nope", Kind: ErrNotFound, Err: fs.ErrNotExist}
	denied := &FileError{Op: "stat", Path: "/root", Kind: ErrPermission, Err: fs.ErrPermission}

	require.ErrorIs(t, notFound, ErrNotFound)
	require.NotErrorIs(t, notFound, ErrPermission)
	require.NotErrorIs(t, notFound, ErrIO)

	require.ErrorIs(t, denied, ErrPermission)
	require.NotErrorIs(t, denied, ErrNotFound)

	wrapped := fmt.Errorf("upload: %w", notFound)
	require.ErrorIs(t, wrapped, ErrNotFound)
	require.ErrorIs(t, wrapped, fs.ErrNotExist)
}

func TestLifecycleErrors_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")

	tests := []struct {
		name string
		err  error
	}{
		{name: "connection", err: &ConnectionError{Addr: "ev3dev:22", Err: cause}},
		{name: "authentication", err: &AuthenticationError{User: "robot", Err: cause}},
		{name: "remote setup", err: &RemoteSetupError{Step: "sftp", Err: cause}},
		{name: "gateway", err: &GatewayError{Op: "listen", Err: cause}},
		{name: "exit", err: &ExitError{ExitCode: 2, Cause: cause}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, tt.err, cause)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestWindow_OrDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultWindow, Window{}.OrDefault())
	assert.Equal(t, Window{Rows: 50, Cols: 132}, Window{Rows: 50, Cols: 132}.OrDefault())
}
