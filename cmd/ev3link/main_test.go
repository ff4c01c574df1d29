package main

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    os.FileMode
		wantErr bool
	}{
		{in: "755", want: 0o755},
		{in: "0644", want: 0o644},
		{in: "9", wantErr: true},
		{in: "1777", wantErr: true},
		{in: "rwx", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := parseMode(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandFromArgs(t *testing.T) {
	t.Parallel()

	cmd, err := commandFromArgs([]string{"ls -la '/home/robot/my dir'"})
	require.NoError(t, err)
	assert.Equal(t, "ls", cmd.Cmd)
	assert.Equal(t, []string{"-la", "/home/robot/my dir"}, cmd.Args)

	cmd, err = commandFromArgs([]string{"brickrun", "./main.py"})
	require.NoError(t, err)
	assert.Equal(t, "brickrun", cmd.Cmd)
	assert.Equal(t, []string{"./main.py"}, cmd.Args)
}

func TestFormatEntry(t *testing.T) {
	t.Parallel()

	e := ev3link.FileEntry{
		Name:    "main.py",
		Mode:    0o755,
		Size:    42,
		Type:    ev3link.FileTypeRegular,
		ModTime: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
	}

	line := formatEntry(e)
	assert.True(t, strings.HasPrefix(line, "-rwxr-xr-x"))
	assert.Contains(t, line, " 42 ")
	assert.True(t, strings.HasSuffix(line, "main.py"))
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"devices", "connect", "shell", "sysinfo", "exec", "run", "relay", "ls", "stat", "mkdir", "put", "rm", "chmod"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}
