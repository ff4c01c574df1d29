package device

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ev3dev/ev3link"
	"golang.org/x/crypto/ssh"
)

// buildEnvPrefix constructs the environment variable prefix for exec requests.
// OpenSSH defaults PermitUserEnvironment=no and usually rejects env requests,
// so variables are exported in the command line instead. Keys are sorted to
// keep the command deterministic.
func buildEnvPrefix(env map[string]string) string {
	var prefix strings.Builder

	for _, k := range sortedKeys(env) {
		if !validEnvName(k) {
			continue
		}

		fmt.Fprintf(&prefix, "export %s=%s; ", k, ev3link.QuoteShell(env[k]))
	}

	return prefix.String()
}

// buildDirPrefix constructs the directory change prefix for exec requests.
func buildDirPrefix(dir string) string {
	if dir == "" {
		return ""
	}

	return fmt.Sprintf("cd %s && ", ev3link.QuoteShell(dir))
}

// buildFullCommand combines environment, working directory and the command itself.
func buildFullCommand(env map[string]string, cmd *ev3link.Command) string {
	return buildEnvPrefix(env) + buildDirPrefix(cmd.Dir) + cmd.String()
}

// buildTerminalModes returns the terminal modes requested with every PTY.
func buildTerminalModes() ssh.TerminalModes {
	return ssh.TerminalModes{
		ssh.ECHO:          1,     // enable echoing
		ssh.TTY_OP_ISPEED: 14400, // input speed = 14.4kbaud
		ssh.TTY_OP_OSPEED: 14400, // output speed = 14.4kbaud
	}
}

func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// validEnvName accepts POSIX shell variable names only, so a key can never
// inject shell syntax.
func validEnvName(k string) bool {
	if k == "" {
		return false
	}

	for i, r := range k {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
