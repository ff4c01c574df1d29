// Package fileutil provides shared file-transfer utilities for device sessions.
//
// It holds the pieces of the SFTP code paths that do not depend on a live
// connection: progress reporting, context cancellation checks and remote
// path handling.
package fileutil

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ev3dev/ev3link"
)

// ProgressReader wraps an io.Reader to report progress via an ev3link.ProgressFunc.
// Total should be set to the known total size for percentage-based progress reporting,
// or 0 if unknown.
type ProgressReader struct {
	io.Reader

	Total   int64
	Current int64
	Fn      ev3link.ProgressFunc
}

// Read reads from the underlying reader and reports progress.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Current += int64(n)
		if pr.Fn != nil {
			pr.Fn(pr.Current, pr.Total)
		}
	}

	return n, err
}

// ContextReader wraps an io.Reader to check for context cancellation
// before each Read call. This allows long-running io.Copy operations
// to be interrupted by context cancellation.
type ContextReader struct {
	Ctx    context.Context //nolint:containedctx
	Reader io.Reader
}

// Read checks for context cancellation before delegating to the underlying reader.
func (cr *ContextReader) Read(p []byte) (int, error) {
	if cr.Ctx.Err() != nil {
		return 0, cr.Ctx.Err()
	}

	return cr.Reader.Read(p)
}

// Prefixes splits a slash-separated remote path into its accumulated prefixes,
// left to right. Empty segments are skipped and a leading slash is kept, so
// "/home/robot/x" yields "/home", "/home/robot", "/home/robot/x" and "a/b"
// yields "a", "a/b".
func Prefixes(p string) []string {
	var (
		prefixes []string
		acc      string
	)

	if strings.HasPrefix(p, "/") {
		acc = "/"
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue
		}

		acc = path.Join(acc, seg)
		prefixes = append(prefixes, acc)
	}

	return prefixes
}

// ResolveRemote makes p absolute against base when it is relative.
func ResolveRemote(base, p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}

	return path.Join(base, p)
}

// CheckRemotePathTraversal validates that target is a child of root using forward-slash
// path conventions (path.Clean, "/"). Use this for remote Unix-like paths where
// filepath operations would use the wrong separator on Windows hosts.
func CheckRemotePathTraversal(root, target string) error {
	cleanRoot := path.Clean(root)
	cleanTarget := path.Clean(target)

	if cleanRoot == cleanTarget {
		return nil
	}

	if cleanRoot == "/" {
		return nil
	}

	if !strings.HasPrefix(cleanTarget, cleanRoot+"/") {
		return fmt.Errorf("illegal remote file path: %s is not within %s", target, root)
	}

	return nil
}
