package device

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/fileutil"
	"github.com/pkg/sftp"
)

// SFTP status codes that map to file error kinds.
const (
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
)

// remoteFS is the subset of *sftp.Client the file operations use.
type remoteFS interface {
	Stat(p string) (os.FileInfo, error)
	Lstat(p string) (os.FileInfo, error)
	ReadDir(p string) ([]os.FileInfo, error)
	Mkdir(p string) error
	Remove(p string) error
	Chmod(p string, mode os.FileMode) error
	OpenWriter(p string) (io.WriteCloser, error)
}

type sftpFS struct {
	*sftp.Client
}

// OpenWriter opens p for writing, creating or truncating it.
func (s sftpFS) OpenWriter(p string) (io.WriteCloser, error) {
	f, err := s.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// files implements ev3link.FileSystem over a remoteFS.
type files struct {
	fs remoteFS
}

func (f files) Stat(_ context.Context, p string) (ev3link.FileEntry, error) {
	info, err := f.fs.Stat(p)
	if err != nil {
		return ev3link.FileEntry{}, fileError("stat", p, err)
	}

	return ev3link.NewFileEntry(p, info), nil
}

func (f files) List(_ context.Context, p string) ([]ev3link.FileEntry, error) {
	infos, err := f.fs.ReadDir(p)
	if err != nil {
		return nil, fileError("list", p, err)
	}

	entries := make([]ev3link.FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, ev3link.NewFileEntry(path.Join(p, info.Name()), info))
	}

	return entries, nil
}

func (f files) Mkdir(_ context.Context, p string) error {
	if err := f.fs.Mkdir(p); err != nil {
		return fileError("mkdir", p, err)
	}

	return nil
}

// MkdirAll walks the accumulated prefixes of p left to right. A prefix that
// does not exist is created; any other stat failure aborts. Directories
// created before a failure are left in place.
func (f files) MkdirAll(ctx context.Context, p string) error {
	for _, prefix := range fileutil.Prefixes(p) {
		_, err := f.Stat(ctx, prefix)
		if err == nil {
			continue
		}

		if !errors.Is(err, ev3link.ErrNotFound) {
			return err
		}

		if err := f.Mkdir(ctx, prefix); err != nil {
			return err
		}
	}

	return nil
}

// Put streams a local file to remotePath. The remote file is truncated first
// and not replaced atomically: a failed Put can leave partial content behind.
// Every failure is reported with the ErrIO kind.
func (f files) Put(ctx context.Context, localPath, remotePath string, opts ...ev3link.PutOption) error {
	cfg := ev3link.NewPutConfig(opts...)

	if err := ctx.Err(); err != nil {
		return ioError("put", remotePath, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return ioError("put", localPath, err)
	}

	defer func() { _ = src.Close() }()

	// Get size for progress
	var size int64
	if info, err := src.Stat(); err == nil {
		size = info.Size()
	}

	dst, err := f.fs.OpenWriter(remotePath)
	if err != nil {
		return ioError("put", remotePath, err)
	}

	var reader io.Reader = &fileutil.ContextReader{Ctx: ctx, Reader: src}
	if cfg.Progress != nil {
		reader = &fileutil.ProgressReader{Reader: reader, Total: size, Fn: cfg.Progress}
	}

	if _, err := io.Copy(dst, reader); err != nil {
		_ = dst.Close()

		return ioError("put", remotePath, err)
	}

	if err := dst.Close(); err != nil {
		return ioError("put", remotePath, err)
	}

	if cfg.Permissions != 0 {
		if err := f.fs.Chmod(remotePath, cfg.Permissions); err != nil {
			return ioError("put", remotePath, err)
		}
	}

	return nil
}

// Remove deletes a file or symbolic link. Directories are refused.
func (f files) Remove(_ context.Context, p string) error {
	info, err := f.fs.Lstat(p)
	if err != nil {
		return fileError("remove", p, err)
	}

	if info.IsDir() {
		return ioError("remove", p, errors.New("is a directory"))
	}

	if err := f.fs.Remove(p); err != nil {
		return fileError("remove", p, err)
	}

	return nil
}

func (f files) Chmod(_ context.Context, p string, mode os.FileMode) error {
	if err := f.fs.Chmod(p, mode.Perm()); err != nil {
		return fileError("chmod", p, err)
	}

	return nil
}

// fileError classifies err by the status the server reported.
func fileError(op, p string, err error) *ev3link.FileError {
	return &ev3link.FileError{Op: op, Path: p, Kind: classify(err), Err: err}
}

func ioError(op, p string, err error) *ev3link.FileError {
	return &ev3link.FileError{Op: op, Path: p, Kind: ev3link.ErrIO, Err: err}
}

func classify(err error) error {
	var status *sftp.StatusError

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ev3link.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ev3link.ErrPermission
	case errors.As(err, &status):
		switch status.Code {
		case sshFxNoSuchFile:
			return ev3link.ErrNotFound
		case sshFxPermissionDenied:
			return ev3link.ErrPermission
		}
	}

	return ev3link.ErrIO
}
