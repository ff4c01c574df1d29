package devicetest

import (
	"context"
	"path"
	"path/filepath"

	"github.com/ev3dev/ev3link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:funlen // Contract registration function; length comes from the number of cases.
func errorContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryErrors,
			Name:        "stat-missing-not-found",
			Description: "Stat of a missing path is a FileError of kind ErrNotFound",
			Run: func(t T, target Target) {
				missing := path.Join(workDir(t, target), "missing")

				_, err := target.FS.Stat(t.Context(), missing)
				require.ErrorIs(t, err, ev3link.ErrNotFound)
				assert.NotErrorIs(t, err, ev3link.ErrPermission)

				var fileErr *ev3link.FileError
				require.ErrorAs(t, err, &fileErr)
				assert.Equal(t, missing, fileErr.Path)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "list-missing-not-found",
			Description: "List of a missing directory is ErrNotFound",
			Run: func(t T, target Target) {
				_, err := target.FS.List(t.Context(), path.Join(workDir(t, target), "missing"))
				require.ErrorIs(t, err, ev3link.ErrNotFound)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "mkdir-missing-parent-fails",
			Description: "Mkdir does not create parents",
			Run: func(t T, target Target) {
				dir := path.Join(workDir(t, target), "parent", "child")

				require.Error(t, target.FS.Mkdir(t.Context(), dir))

				_, err := target.FS.Stat(t.Context(), dir)
				require.ErrorIs(t, err, ev3link.ErrNotFound)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "remove-missing-not-found",
			Description: "Removing a missing file is ErrNotFound",
			Run: func(t T, target Target) {
				err := target.FS.Remove(t.Context(), path.Join(workDir(t, target), "missing"))
				require.ErrorIs(t, err, ev3link.ErrNotFound)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "remove-directory-refused",
			Description: "Remove refuses directories and leaves them in place",
			Run: func(t T, target Target) {
				dir := workDir(t, target)

				require.NoError(t, target.FS.MkdirAll(t.Context(), dir))
				require.ErrorIs(t, target.FS.Remove(t.Context(), dir), ev3link.ErrIO)

				entry, err := target.FS.Stat(t.Context(), dir)
				require.NoError(t, err)
				assert.True(t, entry.IsDir())
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "put-missing-source",
			Description: "Uploading a missing local file is ErrIO and creates nothing",
			Run: func(t T, target Target) {
				dst := path.Join(workDir(t, target), "never.txt")
				src := filepath.Join(t.TempDir(), "does-not-exist")

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.ErrorIs(t, target.FS.Put(t.Context(), src, dst), ev3link.ErrIO)

				_, err := target.FS.Stat(t.Context(), dst)
				require.ErrorIs(t, err, ev3link.ErrNotFound)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "put-canceled",
			Description: "Put with a canceled context is ErrIO",
			Run: func(t T, target Target) {
				ctx, cancel := context.WithCancel(t.Context())
				cancel()

				src := writeLocal(t, "canceled.txt", "x")

				err := target.FS.Put(ctx, src, path.Join(target.Base, "canceled.txt"))
				require.ErrorIs(t, err, ev3link.ErrIO)
				require.ErrorIs(t, err, context.Canceled)
			},
		},
	}
}
