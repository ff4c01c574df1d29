package devicetest

import (
	"os"
	"path"
	"path/filepath"

	"github.com/ev3dev/ev3link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPermissions = 0o755

func writeLocal(t T, name, content string) string {
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func hasModes(_ T, target Target) (bool, string) {
	return target.Modes, "server does not report permission changes"
}

//nolint:funlen // Contract registration function; length comes from the number of cases.
func fileContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryFiles,
			Name:        "mkdirall-nested",
			Description: "MkdirAll creates every missing level of a nested path",
			Run: func(t T, target Target) {
				dir := path.Join(workDir(t, target), "a", "b", "c")

				require.NoError(t, target.FS.MkdirAll(t.Context(), dir))

				for _, p := range []string{path.Join(workDir(t, target), "a"), path.Join(workDir(t, target), "a", "b"), dir} {
					entry, err := target.FS.Stat(t.Context(), p)
					require.NoError(t, err)
					assert.True(t, entry.IsDir(), "%s should be a directory", p)
				}
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "mkdirall-idempotent",
			Description: "MkdirAll on an existing tree succeeds without changes",
			Run: func(t T, target Target) {
				dir := path.Join(workDir(t, target), "again")

				require.NoError(t, target.FS.MkdirAll(t.Context(), dir))
				require.NoError(t, target.FS.MkdirAll(t.Context(), dir))

				entries, err := target.FS.List(t.Context(), workDir(t, target))
				require.NoError(t, err)
				require.Len(t, entries, 1)
				assert.Equal(t, "again", entries[0].Name)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "mkdir-single-level",
			Description: "Mkdir creates one level below an existing parent",
			Run: func(t T, target Target) {
				dir := workDir(t, target)

				require.NoError(t, target.FS.Mkdir(t.Context(), dir))

				entry, err := target.FS.Stat(t.Context(), dir)
				require.NoError(t, err)
				assert.Equal(t, ev3link.FileTypeDirectory, entry.Type)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "put-then-stat",
			Description: "An uploaded file is visible with its size and name",
			Run: func(t T, target Target) {
				content := "hello from ev3link"
				src := writeLocal(t, "put.txt", content)
				dst := path.Join(workDir(t, target), "put.txt")

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.NoError(t, target.FS.Put(t.Context(), src, dst))

				entry, err := target.FS.Stat(t.Context(), dst)
				require.NoError(t, err)
				assert.Equal(t, ev3link.FileTypeRegular, entry.Type)
				assert.Equal(t, "put.txt", entry.Name)
				assert.Equal(t, int64(len(content)), entry.Size)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "put-overwrite-truncates",
			Description: "Uploading a smaller file over a larger one leaves no stale bytes",
			Run: func(t T, target Target) {
				large := writeLocal(t, "large.txt", "this content is clearly longer than the replacement")
				small := writeLocal(t, "small.txt", "short")
				dst := path.Join(workDir(t, target), "file.txt")

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.NoError(t, target.FS.Put(t.Context(), large, dst))
				require.NoError(t, target.FS.Put(t.Context(), small, dst))

				entry, err := target.FS.Stat(t.Context(), dst)
				require.NoError(t, err)
				assert.Equal(t, int64(len("short")), entry.Size)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "put-reports-progress",
			Description: "Progress ends at the full file size",
			Run: func(t T, target Target) {
				content := "progress content"
				src := writeLocal(t, "progress.txt", content)
				dst := path.Join(workDir(t, target), "progress.txt")

				var current, total int64

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.NoError(t, target.FS.Put(t.Context(), src, dst, ev3link.WithProgress(func(c, tot int64) {
					current, total = c, tot
				})))

				assert.Equal(t, int64(len(content)), current)
				assert.Equal(t, int64(len(content)), total)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "list-entries",
			Description: "List returns files and directories with joined paths",
			Run: func(t T, target Target) {
				dir := workDir(t, target)
				src := writeLocal(t, "one.txt", "1")

				require.NoError(t, target.FS.MkdirAll(t.Context(), path.Join(dir, "sub")))
				require.NoError(t, target.FS.Put(t.Context(), src, path.Join(dir, "one.txt")))

				entries, err := target.FS.List(t.Context(), dir)
				require.NoError(t, err)

				got := map[string]ev3link.FileType{}
				for _, e := range entries {
					got[e.Path] = e.Type
				}

				assert.Equal(t, map[string]ev3link.FileType{
					path.Join(dir, "sub"):     ev3link.FileTypeDirectory,
					path.Join(dir, "one.txt"): ev3link.FileTypeRegular,
				}, got)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "remove-file",
			Description: "A removed file no longer exists",
			Run: func(t T, target Target) {
				dst := path.Join(workDir(t, target), "gone.txt")

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.NoError(t, target.FS.Put(t.Context(), writeLocal(t, "gone.txt", "x"), dst))
				require.NoError(t, target.FS.Remove(t.Context(), dst))

				_, err := target.FS.Stat(t.Context(), dst)
				require.ErrorIs(t, err, ev3link.ErrNotFound)
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "chmod-file",
			Description: "Chmod changes the permission bits reported by Stat",
			Prereq:      hasModes,
			Run: func(t T, target Target) {
				dst := path.Join(workDir(t, target), "run.py")

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.NoError(t, target.FS.Put(t.Context(), writeLocal(t, "run.py", "print(1)"), dst))
				require.NoError(t, target.FS.Chmod(t.Context(), dst, testPermissions))

				entry, err := target.FS.Stat(t.Context(), dst)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(testPermissions), entry.Perm())
			},
		},
		{
			Category:    CategoryFiles,
			Name:        "put-with-permissions",
			Description: "WithPermissions is applied after the upload",
			Prereq:      hasModes,
			Run: func(t T, target Target) {
				dst := path.Join(workDir(t, target), "run.py")

				require.NoError(t, target.FS.MkdirAll(t.Context(), workDir(t, target)))
				require.NoError(t, target.FS.Put(t.Context(), writeLocal(t, "run.py", "print(1)"), dst,
					ev3link.WithPermissions(testPermissions)))

				entry, err := target.FS.Stat(t.Context(), dst)
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(testPermissions), entry.Perm())
			},
		},
	}
}
