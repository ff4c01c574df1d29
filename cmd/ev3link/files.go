package main

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/device"
	"github.com/ev3dev/ev3link/fileutil"
	"github.com/spf13/cobra"
)

var (
	mkdirParents bool
	putMode      string
)

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a remote directory",
	Long: `List a directory on the device. Relative paths start at the home directory.

Examples:
  ev3link ls
  ev3link ls /usr/share/sounds`,
	Args: cobra.MaximumNArgs(1),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		dir := s.HomeDir()
		if len(args) == 1 {
			dir = fileutil.ResolveRemote(s.HomeDir(), args[0])
		}

		entries, err := s.List(ctx, dir)
		if err != nil {
			return err
		}

		for _, e := range entries {
			fmt.Println(formatEntry(e))
		}

		return nil
	}),
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show metadata for a remote path",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		e, err := s.Stat(ctx, fileutil.ResolveRemote(s.HomeDir(), args[0]))
		if err != nil {
			return err
		}

		fmt.Printf("Path:     %s\n", e.Path)
		fmt.Printf("Type:     %s\n", e.Type)
		fmt.Printf("Mode:     %s\n", e.Mode)
		fmt.Printf("Size:     %d\n", e.Size)
		fmt.Printf("Modified: %s\n", e.ModTime.Format("2006-01-02 15:04:05"))

		return nil
	}),
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		p := fileutil.ResolveRemote(s.HomeDir(), args[0])

		if mkdirParents {
			return s.MkdirAll(ctx, p)
		}

		return s.Mkdir(ctx, p)
	}),
}

var putCmd = &cobra.Command{
	Use:   "put <local> [remote]",
	Short: "Upload a file",
	Long: `Upload a local file to the device. The remote path defaults to the file
name in the home directory; missing parent directories are created.

Examples:
  ev3link put main.py
  ev3link put main.py projects/demo/main.py --mode 755`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		remote := filepath.Base(args[0])
		if len(args) == 2 {
			remote = args[1]
		}

		remote = fileutil.ResolveRemote(s.HomeDir(), remote)

		opts := []ev3link.PutOption{ev3link.WithProgress(printProgress)}

		if putMode != "" {
			mode, err := parseMode(putMode)
			if err != nil {
				return err
			}

			opts = append(opts, ev3link.WithPermissions(mode))
		}

		if err := s.MkdirAll(ctx, path.Dir(remote)); err != nil {
			return err
		}

		if err := s.Put(ctx, args[0], remote, opts...); err != nil {
			fmt.Fprintln(os.Stderr)

			return err
		}

		fmt.Fprintln(os.Stderr)
		fmt.Println(infoStyle.Render("uploaded " + remote))

		return nil
	}),
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a remote file",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		return s.Remove(ctx, fileutil.ResolveRemote(s.HomeDir(), args[0]))
	}),
}

var chmodCmd = &cobra.Command{
	Use:   "chmod <mode> <path>",
	Short: "Change permission bits of a remote path",
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		mode, err := parseMode(args[0])
		if err != nil {
			return err
		}

		return s.Chmod(ctx, fileutil.ResolveRemote(s.HomeDir(), args[1]), mode)
	}),
}

func init() {
	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parent directories")
	putCmd.Flags().StringVar(&putMode, "mode", "", "Octal permission bits for the uploaded file")
}

// parseMode reads an octal permission string such as 755 or 0644.
func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("invalid mode %q: want octal permission bits", s)
	}

	return os.FileMode(v), nil
}

func formatEntry(e ev3link.FileEntry) string {
	name := e.Name
	if e.Type == ev3link.FileTypeDirectory {
		name = dirStyle.Render(name + "/")
	}

	return fmt.Sprintf("%s %8d %s %s", e.Mode, e.Size, e.ModTime.Format("Jan _2 15:04"), name)
}

func printProgress(current, total int64) {
	if total <= 0 {
		fmt.Fprintf(os.Stderr, "\r%d bytes", current)

		return
	}

	fmt.Fprintf(os.Stderr, "\r%3d%% (%d/%d bytes)", current*100/total, current, total)
}
