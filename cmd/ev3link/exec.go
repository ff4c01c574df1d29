package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/device"
	"github.com/ev3dev/ev3link/relay"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	execRetries int
	execDir     string
)

var sysinfoCmd = &cobra.Command{
	Use:   "sysinfo",
	Short: "Print the ev3dev system report",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *device.Session, _ []string) error {
		info, err := s.SystemInfo(ctx)
		if err != nil {
			return err
		}

		fmt.Print(info)

		return nil
	}),
}

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Run a command on the device",
	Long: `Run a non-interactive command on the device. A single argument is split
like a shell command line.

Examples:
  ev3link exec uptime
  ev3link exec "ls -la /sys/class/tacho-motor"
  ev3link exec --retry 3 -- brickrun ./main.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		cmd, err := commandFromArgs(args)
		if err != nil {
			return err
		}

		cmd.Dir = execDir

		if execRetries > 1 {
			res, err := ev3link.NewExecutor(s).RunBuffered(ctx, cmd, ev3link.WithRetry(execRetries, dialDelay))
			if res != nil {
				_, _ = os.Stdout.Write(res.Stdout)
				_, _ = os.Stderr.Write(res.Stderr)
			}

			return err
		}

		return stream(ctx, s, cmd, os.Stdout, os.Stderr)
	}),
}

var runCmd = &cobra.Command{
	Use:   "run <local-program> [remote-path]",
	Short: "Upload a program and run it",
	Long: `Upload a program to the device, make it executable and run it with its
output shown locally. Interrupting ev3link stops the program.

Examples:
  ev3link run main.py
  ev3link run main.py projects/demo/main.py`,
	Args: cobra.RangeArgs(1, 2),
	RunE: withSession(func(ctx context.Context, s *device.Session, args []string) error {
		program := filepath.Base(args[0])
		if len(args) == 2 {
			program = args[1]
		}

		r := relay.NewRunner(s,
			relay.WithStdout(os.Stdout),
			relay.WithStderr(os.Stderr),
			relay.WithLogger(logrus.StandardLogger()),
		)

		if err := r.Handle(ctx, relay.Event{Event: relay.EventLaunch, Program: program, Source: args[0]}); err != nil {
			return err
		}

		return waitRunner(ctx, r)
	}),
}

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve debugger requests read from stdin",
	Long: `Read debugger events from standard input, one JSON object per line:

  {"event":"launch","program":"main.py","source":"/path/to/main.py"}
  {"event":"stop"}

Program output is written to standard output and standard error.`,
	Args: cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *device.Session, _ []string) error {
		r := relay.NewRunner(s,
			relay.WithStdout(os.Stdout),
			relay.WithStderr(os.Stderr),
			relay.WithLogger(logrus.StandardLogger()),
		)

		err := r.Serve(ctx, os.Stdin)

		_ = r.Handle(context.WithoutCancel(ctx), relay.Event{Event: relay.EventStop})
		r.Wait()

		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}),
}

func init() {
	execCmd.Flags().IntVar(&execRetries, "retry", 1, "Total attempts; output is buffered when greater than 1")
	execCmd.Flags().StringVar(&execDir, "dir", "", "Remote working directory")
}

// commandFromArgs treats a single argument as a shell-style command line.
func commandFromArgs(args []string) (*ev3link.Command, error) {
	if len(args) == 1 {
		return ev3link.ParseCommand(args[0])
	}

	return ev3link.NewCommand(args[0], args[1:]...), nil
}

// stream runs cmd with its output copied to stdout and stderr as it arrives.
func stream(ctx context.Context, runner ev3link.CommandRunner, cmd *ev3link.Command, stdout, stderr io.Writer) error {
	proc, err := ev3link.NewExecutor(runner).Start(ctx, cmd)
	if err != nil {
		return err
	}

	defer func() { _ = proc.Close() }()

	var g errgroup.Group

	g.Go(func() error {
		_, err := io.Copy(stdout, proc.Stdout())

		return err
	})
	g.Go(func() error {
		_, err := io.Copy(stderr, proc.Stderr())

		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to read output of %s: %w", strings.TrimSpace(cmd.String()), err)
	}

	return proc.Wait()
}

// waitRunner waits for the launched program, stopping it when ctx ends.
func waitRunner(ctx context.Context, r *relay.Runner) error {
	done := make(chan struct{})

	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		_ = r.Handle(context.WithoutCancel(ctx), relay.Event{Event: relay.EventStop})
		<-done

		return nil
	}
}
