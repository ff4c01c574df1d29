package ev3link

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// SysInfoCommand is the ev3dev tool that prints a system report.
const SysInfoCommand = "ev3dev-sysinfo"

// Executor handles command execution with retry logic and output buffering.
type Executor struct {
	runner CommandRunner
}

// NewExecutor creates a new Executor over the given runner.
func NewExecutor(runner CommandRunner) *Executor {
	return &Executor{runner: runner}
}

// Start initiates a command asynchronously.
// Caller is responsible for draining output and Process.Wait().
func (e *Executor) Start(ctx context.Context, cmd *Command) (Process, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return e.runner.RunCommand(ctx, cmd)
}

// Run executes a command, discarding its output, respecting context cancellation
// and configured retry policies.
func (e *Executor) Run(ctx context.Context, cmd *Command, opts ...ExecOption) (*Result, error) {
	res, err := e.RunBuffered(ctx, cmd, opts...)
	if res == nil {
		return nil, err
	}

	return &res.Result, err
}

// RunBuffered executes a command and captures both Stdout and Stderr.
// Output from failed attempts is discarded when retrying.
func (e *Executor) RunBuffered(ctx context.Context, cmd *Command, opts ...ExecOption) (*BufferedResult, error) {
	cfg := ExecConfig{RetryAttempts: 1}

	for _, o := range opts {
		o(&cfg)
	}

	var (
		lastRes *BufferedResult
		lastErr error
	)

	for i := range cfg.RetryAttempts {
		if i > 0 {
			if err := e.wait(ctx, cfg.RetryDelay); err != nil {
				return nil, err
			}
		}

		var stdoutBuf, stderrBuf bytes.Buffer

		res, err := e.collect(ctx, cmd, &stdoutBuf, &stderrBuf)

		lastRes = &BufferedResult{
			Stdout: stdoutBuf.Bytes(),
			Stderr: stderrBuf.Bytes(),
		}
		if res != nil {
			lastRes.Result = *res
		}

		lastErr = err
		if lastErr == nil {
			return lastRes, nil
		}
	}

	// Attach stderr to ExitError for context
	var exitErr *ExitError
	if errors.As(lastErr, &exitErr) {
		exitErr.Stderr = lastRes.Stderr

		return lastRes, exitErr
	}

	if cfg.RetryAttempts > 1 {
		return lastRes, fmt.Errorf("command execution failed after %d attempts: %w", cfg.RetryAttempts, lastErr)
	}

	return lastRes, lastErr
}

// RunLineStream streams stdout line-by-line to onLine. Stderr is discarded.
// Useful for live logging.
func (e *Executor) RunLineStream(ctx context.Context, cmd *Command, onLine func(string)) error {
	pr, pw := io.Pipe()

	scanErrCh := make(chan error, 1)

	go func() {
		defer func() { _ = pr.Close() }()

		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			onLine(scanner.Text())
		}

		scanErrCh <- scanner.Err()
	}()

	_, err := e.collect(ctx, cmd, pw, io.Discard)

	_ = pw.Close() // Close the write end to signal the scanner to stop

	scanErr := <-scanErrCh

	if err != nil {
		return err
	}

	if scanErr != nil {
		return fmt.Errorf("scan error: %w", scanErr)
	}

	return nil
}

// SystemInfo runs ev3dev-sysinfo and returns everything it wrote to stdout.
// A non-zero exit status is not an error: the report is returned as printed.
// A failure reading the stream fails the whole operation.
func (e *Executor) SystemInfo(ctx context.Context) (string, error) {
	var out strings.Builder

	_, err := e.collect(ctx, NewCommand(SysInfoCommand), &out, io.Discard)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("failed to read system info: %w", err)
		}
	}

	return out.String(), nil
}

// collect runs one attempt of cmd, copying both streams until they end, then waits
// for the exit status.
func (e *Executor) collect(ctx context.Context, cmd *Command, stdout, stderr io.Writer) (*Result, error) {
	proc, err := e.Start(ctx, cmd)
	if err != nil {
		return nil, err
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

	copyErr := g.Wait()

	if err := proc.Wait(); err != nil {
		return proc.Result(), err
	}

	if copyErr != nil {
		return proc.Result(), fmt.Errorf("failed to read command output: %w", copyErr)
	}

	return proc.Result(), nil
}

func (e *Executor) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
