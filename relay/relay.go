// Package relay runs programs on a connected device on behalf of a debugger
// front end.
//
// The front end sends three events: launch (optionally upload, then run a
// program), terminate and stop (interrupt the running program). Events
// arrive as JSON, one object per line.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/fileutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Event names.
const (
	EventLaunch    = "launch"
	EventTerminate = "terminate"
	EventStop      = "stop"
)

// ProgramMode is applied to uploaded programs.
const ProgramMode os.FileMode = 0o755

// Event is one debugger request.
type Event struct {
	Event string `json:"event"`

	// Launch arguments. Program is the remote path, relative paths resolve
	// against the device home directory. Source is the local file uploaded
	// when Download is unset or true.
	Program  string `json:"program,omitempty"`
	Source   string `json:"source,omitempty"`
	Download *bool  `json:"download,omitempty"`
}

// ShouldDownload reports whether the program is uploaded before it runs.
func (e Event) ShouldDownload() bool {
	return e.Download == nil || *e.Download
}

// Option configures a Runner.
type Option func(*Runner)

// WithStdout sets where program output goes (default io.Discard).
func WithStdout(w io.Writer) Option {
	return func(r *Runner) {
		r.stdout = w
	}
}

// WithStderr sets where program errors go (default io.Discard).
func WithStderr(w io.Writer) Option {
	return func(r *Runner) {
		r.stderr = w
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// Runner deploys and runs one program at a time on dev.
type Runner struct {
	dev    ev3link.Device
	stdout io.Writer
	stderr io.Writer
	log    logrus.FieldLogger

	mu      sync.Mutex
	running ev3link.Process
	wg      sync.WaitGroup
}

// NewRunner returns a Runner for dev.
func NewRunner(dev ev3link.Device, opts ...Option) *Runner {
	r := &Runner{
		dev:    dev,
		stdout: io.Discard,
		stderr: io.Discard,
		log:    logrus.StandardLogger(),
	}

	for _, o := range opts {
		o(r)
	}

	return r
}

// Handle applies one event. Launch returns once the program has started;
// use Wait to block until it ends.
func (r *Runner) Handle(ctx context.Context, ev Event) error {
	switch ev.Event {
	case EventLaunch:
		return r.launch(ctx, ev)
	case EventTerminate, EventStop:
		r.stop()

		return nil
	default:
		return fmt.Errorf("unknown relay event %q", ev.Event)
	}
}

// Serve reads JSON events from in until EOF or ctx ends. Failed events are
// logged and skipped; malformed input ends Serve.
func (r *Runner) Serve(ctx context.Context, in io.Reader) error {
	dec := json.NewDecoder(in)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to decode relay event: %w", err)
		}

		if err := r.Handle(ctx, ev); err != nil {
			r.log.WithError(err).WithField("event", ev.Event).Error("relay event failed")
		}
	}
}

// Wait blocks until the running program, if any, has ended and its output
// has been copied.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) launch(ctx context.Context, ev Event) error {
	if ev.Program == "" {
		return errors.New("launch: program is required")
	}

	home := r.dev.HomeDir()
	program := fileutil.ResolveRemote(home, ev.Program)

	if ev.ShouldDownload() {
		if err := r.deploy(ctx, ev.Source, home, program); err != nil {
			return err
		}
	}

	r.stop()

	proc, err := r.dev.RunCommand(ctx, &ev3link.Command{Cmd: program, Dir: path.Dir(program)})
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", program, err)
	}

	r.mu.Lock()
	r.running = proc
	r.mu.Unlock()

	r.wg.Add(1)

	go r.stream(program, proc)

	r.log.WithField("program", program).Info("program started")

	return nil
}

func (r *Runner) deploy(ctx context.Context, source, home, program string) error {
	if source == "" {
		return errors.New("launch: source is required to download the program")
	}

	if err := fileutil.CheckRemotePathTraversal(home, program); err != nil {
		return err
	}

	if err := r.dev.MkdirAll(ctx, path.Dir(program)); err != nil {
		return fmt.Errorf("failed to create program directory: %w", err)
	}

	if err := r.dev.Put(ctx, source, program); err != nil {
		return fmt.Errorf("failed to upload program: %w", err)
	}

	if err := r.dev.Chmod(ctx, program, ProgramMode); err != nil {
		return fmt.Errorf("failed to make program executable: %w", err)
	}

	return nil
}

// stream copies the program output until it ends, then records the exit.
func (r *Runner) stream(program string, proc ev3link.Process) {
	defer r.wg.Done()

	var g errgroup.Group

	g.Go(func() error {
		_, err := io.Copy(r.stdout, proc.Stdout())

		return err
	})
	g.Go(func() error {
		_, err := io.Copy(r.stderr, proc.Stderr())

		return err
	})

	_ = g.Wait()

	err := proc.Wait()

	r.mu.Lock()
	if r.running == proc {
		r.running = nil
	}
	r.mu.Unlock()

	log := r.log.WithField("program", program)

	var exitErr *ev3link.ExitError

	switch {
	case err == nil:
		log.Info("program exited")
	case errors.As(err, &exitErr):
		log.WithField("code", exitErr.ExitCode).Warn("program exited with error")
	default:
		log.WithError(err).Warn("program ended")
	}

	_ = proc.Close()
}

// stop interrupts the running program and releases its channel.
func (r *Runner) stop() {
	r.mu.Lock()
	proc := r.running
	r.running = nil
	r.mu.Unlock()

	if proc == nil {
		return
	}

	if err := proc.Signal(os.Interrupt); err != nil {
		r.log.WithError(err).Debug("interrupt not delivered")
	}

	_ = proc.Close()
}
