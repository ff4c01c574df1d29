package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ev3dev/ev3link"
	"golang.org/x/term"
)

var _ ev3link.CredentialProvider = (*Terminal)(nil)

// Terminal answers authentication prompts on a text terminal. Secret prompts
// are read without echo when the input is a TTY.
type Terminal struct {
	in     io.Reader
	out    io.Writer
	reader *bufio.Reader

	readMu sync.Mutex // held by the goroutine reading a line

	mu              sync.Mutex
	lastInstruction string
	pending         chan line // read left running by a canceled prompt
}

type line struct {
	s   string
	err error
}

// NewTerminal reads answers from in and writes prompts to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:     in,
		out:    out,
		reader: bufio.NewReader(in),
	}
}

// Prompt implements ev3link.CredentialProvider. End of input is
// ev3link.ErrPromptCanceled.
//
// A canceled ctx returns at once. The read cannot be interrupted, so it stays
// pending and its line answers the next Prompt instead of being lost. A
// canceled secret prompt turns terminal echo back on before returning.
func (t *Terminal) Prompt(ctx context.Context, p ev3link.Prompt) (string, error) {
	t.mu.Lock()
	if p.Instruction != "" && p.Instruction != t.lastInstruction {
		_, _ = fmt.Fprintln(t.out, p.Instruction)
		t.lastInstruction = p.Instruction
	}

	res := t.pending
	t.pending = nil
	t.mu.Unlock()

	_, _ = io.WriteString(t.out, p.Text)

	restore := func() {}

	if res == nil {
		res = make(chan line, 1)
		restore = t.read(!p.Echo, res)
	}

	select {
	case <-ctx.Done():
		restore()

		t.mu.Lock()
		t.pending = res
		t.mu.Unlock()

		_, _ = fmt.Fprintln(t.out)

		return "", ctx.Err()
	case l := <-res:
		return l.s, l.err
	}
}

// read starts reading one line into res. The returned func restores the
// terminal mode the read may have changed.
func (t *Terminal) read(secret bool, res chan<- line) func() {
	restore := func() {}

	if fd, ok := t.tty(); ok && secret {
		if state, err := term.GetState(fd); err == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}

	go func() {
		t.readMu.Lock()
		defer t.readMu.Unlock()

		s, err := t.readLine(secret)
		res <- line{s: s, err: err}
	}()

	return restore
}

func (t *Terminal) tty() (int, bool) {
	f, ok := t.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}

	return int(f.Fd()), true
}

func (t *Terminal) readLine(secret bool) (string, error) {
	if fd, ok := t.tty(); ok && secret {
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(t.out)

		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}

		return string(b), nil
	}

	s, err := t.reader.ReadString('\n')
	if errors.Is(err, io.EOF) && s == "" {
		return "", ev3link.ErrPromptCanceled
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	return strings.TrimRight(s, "\r\n"), nil
}
