package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShell echoes stdin back on stdout.
type fakeShell struct {
	outR, errR *io.PipeReader
	outW, errW *io.PipeWriter

	mu       sync.Mutex
	windows  []ev3link.Window
	exitCode int

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeShell() *fakeShell {
	s := &fakeShell{closed: make(chan struct{})}
	s.outR, s.outW = io.Pipe()
	s.errR, s.errW = io.Pipe()

	return s
}

func (s *fakeShell) Write(p []byte) (int, error) {
	return s.outW.Write(p)
}

func (s *fakeShell) Stdout() io.Reader { return s.outR }
func (s *fakeShell) Stderr() io.Reader { return s.errR }

func (s *fakeShell) Resize(w ev3link.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windows = append(s.windows, w)

	return nil
}

func (s *fakeShell) Wait() error {
	<-s.closed

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exitCode != 0 {
		return &ev3link.ExitError{ExitCode: s.exitCode}
	}

	return nil
}

func (s *fakeShell) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.outW.Close()
		_ = s.errW.Close()
	})

	return nil
}

func (s *fakeShell) exit(code int) {
	s.mu.Lock()
	s.exitCode = code
	s.mu.Unlock()

	_ = s.Close()
}

func (s *fakeShell) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeShell) resizes() []ev3link.Window {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ev3link.Window(nil), s.windows...)
}

type fakeOpener struct {
	mu      sync.Mutex
	shells  []*fakeShell
	windows []ev3link.Window
	err     error
}

func (o *fakeOpener) OpenShell(_ context.Context, w ev3link.Window) (Shell, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.err != nil {
		return nil, o.err
	}

	s := newFakeShell()
	o.shells = append(o.shells, s)
	o.windows = append(o.windows, w)

	return s, nil
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.shells)
}

func (o *fakeOpener) window(i int) ev3link.Window {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.windows[i]
}

func (o *fakeOpener) shell(i int) *fakeShell {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.shells[i]
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()

	return log
}

func startGateway(t *testing.T, opener Opener) *Gateway {
	t.Helper()

	g, err := Listen(opener, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })

	return g
}

func TestGateway_BindsLoopbackEphemeralPort(t *testing.T) {
	t.Parallel()

	g := startGateway(t, &fakeOpener{})

	assert.Positive(t, g.Port())

	host, _, err := net.SplitHostPort(g.Addr())
	require.NoError(t, err)
	assert.True(t, net.ParseIP(host).IsLoopback())
}

func TestGateway_EchoAndResize(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	g := startGateway(t, opener)

	var out syncBuffer

	conn, err := Dial(context.Background(), g.Addr(), ev3link.Window{Rows: 30, Cols: 100}, &out, nil)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	require.Equal(t, 1, opener.count())
	assert.Equal(t, ev3link.Window{Rows: 30, Cols: 100}, opener.window(0))

	payload := []byte{0x00, 0xff, 'l', 's', '\n', 0x1b}
	_, err = conn.Write(payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return out.String() == string(payload)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Resize(ev3link.Window{Rows: 40, Cols: 120}))
	require.Eventually(t, func() bool {
		r := opener.shell(0).resizes()

		return len(r) == 1 && r[0] == ev3link.Window{Rows: 40, Cols: 120}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_RemoteExitClosesLocalConnection(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	g := startGateway(t, opener)

	conn, err := Dial(context.Background(), g.Addr(), ev3link.DefaultWindow, nil, nil)
	require.NoError(t, err)

	opener.shell(0).exit(3)

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close after remote exit")
	}

	status, err := conn.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, status.Code)

	require.Eventually(t, func() bool { return g.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_ConnectionsAreIndependent(t *testing.T) {
	t.Parallel()

	const n = 3

	opener := &fakeOpener{}
	g := startGateway(t, opener)

	conns := make([]*Conn, n)

	for i := range n {
		c, err := Dial(context.Background(), g.Addr(), ev3link.DefaultWindow, nil, nil)
		require.NoError(t, err)

		conns[i] = c
	}

	require.Equal(t, n, opener.count())
	require.Eventually(t, func() bool { return g.Active() == n }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conns[1].Close())

	require.Eventually(t, func() bool { return opener.shell(1).isClosed() }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, opener.shell(0).isClosed())
	assert.False(t, opener.shell(2).isClosed())
	require.Eventually(t, func() bool { return g.Active() == n-1 }, 2*time.Second, 10*time.Millisecond)

	// Surviving shells still work.
	var out syncBuffer

	c, err := Dial(context.Background(), g.Addr(), ev3link.DefaultWindow, &out, nil)
	require.NoError(t, err)

	_, err = c.Write([]byte("still here"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return out.String() == "still here" }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, g.Close())

	for i := range opener.count() {
		assert.True(t, opener.shell(i).isClosed(), "shell %d should be closed with the gateway", i)
	}

	for _, conn := range conns {
		select {
		case <-conn.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("client connection not closed by gateway shutdown")
		}
	}
}

func TestGateway_OpenFailureIsReported(t *testing.T) {
	t.Parallel()

	g := startGateway(t, &fakeOpener{err: errors.New("channel open refused")})

	_, err := Dial(context.Background(), g.Addr(), ev3link.DefaultWindow, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel open refused")
}

func TestGateway_GarbageClientDoesNotBreakGateway(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	g := startGateway(t, opener)

	raw, err := net.Dial("tcp", g.Addr())
	require.NoError(t, err)

	_, _ = raw.Write([]byte{byte(FrameStdin), 0x01, 'x'})
	_ = raw.Close()

	c, err := Dial(context.Background(), g.Addr(), ev3link.DefaultWindow, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, 1, opener.count())
}

func TestGateway_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	g, err := Listen(&fakeOpener{}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Zero(t, g.Active())
}
