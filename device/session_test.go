package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/devicetest"
	"github.com/ev3dev/ev3link/gateway"
	"github.com/ev3dev/ev3link/internal/sshtest"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []ev3link.Event
}

func (r *recorder) record(ev ev3link.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

func (r *recorder) types() []ev3link.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ev3link.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}

	return out
}

func (r *recorder) last() ev3link.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.events[len(r.events)-1]
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

func endpointFor(addr string) ev3link.Endpoint {
	host, port, _ := net.SplitHostPort(addr)
	n, _ := strconv.Atoi(port)

	return ev3link.Endpoint{ID: "test", Name: "ev3dev", Host: host, Port: n, User: "robot"}
}

func newTestSession(t *testing.T, addr string, opts ...Option) (*Session, *recorder) {
	t.Helper()

	log, _ := test.NewNullLogger()

	base := []Option{WithInsecureSkipVerify(true), WithLogger(log), WithTimeout(waitFor)}

	s, err := New(NewConfig(endpointFor(addr)), append(base, opts...)...)
	require.NoError(t, err)

	rec := &recorder{}
	s.Subscribe(rec.record)

	t.Cleanup(func() { _ = s.Close() })

	return s, rec
}

func connectedSession(t *testing.T, srv *sshtest.Server, opts ...Option) (*Session, *recorder) {
	t.Helper()

	s, rec := newTestSession(t, srv.Addr(), opts...)
	require.NoError(t, s.Connect(t.Context()))

	return s, rec
}

func TestSession_ConnectAndClose(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	s, rec := connectedSession(t, srv)

	assert.Equal(t, ev3link.StateConnected, s.State())
	assert.Equal(t, []ev3link.EventType{ev3link.EventConnecting, ev3link.EventConnected}, rec.types())

	home, ok := s.HomeEntry()
	require.True(t, ok)
	assert.Equal(t, "/home/robot", home.Path)
	assert.True(t, home.IsDir())

	port, ok := s.GatewayPort()
	require.True(t, ok)
	assert.Positive(t, port)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.NoError(t, s.Disconnect())

	assert.Equal(t, ev3link.StateDisconnected, s.State())
	assert.Equal(t, []ev3link.EventType{
		ev3link.EventConnecting, ev3link.EventConnected, ev3link.EventDisconnected,
	}, rec.types())
	assert.NoError(t, rec.last().Err)

	_, ok = s.GatewayPort()
	assert.False(t, ok)

	_, err := s.Stat(t.Context(), "/home/robot")
	require.ErrorIs(t, err, ev3link.ErrNotConnected)

	history := s.Transitions()
	require.Len(t, history, 3)
	assert.Equal(t, ev3link.StateIdle, history[0].From)
	assert.Equal(t, ev3link.StateDisconnected, history[2].To)
}

func TestSession_WrongPassword(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	s, rec := newTestSession(t, srv.Addr(), WithPassword("wrong"))

	err := s.Connect(t.Context())

	var authErr *ev3link.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "robot", authErr.User)

	assert.Equal(t, ev3link.StateDisconnected, s.State())
	assert.Equal(t, []ev3link.EventType{ev3link.EventConnecting, ev3link.EventDisconnected}, rec.types())
	require.Error(t, rec.last().Err)

	_, ok := s.GatewayPort()
	assert.False(t, ok)

	require.ErrorIs(t, s.Connect(t.Context()), ev3link.ErrSessionUsed)
}

func TestSession_MissingHomeDirectory(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword, NoHome: true})
	s, _ := newTestSession(t, srv.Addr())

	err := s.Connect(t.Context())

	var setupErr *ev3link.RemoteSetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "home directory", setupErr.Step)
	require.ErrorIs(t, err, ev3link.ErrNotFound)
	assert.Equal(t, ev3link.StateDisconnected, s.State())
}

func TestSession_SFTPRefused(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword, NoSFTP: true})
	s, _ := newTestSession(t, srv.Addr())

	var setupErr *ev3link.RemoteSetupError
	require.ErrorAs(t, s.Connect(t.Context()), &setupErr)
	assert.Equal(t, "sftp", setupErr.Step)
}

func TestSession_KeyboardInteractivePromptsInOrder(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{
		Rounds: [][]sshtest.Question{
			{{Text: "Confirm user: ", Echo: true}},
			{{Text: "Password: "}, {Text: "Token: "}},
		},
		Answers: []string{"robot", "maker", "1234"},
	})

	answers := map[string]string{"Confirm user: ": "robot", "Password: ": "maker", "Token: ": "1234"}

	var (
		mu      sync.Mutex
		prompts []ev3link.Prompt
	)

	provider := ev3link.CredentialFunc(func(_ context.Context, p ev3link.Prompt) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		prompts = append(prompts, p)

		return answers[p.Text], nil
	})

	s, _ := newTestSession(t, srv.Addr(), WithPassword(""), WithCredentials(provider))
	require.NoError(t, s.Connect(t.Context()))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, prompts, 3)
	assert.Equal(t, "Confirm user: ", prompts[0].Text)
	assert.True(t, prompts[0].Echo)
	assert.Equal(t, "Password: ", prompts[1].Text)
	assert.False(t, prompts[1].Echo)
	assert.Equal(t, "Token: ", prompts[2].Text)
	assert.Equal(t, "robot", prompts[2].User)
}

func TestSession_PromptCanceled(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{
		Rounds:  [][]sshtest.Question{{{Text: "Password: "}}},
		Answers: []string{"maker"},
	})

	provider := ev3link.CredentialFunc(func(context.Context, ev3link.Prompt) (string, error) {
		return "", ev3link.ErrPromptCanceled
	})

	s, _ := newTestSession(t, srv.Addr(), WithPassword(""), WithCredentials(provider))

	err := s.Connect(t.Context())

	var authErr *ev3link.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.ErrorIs(t, err, ev3link.ErrPromptCanceled)
	assert.Equal(t, ev3link.StateDisconnected, s.State())
}

func TestSession_CloseWhileConnecting(t *testing.T) {
	t.Parallel()

	// Accepts TCP but never speaks SSH, so the handshake hangs.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)

	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	s, rec := newTestSession(t, ln.Addr().String())

	result := make(chan error, 1)

	go func() { result <- s.Connect(context.Background()) }()

	var serverSide net.Conn

	select {
	case serverSide = <-accepted:
	case <-time.After(waitFor):
		t.Fatal("connect never dialed")
	}

	defer func() { _ = serverSide.Close() }()

	require.NoError(t, s.Close())

	select {
	case err := <-result:
		var connErr *ev3link.ConnectionError
		require.ErrorAs(t, err, &connErr)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("connect did not return after close")
	}

	// The socket is released: the peer sees the connection end.
	_ = serverSide.SetReadDeadline(time.Now().Add(waitFor))
	_, err = io.Copy(io.Discard, serverSide)
	require.NoError(t, err)

	assert.Equal(t, ev3link.StateDisconnected, s.State())
	assert.Equal(t, []ev3link.EventType{ev3link.EventConnecting, ev3link.EventDisconnected}, rec.types())
	require.ErrorIs(t, rec.last().Err, context.Canceled)
}

func TestSession_CloseFromIdle(t *testing.T) {
	t.Parallel()

	s, rec := newTestSession(t, "127.0.0.1:1")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, []ev3link.EventType{ev3link.EventDisconnected}, rec.types())
	require.ErrorIs(t, s.Connect(t.Context()), ev3link.ErrSessionUsed)
}

func TestSession_OperationsRequireConnection(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t, "127.0.0.1:1")
	ctx := t.Context()

	_, err := s.Stat(ctx, "/")
	require.ErrorIs(t, err, ev3link.ErrNotConnected)

	_, err = s.List(ctx, "/")
	require.ErrorIs(t, err, ev3link.ErrNotConnected)

	require.ErrorIs(t, s.Mkdir(ctx, "/x"), ev3link.ErrNotConnected)
	require.ErrorIs(t, s.MkdirAll(ctx, "/x"), ev3link.ErrNotConnected)
	require.ErrorIs(t, s.Put(ctx, "a", "/b"), ev3link.ErrNotConnected)
	require.ErrorIs(t, s.Remove(ctx, "/x"), ev3link.ErrNotConnected)
	require.ErrorIs(t, s.Chmod(ctx, "/x", 0o755), ev3link.ErrNotConnected)

	_, err = s.RunCommand(ctx, ev3link.NewCommand("true"))
	require.ErrorIs(t, err, ev3link.ErrNotConnected)

	_, err = s.OpenShell(ctx, ev3link.DefaultWindow)
	require.ErrorIs(t, err, ev3link.ErrNotConnected)

	_, ok := s.HomeEntry()
	assert.False(t, ok)
}

func TestSession_ConnectionLost(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	s, rec := connectedSession(t, srv)

	srv.DropConnections()

	require.Eventually(t, func() bool {
		return s.State() == ev3link.StateDisconnected
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Close())

	assert.Equal(t, []ev3link.EventType{
		ev3link.EventConnecting, ev3link.EventConnected, ev3link.EventDisconnected,
	}, rec.types())

	_, ok := s.GatewayPort()
	assert.False(t, ok)
}

func TestSession_SubscriberMayCloseFromCallback(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	s, rec := newTestSession(t, srv.Addr())

	unsubscribe := s.Subscribe(func(ev ev3link.Event) {
		if ev.Type == ev3link.EventConnected {
			_ = s.Close()
		}
	})
	defer unsubscribe()

	require.NoError(t, s.Connect(t.Context()))

	assert.Equal(t, ev3link.StateDisconnected, s.State())
	assert.Equal(t, []ev3link.EventType{
		ev3link.EventConnecting, ev3link.EventConnected, ev3link.EventDisconnected,
	}, rec.types())
}

func TestSession_Unsubscribe(t *testing.T) {
	t.Parallel()

	s, rec := newTestSession(t, "127.0.0.1:1")

	other := &recorder{}
	unsubscribe := s.Subscribe(other.record)
	unsubscribe()

	require.NoError(t, s.Close())

	assert.Len(t, rec.types(), 1)
	assert.Empty(t, other.types())
}

func TestSession_SystemInfo(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{
		Password: DefaultPassword,
		Exec: map[string]sshtest.ExecFunc{
			ev3link.SysInfoCommand: func(stdout, _ io.Writer) uint32 {
				_, _ = io.WriteString(stdout, "OK")
				_, _ = io.WriteString(stdout, "\n")

				return 0
			},
		},
	})

	s, _ := connectedSession(t, srv, WithEnv(map[string]string{"PYTHONUNBUFFERED": "1"}))

	info, err := s.SystemInfo(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "OK\n", info)

	assert.Equal(t, []string{"export PYTHONUNBUFFERED='1'; ev3dev-sysinfo"}, srv.Commands())
}

func TestSession_RunCommandExitCode(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{
		Password: DefaultPassword,
		Exec: map[string]sshtest.ExecFunc{
			"run.py": func(stdout, stderr io.Writer) uint32 {
				_, _ = io.WriteString(stdout, "starting\n")
				_, _ = io.WriteString(stderr, "Traceback\n")

				return 3
			},
		},
	})

	s, _ := connectedSession(t, srv)

	cmd := &ev3link.Command{Cmd: "./run.py", Dir: s.HomeDir()}

	res, err := ev3link.NewExecutor(s).RunBuffered(t.Context(), cmd)

	var exitErr *ev3link.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, "Traceback\n", string(exitErr.Stderr))
	assert.Equal(t, "starting\n", string(res.Stdout))

	assert.Equal(t, []string{"cd '/home/robot' && ./run.py"}, srv.Commands())
}

func TestSession_GatewayShell(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})

	// The server refuses env requests; the shell opens anyway.
	s, _ := connectedSession(t, srv, WithEnv(map[string]string{"LANG": "C.UTF-8"}))

	port, ok := s.GatewayPort()
	require.True(t, ok)

	var stdout, stderr syncBuffer

	conn, err := gateway.Dial(t.Context(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		ev3link.Window{Rows: 30, Cols: 100}, &stdout, &stderr)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return stdout.String() == "hello\n" }, waitFor, 10*time.Millisecond)

	require.NoError(t, conn.Resize(ev3link.Window{Rows: 40, Cols: 120}))
	require.Eventually(t, func() bool {
		resizes := srv.Resizes()

		return len(resizes) == 1 && resizes[0].Rows == 40 && resizes[0].Cols == 120
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, []sshtest.PTY{{Term: "xterm", Rows: 30, Cols: 100}}, srv.PTYs())
	assert.Empty(t, srv.Env())

	_, err = conn.Write([]byte("exit\n"))
	require.NoError(t, err)

	status, err := conn.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Code)

	assert.Equal(t, ev3link.StateConnected, s.State())
}

func TestSession_CloseEndsGatewayShells(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	s, _ := connectedSession(t, srv)

	port, _ := s.GatewayPort()

	conn, err := gateway.Dial(t.Context(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		ev3link.DefaultWindow, io.Discard, io.Discard)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return srv.ActiveShells() == 1 }, waitFor, 10*time.Millisecond)

	require.NoError(t, s.Close())

	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("gateway connection still open after close")
	}

	require.Eventually(t, func() bool { return srv.ActiveShells() == 0 }, waitFor, 10*time.Millisecond)
}

// stallingProxy forwards TCP to upstream until frozen, then swallows traffic
// in both directions without closing anything, like a device that hung.
type stallingProxy struct {
	ln       net.Listener
	upstream string
	frozen   atomic.Bool

	clientGone chan struct{}
	goneOnce   sync.Once

	mu    sync.Mutex
	conns []net.Conn
}

func newStallingProxy(t *testing.T, upstream string) *stallingProxy {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &stallingProxy{ln: ln, upstream: upstream, clientGone: make(chan struct{})}

	go p.serve()

	t.Cleanup(func() {
		_ = ln.Close()

		p.mu.Lock()
		defer p.mu.Unlock()

		for _, c := range p.conns {
			_ = c.Close()
		}
	})

	return p
}

func (p *stallingProxy) Addr() string {
	return p.ln.Addr().String()
}

func (p *stallingProxy) freeze() {
	p.frozen.Store(true)
}

func (p *stallingProxy) serve() {
	for {
		client, err := p.ln.Accept()
		if err != nil {
			return
		}

		server, err := net.Dial("tcp", p.upstream)
		if err != nil {
			_ = client.Close()

			continue
		}

		p.mu.Lock()
		p.conns = append(p.conns, client, server)
		p.mu.Unlock()

		go p.forward(client, server, nil)
		go p.forward(server, client, func() { p.goneOnce.Do(func() { close(p.clientGone) }) })
	}
}

func (p *stallingProxy) forward(dst, src net.Conn, onEOF func()) {
	buf := make([]byte, 32*1024)

	for {
		n, err := src.Read(buf)
		if n > 0 && !p.frozen.Load() {
			_, _ = dst.Write(buf[:n])
		}

		if err != nil {
			if onEOF != nil {
				onEOF()
			}

			return
		}
	}
}

func TestSession_CloseWithStalledDevice(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	proxy := newStallingProxy(t, srv.Addr())

	s, rec := newTestSession(t, proxy.Addr(), WithTimeout(time.Second))
	require.NoError(t, s.Connect(t.Context()))

	port, _ := s.GatewayPort()

	conn, err := gateway.Dial(t.Context(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		ev3link.DefaultWindow, io.Discard, io.Discard)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return srv.ActiveShells() == 1 }, waitFor, 10*time.Millisecond)

	proxy.freeze()

	closed := make(chan error, 1)

	go func() { closed <- s.Close() }()

	select {
	case err := <-closed:
		require.ErrorIs(t, err, errTeardownTimeout)
	case <-time.After(waitFor):
		t.Fatal("close hung on a stalled device")
	}

	assert.Equal(t, ev3link.StateDisconnected, s.State())
	assert.Equal(t, []ev3link.EventType{
		ev3link.EventConnecting, ev3link.EventConnected, ev3link.EventDisconnected,
	}, rec.types())

	select {
	case <-proxy.clientGone:
	case <-time.After(waitFor):
		t.Fatal("transport still open after close")
	}

	select {
	case <-conn.Done():
	case <-time.After(waitFor):
		t.Fatal("gateway connection still open after close")
	}

	require.NoError(t, s.Close())
}

func TestSession_HandshakeTimeoutWithCredentials(t *testing.T) {
	t.Parallel()

	// Accepts TCP but never speaks SSH.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)

	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	defer func() {
		select {
		case c := <-accepted:
			_ = c.Close()
		default:
		}
	}()

	provider := ev3link.CredentialFunc(func(context.Context, ev3link.Prompt) (string, error) {
		return "maker", nil
	})

	s, rec := newTestSession(t, ln.Addr().String(),
		WithTimeout(300*time.Millisecond), WithCredentials(provider))

	result := make(chan error, 1)

	go func() { result <- s.Connect(context.Background()) }()

	select {
	case err := <-result:
		var connErr *ev3link.ConnectionError
		require.ErrorAs(t, err, &connErr)

		var authErr *ev3link.AuthenticationError
		assert.NotErrorAs(t, err, &authErr)
	case <-time.After(waitFor):
		t.Fatal("handshake with a silent server was not bounded")
	}

	assert.Equal(t, ev3link.StateDisconnected, s.State())
	assert.Equal(t, []ev3link.EventType{ev3link.EventConnecting, ev3link.EventDisconnected}, rec.types())
}

func TestSession_SlowAnswerOutlivesHandshakeTimeout(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{
		Rounds:  [][]sshtest.Question{{{Text: "Password: "}}},
		Answers: []string{"maker"},
	})

	provider := ev3link.CredentialFunc(func(ctx context.Context, _ ev3link.Prompt) (string, error) {
		select {
		case <-time.After(time.Second):
			return "maker", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	s, _ := newTestSession(t, srv.Addr(),
		WithTimeout(300*time.Millisecond), WithPassword(""), WithCredentials(provider))

	require.NoError(t, s.Connect(t.Context()))
	assert.Equal(t, ev3link.StateConnected, s.State())
}

func TestAuthenticator_Rejected(t *testing.T) {
	t.Parallel()

	noMethods := errors.New("ssh: handshake failed: ssh: unable to authenticate, " +
		"attempted methods [none], no supported methods remain")

	tests := []struct {
		name      string
		attempted bool
		err       error
		want      bool
	}{
		{name: "no error", attempted: true, err: nil, want: false},
		{name: "password refused", attempted: true, err: errors.New("ssh: handshake failed: denied"), want: true},
		{name: "transport dropped after password", attempted: true, err: io.EOF, want: false},
		{name: "closed after password", attempted: true, err: fmt.Errorf("ssh: %w", net.ErrClosed), want: false},
		{name: "no usable method", attempted: false, err: noMethods, want: true},
		{name: "key exchange failed", attempted: false, err: errors.New("ssh: handshake failed: no common algorithm"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			log, _ := test.NewNullLogger()
			a := newAuthenticator(t.Context(), "robot", nil, log)

			if tt.attempted {
				secret, err := a.password("maker")()
				require.NoError(t, err)
				assert.Equal(t, "maker", secret)
			}

			assert.Equal(t, tt.want, a.rejected(tt.err))
		})
	}
}

func TestSession_OpenShellDirect(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword, AcceptEnv: true})
	s, _ := connectedSession(t, srv, WithEnv(map[string]string{"LANG": "C.UTF-8"}))

	sh, err := s.OpenShell(t.Context(), ev3link.Window{})
	require.NoError(t, err)

	defer func() { _ = sh.Close() }()

	_, err = sh.Write([]byte("ping\n"))
	require.NoError(t, err)

	buf := make([]byte, len("ping\n"))
	_, err = io.ReadFull(sh.Stdout(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ping\n", string(buf))

	assert.Equal(t, []sshtest.PTY{{Term: "xterm", Rows: 24, Cols: 80}}, srv.PTYs())
	assert.Equal(t, map[string]string{"LANG": "C.UTF-8"}, srv.Env())

	_, err = sh.Write([]byte("exit\n"))
	require.NoError(t, err)
	require.NoError(t, sh.Wait())
}

func TestSession_FileContracts(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})
	s, _ := connectedSession(t, srv)

	devicetest.Verify(t, devicetest.Target{FS: s, Base: s.HomeDir()})
}

func TestDial_RetriesTransportFailures(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	log, _ := test.NewNullLogger()
	cfg := NewConfig(endpointFor(addr))

	_, err = Dial(t.Context(), cfg, 2, time.Millisecond, WithInsecureSkipVerify(true), WithLogger(log))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")

	var connErr *ev3link.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestDial_AuthFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})

	log, _ := test.NewNullLogger()
	cfg := NewConfig(endpointFor(srv.Addr()))

	_, err := Dial(t.Context(), cfg, 3, time.Millisecond,
		WithPassword("wrong"), WithInsecureSkipVerify(true), WithLogger(log))

	var authErr *ev3link.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.NotContains(t, err.Error(), "attempts")
}

func TestDial_Connects(t *testing.T) {
	t.Parallel()

	srv := sshtest.NewServer(t, sshtest.Options{Password: DefaultPassword})

	log, _ := test.NewNullLogger()

	s, err := Dial(t.Context(), NewConfig(endpointFor(srv.Addr())), 1, 0,
		WithInsecureSkipVerify(true), WithLogger(log))
	require.NoError(t, err)

	defer func() { _ = s.Close() }()

	assert.Equal(t, ev3link.StateConnected, s.State())
	require.ErrorIs(t, s.Connect(t.Context()), ev3link.ErrSessionUsed)
}
