package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/gateway"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const maxTransitions = 50

// errTeardownTimeout is returned by Close when the device stopped answering
// and the transport had to be dropped.
var errTeardownTimeout = errors.New("device did not answer during teardown; connection dropped")

var _ ev3link.Device = (*Session)(nil)

// Session owns one SSH connection to one device.
//
// State moves Idle -> Connecting -> Connected -> Disconnected, or straight to
// Disconnected when an attempt fails or is aborted. Disconnected is terminal;
// build a new Session to retry.
type Session struct {
	cfg Config
	log logrus.FieldLogger

	mu      sync.Mutex
	state   ev3link.State
	attempt *attempt // non-nil only while Connecting
	link    *link    // non-nil only while Connected

	subs       []subscriber
	nextSub    int
	pending    []ev3link.Event
	delivering bool
	history    []ev3link.Event
}

// attempt is the state of an in-flight Connect.
type attempt struct {
	cancel context.CancelFunc
	conn   net.Conn // raw transport, once dialed
}

// link is everything that exists only while Connected.
type link struct {
	conn    net.Conn
	client  *ssh.Client
	sftp    *sftp.Client
	files   files
	home    ev3link.FileEntry
	gateway *gateway.Gateway
}

type subscriber struct {
	id int
	fn func(ev3link.Event)
}

// New validates the configuration and returns an idle Session.
func New(cfg Config, opts ...Option) (*Session, error) {
	for _, o := range opts {
		o(&cfg)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		cfg:   cfg,
		log:   cfg.Logger.WithField("device", cfg.Endpoint.String()),
		state: ev3link.StateIdle,
	}, nil
}

// Endpoint is the device this session targets.
func (s *Session) Endpoint() ev3link.Endpoint {
	return s.cfg.Endpoint
}

// Name is the human-readable device name.
func (s *Session) Name() string {
	return s.cfg.Endpoint.String()
}

// HomeDir is the remote home directory of the login user.
func (s *Session) HomeDir() string {
	return s.cfg.Endpoint.HomeDir()
}

// State reports the current lifecycle state.
func (s *Session) State() ev3link.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// HomeEntry returns the home directory metadata read during Connect.
func (s *Session) HomeEntry() (ev3link.FileEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil {
		return ev3link.FileEntry{}, false
	}

	return s.link.home, true
}

// GatewayPort is the loopback port of the shell gateway. It is only defined
// while Connected.
func (s *Session) GatewayPort() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.link == nil {
		return 0, false
	}

	return s.link.gateway.Port(), true
}

// Subscribe registers fn for lifecycle events. Events are delivered outside
// the session lock, in transition order, once each. The returned function
// removes the subscription.
func (s *Session) Subscribe(fn func(ev3link.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

// Transitions returns the recent lifecycle history, oldest first.
func (s *Session) Transitions() []ev3link.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.history)
}

// Connect authenticates, starts SFTP, reads the home directory and starts the
// shell gateway. Any failure tears everything down and leaves the session
// Disconnected. Closing the session while Connect runs aborts it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()

	if s.state != ev3link.StateIdle {
		s.mu.Unlock()

		return ev3link.ErrSessionUsed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	att := &attempt{cancel: cancel}
	s.attempt = att
	s.transitionLocked(ev3link.StateConnecting, ev3link.EventConnecting, nil)
	s.mu.Unlock()
	s.flush()

	s.log.WithField("addr", s.cfg.Endpoint.Address()).Debug("connecting")

	l, err := s.establish(ctx, att)

	s.mu.Lock()

	if s.attempt != att {
		// Closed while connecting; Close already fired the event.
		s.mu.Unlock()

		if l != nil {
			_ = l.close(s.cfg.Timeout)
		}

		return &ev3link.ConnectionError{
			Addr: s.cfg.Endpoint.Address(),
			Err:  fmt.Errorf("connection attempt aborted: %w", context.Canceled),
		}
	}

	s.attempt = nil

	if err != nil {
		s.transitionLocked(ev3link.StateDisconnected, ev3link.EventDisconnected, err)
		s.mu.Unlock()
		s.flush()
		s.log.WithError(err).Debug("connection failed")

		return err
	}

	s.link = l
	s.transitionLocked(ev3link.StateConnected, ev3link.EventConnected, nil)
	s.mu.Unlock()
	s.flush()
	s.log.WithField("gateway", l.gateway.Port()).Info("connected")

	go s.watch(l)

	return nil
}

// watch moves the session to Disconnected when the device drops the connection.
func (s *Session) watch(l *link) {
	err := l.client.Wait()

	s.mu.Lock()

	if s.link != l {
		// Close got here first.
		s.mu.Unlock()

		return
	}

	s.link = nil
	s.transitionLocked(ev3link.StateDisconnected, ev3link.EventDisconnected, err)
	s.mu.Unlock()
	s.flush()

	_ = l.close(s.cfg.Timeout)
	s.log.WithError(err).Warn("connection lost")
}

// Close tears the session down from any state. Teardown order is gateway
// (with its open shells), then SFTP, then the SSH connection. The disconnected
// event fires before teardown starts. If the device stops answering, the
// graceful steps get the configured timeout before the transport is dropped.
// Close is idempotent and fires the disconnected event at most once.
func (s *Session) Close() error {
	s.mu.Lock()

	switch s.state {
	case ev3link.StateDisconnected:
		s.mu.Unlock()

		return nil

	case ev3link.StateConnecting:
		att := s.attempt
		s.attempt = nil

		att.cancel()

		if att.conn != nil {
			_ = att.conn.Close()
		}

		s.transitionLocked(ev3link.StateDisconnected, ev3link.EventDisconnected, context.Canceled)
		s.mu.Unlock()
		s.flush()

		return nil

	case ev3link.StateConnected:
		l := s.link
		s.link = nil
		s.transitionLocked(ev3link.StateDisconnected, ev3link.EventDisconnected, nil)
		s.mu.Unlock()
		s.flush()

		err := l.close(s.cfg.Timeout)
		s.log.Info("disconnected")

		return err

	default:
		s.transitionLocked(ev3link.StateDisconnected, ev3link.EventDisconnected, nil)
		s.mu.Unlock()
		s.flush()

		return nil
	}
}

// Disconnect is an alias of Close.
func (s *Session) Disconnect() error {
	return s.Close()
}

// establish runs the whole connection sequence. On failure it releases
// everything it created.
func (s *Session) establish(ctx context.Context, att *attempt) (*link, error) {
	addr := s.cfg.Endpoint.Address()

	dialer := net.Dialer{Timeout: s.cfg.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ev3link.ConnectionError{Addr: addr, Err: err}
	}

	if !s.bindConn(att, conn) {
		_ = conn.Close()

		return nil, &ev3link.ConnectionError{Addr: addr, Err: context.Canceled}
	}

	// Unblocks the handshake and SFTP negotiation when the attempt is canceled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	auth := newAuthenticator(ctx, s.cfg.Endpoint.User, s.cfg.Credentials, s.log)
	auth.bound(conn, s.cfg.Timeout)

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, s.cfg.clientConfig(auth))
	if err != nil {
		_ = conn.Close()

		return nil, s.handshakeError(ctx, addr, auth, err)
	}

	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(c, chans, reqs)
	l := &link{conn: conn, client: client}

	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = l.close(s.cfg.Timeout)

		return nil, &ev3link.RemoteSetupError{Step: "sftp", Err: orCanceled(ctx, err)}
	}

	l.sftp = sc
	l.files = files{fs: sftpFS{Client: sc}}

	home, err := l.files.Stat(ctx, s.HomeDir())
	if err != nil {
		_ = l.close(s.cfg.Timeout)

		return nil, &ev3link.RemoteSetupError{Step: "home directory", Err: orCanceled(ctx, err)}
	}

	l.home = home

	gw, err := gateway.Listen(s.opener(client), s.log)
	if err != nil {
		_ = l.close(s.cfg.Timeout)

		return nil, err
	}

	l.gateway = gw

	if !stop() {
		// The attempt was canceled and the transport is already closing.
		_ = l.close(s.cfg.Timeout)

		return nil, &ev3link.ConnectionError{Addr: addr, Err: context.Canceled}
	}

	return l, nil
}

func (s *Session) bindConn(att *attempt, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.attempt != att {
		return false
	}

	att.conn = conn

	return true
}

func (s *Session) handshakeError(ctx context.Context, addr string, auth *authenticator, err error) error {
	if ctx.Err() != nil {
		return &ev3link.ConnectionError{Addr: addr, Err: ctx.Err()}
	}

	if perr := auth.providerErr(); perr != nil {
		return &ev3link.AuthenticationError{User: s.cfg.Endpoint.User, Err: perr}
	}

	if auth.rejected(err) {
		return &ev3link.AuthenticationError{User: s.cfg.Endpoint.User, Err: err}
	}

	return &ev3link.ConnectionError{Addr: addr, Err: err}
}

func orCanceled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}

	return err
}

// opener lets the gateway allocate shells on client.
func (s *Session) opener(client *ssh.Client) gateway.Opener {
	return gateway.OpenerFunc(func(ctx context.Context, w ev3link.Window) (gateway.Shell, error) {
		sh, err := openShell(ctx, client, s.cfg, w, s.log)
		if err != nil {
			return nil, err
		}

		return sh, nil
	})
}

// close releases the link, dropping the transport if the graceful steps are
// still stuck after grace. Blocked steps then unwind on the dead transport.
func (l *link) close(grace time.Duration) error {
	done := make(chan error, 1)

	go func() { done <- l.release() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
	}

	if l.conn != nil {
		_ = l.conn.Close()
	}

	timer.Reset(grace)

	select {
	case <-done:
	case <-timer.C:
	}

	return errTeardownTimeout
}

// release closes gateway, SFTP and SSH in that order.
func (l *link) release() error {
	var errs []error

	if l.gateway != nil {
		errs = append(errs, l.gateway.Close())
	}

	if l.sftp != nil {
		errs = append(errs, l.sftp.Close())
	}

	if l.client != nil {
		if err := l.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Session) transitionLocked(to ev3link.State, typ ev3link.EventType, cause error) {
	ev := ev3link.Event{
		Type: typ,
		From: s.state,
		To:   to,
		Err:  cause,
		Time: time.Now(),
	}

	s.state = to
	s.pending = append(s.pending, ev)

	s.history = append(s.history, ev)
	if len(s.history) > maxTransitions {
		s.history = s.history[len(s.history)-maxTransitions:]
	}
}

// flush delivers queued events outside the lock. Only one goroutine delivers
// at a time, so events reach subscribers in transition order even when a
// subscriber calls back into the session.
func (s *Session) flush() {
	s.mu.Lock()

	if s.delivering {
		s.mu.Unlock()

		return
	}

	s.delivering = true

	for len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		subs := slices.Clone(s.subs)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(ev)
		}

		s.mu.Lock()
	}

	s.delivering = false
	s.mu.Unlock()
}

// connected returns the link, or ErrNotConnected.
func (s *Session) connected() (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != ev3link.StateConnected || s.link == nil {
		return nil, ev3link.ErrNotConnected
	}

	return s.link, nil
}

// Stat returns metadata for path.
func (s *Session) Stat(ctx context.Context, path string) (ev3link.FileEntry, error) {
	l, err := s.connected()
	if err != nil {
		return ev3link.FileEntry{}, err
	}

	return l.files.Stat(ctx, path)
}

// List returns the entries of a directory in server order.
func (s *Session) List(ctx context.Context, path string) ([]ev3link.FileEntry, error) {
	l, err := s.connected()
	if err != nil {
		return nil, err
	}

	return l.files.List(ctx, path)
}

// Mkdir creates one directory level.
func (s *Session) Mkdir(ctx context.Context, path string) error {
	l, err := s.connected()
	if err != nil {
		return err
	}

	return l.files.Mkdir(ctx, path)
}

// MkdirAll creates path and any missing parents.
func (s *Session) MkdirAll(ctx context.Context, path string) error {
	l, err := s.connected()
	if err != nil {
		return err
	}

	return l.files.MkdirAll(ctx, path)
}

// Put uploads a local file.
func (s *Session) Put(ctx context.Context, localPath, remotePath string, opts ...ev3link.PutOption) error {
	l, err := s.connected()
	if err != nil {
		return err
	}

	return l.files.Put(ctx, localPath, remotePath, opts...)
}

// Remove deletes a file or symbolic link.
func (s *Session) Remove(ctx context.Context, path string) error {
	l, err := s.connected()
	if err != nil {
		return err
	}

	return l.files.Remove(ctx, path)
}

// Chmod sets permission bits.
func (s *Session) Chmod(ctx context.Context, path string, mode os.FileMode) error {
	l, err := s.connected()
	if err != nil {
		return err
	}

	return l.files.Chmod(ctx, path, mode)
}

// RunCommand starts cmd on a new SSH session without a PTY, with the
// configured environment exported.
func (s *Session) RunCommand(ctx context.Context, cmd *ev3link.Command) (ev3link.Process, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	l, err := s.connected()
	if err != nil {
		return nil, err
	}

	p, err := startProcess(ctx, l.client, s.cfg.Env, cmd)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// OpenShell starts an interactive shell on a new PTY. Most front ends go
// through the gateway instead.
func (s *Session) OpenShell(ctx context.Context, w ev3link.Window) (*Shell, error) {
	l, err := s.connected()
	if err != nil {
		return nil, err
	}

	return openShell(ctx, l.client, s.cfg, w, s.log)
}

// SystemInfo returns the output of ev3dev-sysinfo.
func (s *Session) SystemInfo(ctx context.Context) (string, error) {
	return ev3link.NewExecutor(s).SystemInfo(ctx)
}
