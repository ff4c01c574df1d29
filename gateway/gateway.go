// Package gateway exposes remote pseudo-terminal shells through a loopback TCP
// listener.
//
// Each accepted connection is bridged to one freshly opened remote shell.
// Bytes cross the socket as length-prefixed binary frames (see FrameType), so
// shell output does not need to be valid text. Closing either side of a bridge
// closes the other.
package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Shell is one remote pseudo-terminal channel.
type Shell interface {
	io.Writer

	Stdout() io.Reader
	Stderr() io.Reader
	Resize(w ev3link.Window) error

	// Wait blocks until the remote shell ends. A non-zero exit is *ev3link.ExitError.
	Wait() error
	Close() error
}

// Opener allocates remote shells.
type Opener interface {
	OpenShell(ctx context.Context, w ev3link.Window) (Shell, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, w ev3link.Window) (Shell, error)

// OpenShell calls f.
func (f OpenerFunc) OpenShell(ctx context.Context, w ev3link.Window) (Shell, error) {
	return f(ctx, w)
}

// Gateway is a loopback listener that serves one remote shell per connection.
type Gateway struct {
	opener Opener
	log    logrus.FieldLogger
	ln     net.Listener
	port   int

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc

	mu      sync.Mutex
	bridges map[string]*bridge
	closed  bool
	wg      sync.WaitGroup
}

// Listen binds an ephemeral port on 127.0.0.1 and starts accepting connections.
func Listen(opener Opener, log logrus.FieldLogger) (*Gateway, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, &ev3link.GatewayError{Op: "listen", Err: err}
	}

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		_ = ln.Close()

		return nil, &ev3link.GatewayError{Op: "listen", Err: errors.New("listener is not tcp")}
	}

	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		opener:  opener,
		log:     log.WithField("port", addr.Port),
		ln:      ln,
		port:    addr.Port,
		ctx:     ctx,
		cancel:  cancel,
		bridges: make(map[string]*bridge),
	}

	g.wg.Add(1)

	go g.acceptLoop()

	g.log.Debug("shell gateway listening")

	return g, nil
}

// Port is the bound loopback port.
func (g *Gateway) Port() int {
	return g.port
}

// Addr is the bound loopback address.
func (g *Gateway) Addr() string {
	return g.ln.Addr().String()
}

// Active reports the number of open bridges.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.bridges)
}

// Close stops accepting, closes every open bridge together with its remote shell,
// and waits for the bridges to finish. It is idempotent.
func (g *Gateway) Close() error {
	g.mu.Lock()

	if g.closed {
		g.mu.Unlock()

		return nil
	}

	g.closed = true

	bridges := make([]*bridge, 0, len(g.bridges))
	for _, b := range g.bridges {
		bridges = append(bridges, b)
	}
	g.mu.Unlock()

	g.cancel()
	err := g.ln.Close()

	for _, b := range bridges {
		b.close()
	}

	g.wg.Wait()
	g.log.Debug("shell gateway closed")

	return err
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()

	for {
		conn, err := g.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || g.ctx.Err() != nil {
				return
			}

			g.log.WithError(err).Warn("accept failed")

			select {
			case <-g.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}

			continue
		}

		b := newBridge(uuid.NewString(), conn, g.log)
		if !g.track(b) {
			_ = conn.Close()

			return
		}

		go func() {
			defer g.wg.Done()
			defer g.untrack(b)

			b.run(g.ctx, g.opener)
		}()
	}
}

func (g *Gateway) track(b *bridge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}

	g.bridges[b.id] = b
	g.wg.Add(1)

	return true
}

func (g *Gateway) untrack(b *bridge) {
	g.mu.Lock()
	delete(g.bridges, b.id)
	g.mu.Unlock()
}
