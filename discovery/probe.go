package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Probe defaults.
const (
	DefaultProbeInterval = 5 * time.Second
	DefaultProbeTimeout  = 2 * time.Second

	maxConcurrentProbes = 8
)

var _ Feed = (*ProbeFeed)(nil)

// DialFunc opens a connection, as net.Dialer.DialContext does.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProbeOption configures a ProbeFeed.
type ProbeOption func(*ProbeFeed)

// WithInterval sets the time between probe rounds.
func WithInterval(d time.Duration) ProbeOption {
	return func(f *ProbeFeed) {
		f.interval = d
	}
}

// WithProbeTimeout bounds each TCP probe.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(f *ProbeFeed) {
		f.timeout = d
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) ProbeOption {
	return func(f *ProbeFeed) {
		f.dial = dial
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ProbeOption {
	return func(f *ProbeFeed) {
		f.log = l
	}
}

// ProbeFeed watches a fixed list of endpoints. Each round it opens a TCP
// connection to every endpoint and reports those that became reachable as
// Added and those that stopped answering as Removed.
type ProbeFeed struct {
	endpoints []ev3link.Endpoint
	interval  time.Duration
	timeout   time.Duration
	dial      DialFunc
	log       logrus.FieldLogger

	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewProbeFeed starts probing endpoints. Configured endpoints are known ev3dev
// devices, so an endpoint without an advertised home directory is given its
// default one.
func NewProbeFeed(endpoints []ev3link.Endpoint, opts ...ProbeOption) *ProbeFeed {
	f := &ProbeFeed{
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		events:   make(chan Event),
	}

	for _, o := range opts {
		o(f)
	}

	if f.dial == nil {
		f.dial = (&net.Dialer{}).DialContext
	}

	if f.log == nil {
		f.log = logrus.StandardLogger()
	}

	for _, ep := range endpoints {
		if ep.Port == 0 {
			ep.Port = ev3link.DefaultPort
		}

		if ep.Home == "" {
			ep.Home = ep.HomeDir()
		}

		if ep.ID == "" {
			ep.ID = ep.Address()
		}

		f.endpoints = append(f.endpoints, ep)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)

	go f.run(ctx)

	return f
}

// Events implements Feed. The channel is closed by Close.
func (f *ProbeFeed) Events() <-chan Event {
	return f.events
}

// Close stops probing and closes the events channel.
func (f *ProbeFeed) Close() error {
	f.once.Do(func() {
		f.cancel()
		f.wg.Wait()
		close(f.events)
	})

	return nil
}

func (f *ProbeFeed) run(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	online := make(map[string]bool, len(f.endpoints))

	for {
		reachable := f.round(ctx)

		for i, ep := range f.endpoints {
			var ev Event

			switch {
			case reachable[i] && !online[ep.ID]:
				ev = Event{Type: EventAdded, Endpoint: ep}
			case !reachable[i] && online[ep.ID]:
				ev = Event{Type: EventRemoved, Endpoint: ep}
			default:
				continue
			}

			select {
			case f.events <- ev:
				online[ep.ID] = reachable[i]
				f.log.WithFields(logrus.Fields{"device": ep.String(), "event": ev.Type}).Debug("device reachability changed")
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// round probes every endpoint concurrently.
func (f *ProbeFeed) round(ctx context.Context) []bool {
	reachable := make([]bool, len(f.endpoints))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for i, ep := range f.endpoints {
		g.Go(func() error {
			reachable[i] = f.probe(ctx, ep)

			return nil
		})
	}

	_ = g.Wait()

	return reachable
}

func (f *ProbeFeed) probe(ctx context.Context, ep ev3link.Endpoint) bool {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	conn, err := f.dial(ctx, "tcp", ep.Address())
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}
