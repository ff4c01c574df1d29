package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ev3dev/ev3link"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetwork answers probes for the addresses marked up.
type fakeNetwork struct {
	mu sync.Mutex
	up map[string]bool
}

func (n *fakeNetwork) set(addr string, up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.up[addr] = up
}

func (n *fakeNetwork) dial(_ context.Context, _, addr string) (net.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.up[addr] {
		return nil, errors.New("connection refused")
	}

	client, server := net.Pipe()
	_ = server.Close()

	return client, nil
}

func nextEvent(t *testing.T, f *ProbeFeed) Event {
	t.Helper()

	select {
	case ev := <-f.Events():
		return ev
	case <-time.After(waitFor):
		t.Fatal("no probe event")

		return Event{}
	}
}

func TestProbeFeed_ReportsReachabilityChanges(t *testing.T) {
	t.Parallel()

	a := ev3link.Endpoint{Name: "a", Host: "10.0.0.1", User: "robot"}
	b := ev3link.Endpoint{Name: "b", Host: "10.0.0.2", User: "robot"}

	network := &fakeNetwork{up: map[string]bool{"10.0.0.1:22": true}}
	log, _ := test.NewNullLogger()

	feed := NewProbeFeed([]ev3link.Endpoint{a, b},
		WithInterval(10*time.Millisecond), WithDialer(network.dial), WithLogger(log))

	defer func() { _ = feed.Close() }()

	ev := nextEvent(t, feed)
	assert.Equal(t, EventAdded, ev.Type)
	assert.Equal(t, "10.0.0.1:22", ev.Endpoint.ID)
	assert.Equal(t, "/home/robot", ev.Endpoint.Home)
	assert.Equal(t, 22, ev.Endpoint.Port)

	network.set("10.0.0.2:22", true)

	ev = nextEvent(t, feed)
	assert.Equal(t, EventAdded, ev.Type)
	assert.Equal(t, "b", ev.Endpoint.Name)

	network.set("10.0.0.1:22", false)

	ev = nextEvent(t, feed)
	assert.Equal(t, EventRemoved, ev.Type)
	assert.Equal(t, "a", ev.Endpoint.Name)
}

func TestProbeFeed_CloseEndsEvents(t *testing.T) {
	t.Parallel()

	network := &fakeNetwork{up: map[string]bool{}}
	feed := NewProbeFeed([]ev3link.Endpoint{{Host: "10.0.0.9", User: "robot"}},
		WithInterval(10*time.Millisecond), WithDialer(network.dial))

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())

	_, ok := <-feed.Events()
	assert.False(t, ok)
}

func TestProbeFeed_DrivesSelect(t *testing.T) {
	t.Parallel()

	network := &fakeNetwork{up: map[string]bool{"10.0.0.1:2222": true}}
	feed := NewProbeFeed([]ev3link.Endpoint{{ID: "lab", Host: "10.0.0.1", Port: 2222, User: "robot"}},
		WithInterval(10*time.Millisecond), WithDialer(network.dial))

	picker := PickerFunc(func(ctx context.Context, candidates []ev3link.Endpoint) (ev3link.Endpoint, error) {
		if len(candidates) == 0 {
			<-ctx.Done()

			return ev3link.Endpoint{}, ctx.Err()
		}

		return candidates[0], nil
	})

	ep, ok, err := Select(t.Context(), feed, picker)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lab", ep.ID)
}
