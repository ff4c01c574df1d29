package discovery

import (
	"sync"

	"github.com/ev3dev/ev3link"
)

var _ Feed = (*ChanFeed)(nil)

// ChanFeed is a Feed driven by the host program. Sends block until the event
// is received or the feed is closed.
type ChanFeed struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewChanFeed returns a feed buffering up to size events.
func NewChanFeed(size int) *ChanFeed {
	return &ChanFeed{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Add announces ep. It reports false if the feed is closed.
func (f *ChanFeed) Add(ep ev3link.Endpoint) bool {
	return f.send(Event{Type: EventAdded, Endpoint: ep})
}

// Remove withdraws ep. It reports false if the feed is closed.
func (f *ChanFeed) Remove(ep ev3link.Endpoint) bool {
	return f.send(Event{Type: EventRemoved, Endpoint: ep})
}

// Fail reports a feed failure. It reports false if the feed is closed.
func (f *ChanFeed) Fail(err error) bool {
	return f.send(Event{Type: EventError, Err: err})
}

// Events implements Feed.
func (f *ChanFeed) Events() <-chan Event {
	return f.events
}

// Done is closed once the feed is closed.
func (f *ChanFeed) Done() <-chan struct{} {
	return f.done
}

// Close implements Feed. The events channel is left open so concurrent
// senders never panic.
func (f *ChanFeed) Close() error {
	f.once.Do(func() { close(f.done) })

	return nil
}

func (f *ChanFeed) send(ev Event) bool {
	select {
	case <-f.done:
		return false
	default:
	}

	select {
	case f.events <- ev:
		return true
	case <-f.done:
		return false
	}
}
