// Package discovery turns a live stream of device endpoints into an
// interactive, cancelable choice.
//
// A Feed supplies Added and Removed events. Select keeps the current
// candidates and runs a Picker over them; whenever the candidate set changes
// the running prompt is canceled and issued again with the new list.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ev3dev/ev3link"
)

// EventType is the kind of a feed event.
type EventType int

const (
	// EventAdded announces a reachable endpoint. An endpoint with a known ID
	// replaces the previous one.
	EventAdded EventType = iota + 1
	// EventRemoved withdraws an endpoint by ID.
	EventRemoved
	// EventError reports a feed failure. It ends selection.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventRemoved:
		return "removed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one change reported by a Feed.
type Event struct {
	Type     EventType
	Endpoint ev3link.Endpoint
	Err      error
}

// Feed is a live, closable source of endpoint events.
type Feed interface {
	// Events delivers changes until the feed is closed. The channel may be
	// closed by the feed when it has nothing more to report.
	Events() <-chan Event

	// Close releases the feed. It is idempotent.
	Close() error
}

// Picker asks the user to choose one of the candidates.
type Picker interface {
	// Pick blocks until the user chooses, dismisses the prompt or ctx is
	// canceled. A dismissed prompt returns ev3link.ErrPromptCanceled.
	Pick(ctx context.Context, candidates []ev3link.Endpoint) (ev3link.Endpoint, error)
}

// PickerFunc adapts a function to Picker.
type PickerFunc func(ctx context.Context, candidates []ev3link.Endpoint) (ev3link.Endpoint, error)

// Pick calls f.
func (f PickerFunc) Pick(ctx context.Context, candidates []ev3link.Endpoint) (ev3link.Endpoint, error) {
	return f(ctx, candidates)
}

type pickResult struct {
	ep  ev3link.Endpoint
	err error
}

// Select runs the selection loop until the user picks a device (ep, true, nil),
// dismisses the prompt while nothing changed (zero, false, nil), the feed
// fails (zero, false, err) or ctx ends. Only endpoints advertising a home
// directory are offered. The feed is closed before Select returns; canceling
// a prompt never closes it.
func Select(ctx context.Context, feed Feed, picker Picker) (ev3link.Endpoint, bool, error) {
	defer func() { _ = feed.Close() }()

	var (
		cands  candidates
		events = feed.Events()
	)

	for {
		promptCtx, cancel := context.WithCancel(ctx)
		results := make(chan pickResult, 1)

		go func(list []ev3link.Endpoint) {
			ep, err := picker.Pick(promptCtx, list)
			results <- pickResult{ep: ep, err: err}
		}(cands.list())

		mutated := false

	wait:
		for {
			select {
			case <-ctx.Done():
				cancel()
				<-results

				return ev3link.Endpoint{}, false, ctx.Err()

			case ev, ok := <-events:
				if !ok {
					// No more changes; the prompt stays up.
					events = nil

					continue
				}

				if ev.Type == EventError {
					cancel()
					<-results

					return ev3link.Endpoint{}, false, fmt.Errorf("device discovery failed: %w", ev.Err)
				}

				if cands.apply(ev) && !mutated {
					mutated = true

					cancel()
				}

			case r := <-results:
				cancel()

				if r.err == nil {
					return r.ep, true, nil
				}

				if err := ctx.Err(); err != nil {
					return ev3link.Endpoint{}, false, err
				}

				dismissed := errors.Is(r.err, ev3link.ErrPromptCanceled) || errors.Is(r.err, context.Canceled)

				switch {
				case dismissed && mutated:
					break wait
				case dismissed:
					return ev3link.Endpoint{}, false, nil
				}

				return ev3link.Endpoint{}, false, r.err
			}
		}
	}
}

// candidates is the ordered set of selectable endpoints, keyed by ID.
type candidates struct {
	items []ev3link.Endpoint
}

// apply folds ev into the set and reports whether the set changed.
func (c *candidates) apply(ev Event) bool {
	switch ev.Type {
	case EventAdded:
		if ev.Endpoint.Home == "" {
			return false
		}

		for i, ep := range c.items {
			if ep.ID == ev.Endpoint.ID {
				if ep == ev.Endpoint {
					return false
				}

				c.items[i] = ev.Endpoint

				return true
			}
		}

		c.items = append(c.items, ev.Endpoint)

		return true

	case EventRemoved:
		for i, ep := range c.items {
			if ep.ID == ev.Endpoint.ID {
				c.items = append(c.items[:i], c.items[i+1:]...)

				return true
			}
		}
	}

	return false
}

func (c *candidates) list() []ev3link.Endpoint {
	return append([]ev3link.Endpoint(nil), c.items...)
}
