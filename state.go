package ev3link

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a device session.
type State int

const (
	// StateIdle is a freshly constructed session.
	StateIdle State = iota
	// StateConnecting is an in-flight connection attempt.
	StateConnecting
	// StateConnected means SFTP and the shell gateway are ready.
	StateConnected
	// StateDisconnected is terminal for a session instance.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventType identifies a lifecycle notification.
type EventType int

const (
	// EventConnecting fires before any network I/O of a connection attempt.
	EventConnecting EventType = iota + 1
	// EventConnected fires once SFTP and the shell gateway are both ready.
	EventConnected
	// EventDisconnected fires exactly once per attempt, whether it completed or was aborted.
	EventDisconnected
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is one lifecycle transition.
type Event struct {
	Type EventType
	From State
	To   State
	Err  error // Cause of a failed or aborted attempt, nil otherwise
	Time time.Time
}

func (e Event) String() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s -> %s): %v", e.Type, e.From, e.To, e.Err)
	}

	return fmt.Sprintf("%s (%s -> %s)", e.Type, e.From, e.To)
}
