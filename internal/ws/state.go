package ws

import (
	"errors"
	"fmt"
)

// State is a channel's connection state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type event int

const (
	evDialed     event = iota // handshake completed
	evDialFailed              // all dial attempts failed
	evDropped                 // read loop ended without a local close
	evClose                   // explicit local close
)

// transition is the whole channel lifecycle. A closed channel never reopens;
// the registry builds a fresh one.
func transition(s State, ev event) State {
	switch s {
	case StateConnecting:
		switch ev {
		case evDialed:
			return StateOpen
		case evDialFailed, evClose, evDropped:
			return StateClosed
		}
	case StateOpen:
		switch ev {
		case evDropped, evClose:
			return StateClosed
		}
	}
	return s
}

var (
	// ErrChannelNotOpen is returned by sends on a channel that is not open.
	// Nothing is queued.
	ErrChannelNotOpen = errors.New("channel not open")
	// ErrAuthRejected is returned when the server rejects the handshake with 401.
	ErrAuthRejected = errors.New("channel rejected authentication (401)")
	// ErrDialFailed wraps the last error of a channel that never opened.
	ErrDialFailed = errors.New("dial failed")
)

// ChannelError reports a channel that is unusable until it is reopened.
type ChannelError struct {
	Kind  Kind
	State State
	Err   error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s channel (%s): %v", e.Kind, e.State, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
