package transport

import (
	"errors"
)

var (
	ErrNotOpen = errors.New("transport: not open")
)

// State is the socket lifecycle state. It is the single source of truth the
// session consults before sending or reconnecting.
type State int32

const (
	StateUnknown State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Kind tags one transport notification.
type Kind int

const (
	KindOpened Kind = iota + 1
	KindClosed
	KindError
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindClosed:
		return "closed"
	case KindError:
		return "error"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Message is one entry of the ordered notification stream a transport emits.
// Code, Reason and Clean are set for KindClosed, Err for KindError and Data
// for KindData.
type Message struct {
	Kind   Kind
	Code   int
	Reason string
	Clean  bool
	Err    error
	Data   []byte
}

// Transport is a bidirectional message socket. Connect never blocks; progress
// and failures are reported on Messages.
type Transport interface {
	Connect(url string)
	Disconnect()
	Send(data []byte) error
	State() State
	Messages() <-chan Message
}
