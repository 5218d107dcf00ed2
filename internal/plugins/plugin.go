package plugins

import (
	"github.com/danmuck/debugrelay/internal/protocol/event"
)

// Capability is the narrow view of a session a handler may act through.
type Capability interface {
	SendEvent(ev event.Event)
	NewEvent(eventType string, payload map[string]any) event.Event
	SessionID() string
}

// Handler receives control commands and session lifecycle notifications.
type Handler interface {
	Attach(cap Capability)
	HandleCommand(ev event.Event, detail map[string]any)
	OnConnected()
	OnDisconnected(code int)
	OnTerminated()
}

// Base stores the attached capability and ignores lifecycle notifications.
// Handlers embed it and override what they need.
type Base struct {
	Cap Capability
}

func (b *Base) Attach(cap Capability) { b.Cap = cap }
func (b *Base) OnConnected()          {}
func (b *Base) OnDisconnected(int)    {}
func (b *Base) OnTerminated()         {}

// HandlerFunc adapts a function to a command-only Handler.
type HandlerFunc func(ev event.Event, detail map[string]any)

type funcHandler struct {
	Base
	fn HandlerFunc
}

// Func wraps fn as a Handler with no lifecycle behavior.
func Func(fn HandlerFunc) Handler {
	return &funcHandler{fn: fn}
}

func (h *funcHandler) HandleCommand(ev event.Event, detail map[string]any) {
	h.fn(ev, detail)
}
