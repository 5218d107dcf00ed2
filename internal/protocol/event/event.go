package event

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultVendor = "mobile"

	TypeGeneric = "generic"
	TypeLog     = "log"
	TypeControl = "control"
	TypeClient  = "client"
	TypeBlob    = "blob"
)

// Control command types carried in a control event's payload "type" key.
const (
	CommandStartForwarding      = "start-event-forwarding"
	CommandStartForwardingShort = "start-forwarding"
	CommandConfigUpdate         = "config-update"
	CommandFakeEvent            = "fake-event"
	CommandScreenshot           = "screenshot"
	CommandLogForwarding        = "log-forwarding"
	CommandWildcard             = "*"
)

const (
	controlTypeKey   = "type"
	controlDetailKey = "detail"
)

// Event is the unit of exchange with the remote inspection service.
type Event struct {
	ID        string
	Vendor    string
	Type      string
	Payload   map[string]any
	Metadata  map[string]any
	Timestamp int64
	Sequence  uint32
}

// IsControl reports whether the event carries a command rather than telemetry.
func (e Event) IsControl() bool {
	return e.Type == TypeControl
}

// ControlType returns the command type of a control event.
func (e Event) ControlType() (string, bool) {
	if !e.IsControl() || e.Payload == nil {
		return "", false
	}
	v, ok := e.Payload[controlTypeKey].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// ControlDetail returns the argument mapping of a control event.
func (e Event) ControlDetail() (map[string]any, bool) {
	if !e.IsControl() || e.Payload == nil {
		return nil, false
	}
	v, ok := e.Payload[controlDetailKey].(map[string]any)
	return v, ok
}

// IsStartForwarding reports whether the event is the peer's forwarding go-ahead.
func (e Event) IsStartForwarding() bool {
	cmd, ok := e.ControlType()
	if !ok {
		return false
	}
	return cmd == CommandStartForwarding || cmd == CommandStartForwardingShort
}

// Sequencer hands out strictly increasing event numbers.
type Sequencer struct {
	n atomic.Uint32
}

func (s *Sequencer) Next() uint32 {
	return s.n.Add(1)
}

// Factory builds events with ids, timestamps and sequence numbers from one
// owned sequencer.
type Factory struct {
	seq   *Sequencer
	now   func() time.Time
	newID func() string
}

func NewFactory(seq *Sequencer) *Factory {
	if seq == nil {
		seq = &Sequencer{}
	}
	return &Factory{
		seq:   seq,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// WithClock returns a copy of the factory reading time from now.
func (f *Factory) WithClock(now func() time.Time) *Factory {
	out := *f
	out.now = now
	return &out
}

// WithIDs returns a copy of the factory generating ids with newID.
func (f *Factory) WithIDs(newID func() string) *Factory {
	out := *f
	out.newID = newID
	return &out
}

func (f *Factory) New(eventType string, payload map[string]any) Event {
	return f.NewWithVendor(DefaultVendor, eventType, payload)
}

func (f *Factory) NewWithVendor(vendor, eventType string, payload map[string]any) Event {
	if strings.TrimSpace(vendor) == "" {
		vendor = DefaultVendor
	}
	if strings.TrimSpace(eventType) == "" {
		eventType = TypeGeneric
	}
	return Event{
		ID:        f.newID(),
		Vendor:    vendor,
		Type:      eventType,
		Payload:   payload,
		Timestamp: f.now().UnixMilli(),
		Sequence:  f.seq.Next(),
	}
}

// Control builds a control event for command with an optional detail mapping.
func (f *Factory) Control(vendor, command string, detail map[string]any) Event {
	payload := map[string]any{controlTypeKey: command}
	if detail != nil {
		payload[controlDetailKey] = detail
	}
	return f.NewWithVendor(vendor, TypeControl, payload)
}

// Stamp assigns a fresh local sequence number to an event that came off the wire.
func (f *Factory) Stamp(ev Event) Event {
	ev.Sequence = f.seq.Next()
	if ev.ID == "" {
		ev.ID = f.newID()
	}
	return ev
}
