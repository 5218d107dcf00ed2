package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidWireEvent = errors.New("event: invalid wire event")
)

type wireEvent struct {
	EventID     string         `json:"eventID"`
	Vendor      string         `json:"vendor"`
	Type        string         `json:"type"`
	Timestamp   int64          `json:"timestamp"`
	Payload     map[string]any `json:"payload"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	EventNumber *uint32        `json:"eventNumber,omitempty"`
}

// Encode serializes one event into a transport frame.
func Encode(ev Event) ([]byte, error) {
	seq := ev.Sequence
	return json.Marshal(wireEvent{
		EventID:     ev.ID,
		Vendor:      ev.Vendor,
		Type:        ev.Type,
		Timestamp:   ev.Timestamp,
		Payload:     ev.Payload,
		Metadata:    ev.Metadata,
		EventNumber: &seq,
	})
}

// Decode parses one transport frame. The wire eventNumber is never trusted;
// the factory stamps a local sequence number instead.
func Decode(data []byte, f *Factory) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidWireEvent, err)
	}
	if strings.TrimSpace(w.Type) == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrInvalidWireEvent)
	}
	vendor := w.Vendor
	if strings.TrimSpace(vendor) == "" {
		vendor = DefaultVendor
	}
	ev := Event{
		ID:        w.EventID,
		Vendor:    vendor,
		Type:      w.Type,
		Payload:   w.Payload,
		Metadata:  w.Metadata,
		Timestamp: w.Timestamp,
	}
	if f != nil {
		ev = f.Stamp(ev)
	}
	return ev, nil
}

// MarshalPayload serializes an event payload with deterministic key order.
func MarshalPayload(payload map[string]any) ([]byte, error) {
	return json.Marshal(payload)
}

// UnmarshalPayload parses a serialized payload mapping.
func UnmarshalPayload(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
