package builtin

import (
	"strings"

	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/rs/zerolog/log"
)

// FakeEvent turns a fake-event command into a synthetic host event.
// detail.type names the event type, detail.payload its payload and
// detail.vendor an optional vendor.
type FakeEvent struct {
	plugins.Base
	bus Publisher
}

func NewFakeEvent(bus Publisher) *FakeEvent {
	return &FakeEvent{bus: bus}
}

func (h *FakeEvent) HandleCommand(_ event.Event, detail map[string]any) {
	if h.Cap == nil || detail == nil {
		return
	}
	eventType, _ := detail["type"].(string)
	if strings.TrimSpace(eventType) == "" {
		log.Warn().Msg("builtin.FakeEvent.HandleCommand missing type")
		return
	}
	payload, _ := detail["payload"].(map[string]any)
	ev := h.Cap.NewEvent(eventType, payload)
	if vendor, ok := detail["vendor"].(string); ok && strings.TrimSpace(vendor) != "" {
		ev.Vendor = vendor
	}
	h.bus.Publish(ev)
}
