package builtin

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/debugrelay/internal/logging"
	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogForwarding mirrors local log lines to the remote peer as log events while
// enabled. It is a zerolog.LevelWriter attached to the global logger, so only
// lines at or above its minimum level are forwarded. Lines tagged with
// logging.LocalOnlyField stay local; the session tags its send failures so a
// broken socket cannot turn each failure into another queued event.
type LogForwarding struct {
	plugins.Base
	min zerolog.Level

	attach func(io.Writer)
	detach func(io.Writer)

	mu      sync.Mutex
	enabled bool
	inWrite atomic.Bool
}

var _ zerolog.LevelWriter = (*LogForwarding)(nil)

func NewLogForwarding(minLevel string) *LogForwarding {
	lvl := zerolog.InfoLevel
	if strings.TrimSpace(minLevel) != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(minLevel))); err == nil {
			lvl = parsed
		}
	}
	return &LogForwarding{
		min:    lvl,
		attach: logging.AddWriter,
		detach: logging.RemoveWriter,
	}
}

func (h *LogForwarding) HandleCommand(_ event.Event, detail map[string]any) {
	enabled, ok := detail["enabled"].(bool)
	if !ok {
		log.Warn().Msg("builtin.LogForwarding.HandleCommand missing enabled flag")
		return
	}
	h.setEnabled(enabled)
}

func (h *LogForwarding) OnDisconnected(int) { h.setEnabled(false) }
func (h *LogForwarding) OnTerminated()      { h.setEnabled(false) }

func (h *LogForwarding) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *LogForwarding) setEnabled(enabled bool) {
	h.mu.Lock()
	if h.enabled == enabled {
		h.mu.Unlock()
		return
	}
	h.enabled = enabled
	h.mu.Unlock()

	if enabled {
		h.attach(h)
		log.Info().Str("level", h.min.String()).Msg("builtin.LogForwarding enabled")
		return
	}
	h.detach(h)
	log.Info().Msg("builtin.LogForwarding disabled")
}

func (h *LogForwarding) Write(p []byte) (int, error) {
	return h.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel forwards one JSON log line. It never fails, so a broken peer
// cannot stall local logging.
func (h *LogForwarding) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < h.min {
		return len(p), nil
	}
	if h.Cap == nil || !h.Enabled() {
		return len(p), nil
	}
	if !h.inWrite.CompareAndSwap(false, true) {
		return len(p), nil
	}
	defer h.inWrite.Store(false)

	payload := make(map[string]any)
	if err := json.Unmarshal(p, &payload); err != nil {
		payload = map[string]any{"message": strings.TrimSpace(string(p))}
	}
	if local, _ := payload[logging.LocalOnlyField].(bool); local {
		return len(p), nil
	}
	h.Cap.SendEvent(h.Cap.NewEvent(event.TypeLog, payload))
	return len(p), nil
}
