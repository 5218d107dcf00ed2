package builtin

import (
	"sort"
	"sync"

	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/rs/zerolog/log"
)

// ConfigSink is the host's runtime configuration.
type ConfigSink interface {
	Apply(key string, value any) error
	Reset(keys []string)
}

// ConfigOverride applies remote config-update commands and reverts them when
// the session terminates.
type ConfigOverride struct {
	plugins.Base
	sink  ConfigSink
	store store.Store

	mu       sync.Mutex
	modified map[string]struct{}
}

func NewConfigOverride(sink ConfigSink, st store.Store) *ConfigOverride {
	h := &ConfigOverride{
		sink:     sink,
		store:    st,
		modified: make(map[string]struct{}),
	}
	if st != nil {
		for _, k := range store.GetList(st, store.KeyModifiedConfigKeys) {
			h.modified[k] = struct{}{}
		}
	}
	return h
}

func (h *ConfigOverride) HandleCommand(_ event.Event, detail map[string]any) {
	if len(detail) == 0 {
		return
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		if err := h.sink.Apply(k, detail[k]); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("builtin.ConfigOverride.HandleCommand apply failed")
			continue
		}
		h.modified[k] = struct{}{}
	}
	h.persistLocked()
}

// OnTerminated reverts every key a remote override touched.
func (h *ConfigOverride) OnTerminated() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.modified) == 0 {
		return
	}
	keys := h.modifiedLocked()
	h.sink.Reset(keys)
	h.modified = make(map[string]struct{})
	h.persistLocked()
	log.Info().Strs("keys", keys).Msg("builtin.ConfigOverride.OnTerminated reverted")
}

// Modified returns the overridden keys in sorted order.
func (h *ConfigOverride) Modified() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.modifiedLocked()
}

func (h *ConfigOverride) modifiedLocked() []string {
	keys := make([]string, 0, len(h.modified))
	for k := range h.modified {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (h *ConfigOverride) persistLocked() {
	if h.store == nil {
		return
	}
	if err := store.SetList(h.store, store.KeyModifiedConfigKeys, h.modifiedLocked()); err != nil {
		log.Warn().Err(err).Msg("builtin.ConfigOverride persist modified keys failed")
	}
}
