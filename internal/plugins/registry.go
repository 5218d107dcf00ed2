package plugins

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilHandler     = errors.New("plugins: nil handler")
	ErrMissingVendor  = errors.New("plugins: missing vendor")
	ErrMissingCommand = errors.New("plugins: missing command type")
)

type registration struct {
	handler     Handler
	commandType string
	// identity groups registrations of the same handler for lifecycle
	// broadcasts. Handlers that cannot be compared get a unique identity.
	identity any
}

func handlerIdentity(h Handler) any {
	if reflect.ValueOf(h).Comparable() {
		return h
	}
	return new(byte)
}

// Registry routes control events and lifecycle notifications to handlers
// grouped by vendor. Registration order is preserved within a vendor.
type Registry struct {
	cap Capability

	mu       sync.RWMutex
	byVendor map[string][]registration
	vendors  []string
}

func NewRegistry(cap Capability) *Registry {
	return &Registry{
		cap:      cap,
		byVendor: make(map[string][]registration),
	}
}

// Register attaches the registry's capability to h and routes commandType
// (or "*" for every command) of vendor to it.
func (r *Registry) Register(h Handler, vendor, commandType string) error {
	if h == nil {
		return ErrNilHandler
	}
	vendor = strings.TrimSpace(vendor)
	commandType = strings.TrimSpace(commandType)
	if vendor == "" {
		return ErrMissingVendor
	}
	if commandType == "" {
		return ErrMissingCommand
	}
	h.Attach(r.cap)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byVendor[vendor]; !ok {
		r.vendors = append(r.vendors, vendor)
	}
	r.byVendor[vendor] = append(r.byVendor[vendor], registration{
		handler:     h,
		commandType: commandType,
		identity:    handlerIdentity(h),
	})
	return nil
}

// Dispatch delivers a control event to the handlers of its vendor whose
// command type matches or is the wildcard. It returns the delivery count.
// Unknown vendors are a silent no-op.
func (r *Registry) Dispatch(ev event.Event) int {
	cmd, ok := ev.ControlType()
	if !ok {
		return 0
	}
	detail, _ := ev.ControlDetail()

	r.mu.RLock()
	regs := append([]registration(nil), r.byVendor[ev.Vendor]...)
	r.mu.RUnlock()

	delivered := 0
	for _, reg := range regs {
		if reg.commandType != cmd && reg.commandType != event.CommandWildcard {
			continue
		}
		r.safeCall("HandleCommand", ev.Vendor, reg.commandType, func() {
			reg.handler.HandleCommand(ev, detail)
		})
		delivered++
	}
	return delivered
}

func (r *Registry) NotifyConnected() {
	r.broadcast("OnConnected", func(h Handler) { h.OnConnected() })
}

func (r *Registry) NotifyDisconnected(code int) {
	r.broadcast("OnDisconnected", func(h Handler) { h.OnDisconnected(code) })
}

func (r *Registry) NotifyTerminated() {
	r.broadcast("OnTerminated", func(h Handler) { h.OnTerminated() })
}

// broadcast calls fn once per distinct handler across all vendors, in
// vendor then registration order.
func (r *Registry) broadcast(name string, fn func(Handler)) {
	r.mu.RLock()
	var targets []registration
	seen := make(map[any]struct{})
	var vendorOf []string
	for _, vendor := range r.vendors {
		for _, reg := range r.byVendor[vendor] {
			if _, dup := seen[reg.identity]; dup {
				continue
			}
			seen[reg.identity] = struct{}{}
			targets = append(targets, reg)
			vendorOf = append(vendorOf, vendor)
		}
	}
	r.mu.RUnlock()

	for i, reg := range targets {
		h := reg.handler
		r.safeCall(name, vendorOf[i], reg.commandType, func() { fn(h) })
	}
}

func (r *Registry) safeCall(name, vendor, commandType string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("vendor", vendor).
				Str("command", commandType).
				Interface("panic", rec).
				Msgf("plugins.Registry.%s handler panicked", name)
		}
	}()
	fn()
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, regs := range r.byVendor {
		n += len(regs)
	}
	return n
}

// Vendors returns the registered vendors sorted by name.
func (r *Registry) Vendors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.vendors...)
	sort.Strings(out)
	return out
}
