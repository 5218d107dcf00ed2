// Package builtin holds the command handlers the agent ships with. All of
// them register under the "mobile" vendor.
package builtin

import (
	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/store"
)

// Deps are the host collaborators the built-in handlers act on. A nil
// collaborator skips the handler that needs it.
type Deps struct {
	Config   ConfigSink
	Store    store.Store
	Bus      Publisher
	Capturer Capturer
	// LogLevel is the minimum level forwarded by log-forwarding; empty means info.
	LogLevel string
}

// Publisher accepts events destined for the host application's event bus.
type Publisher interface {
	Publish(ev event.Event)
}

// Register installs every built-in handler whose collaborator is present and
// returns the installed handlers in registration order.
func Register(reg *plugins.Registry, deps Deps) ([]plugins.Handler, error) {
	var out []plugins.Handler
	add := func(h plugins.Handler, cmd string) error {
		if err := reg.Register(h, event.DefaultVendor, cmd); err != nil {
			return err
		}
		out = append(out, h)
		return nil
	}
	if deps.Config != nil {
		if err := add(NewConfigOverride(deps.Config, deps.Store), event.CommandConfigUpdate); err != nil {
			return out, err
		}
	}
	if deps.Bus != nil {
		if err := add(NewFakeEvent(deps.Bus), event.CommandFakeEvent); err != nil {
			return out, err
		}
	}
	if deps.Capturer != nil {
		if err := add(NewScreenshot(deps.Capturer), event.CommandScreenshot); err != nil {
			return out, err
		}
	}
	if err := add(NewLogForwarding(deps.LogLevel), event.CommandLogForwarding); err != nil {
		return out, err
	}
	return out, nil
}
