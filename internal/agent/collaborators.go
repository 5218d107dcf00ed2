package agent

import (
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/protocol/session"
)

// Presenter receives session progress for the host's UI. Calls are made
// outside the session lock and may come from the worker goroutine.
type Presenter interface {
	OnSessionAuthorizing(details session.Details)
	OnSessionConnecting()
	OnSessionConnected()
	OnSessionReconnecting()
	OnSessionDisconnected()
	OnSessionConnectionError(err error)
}

// HostBus is the host application's event bus. Synthetic events produced by
// remote commands are published to it.
type HostBus interface {
	Publish(ev event.Event)
}

// Snapshotter is implemented by host buses that can describe the host's shared
// state. The snapshot is sent once forwarding starts.
type Snapshotter interface {
	Snapshot() map[string]any
}

// NopPresenter ignores every callback.
type NopPresenter struct{}

func (NopPresenter) OnSessionAuthorizing(session.Details) {}
func (NopPresenter) OnSessionConnecting()                 {}
func (NopPresenter) OnSessionConnected()                  {}
func (NopPresenter) OnSessionReconnecting()               {}
func (NopPresenter) OnSessionDisconnected()               {}
func (NopPresenter) OnSessionConnectionError(error)       {}

// NopBus drops every published event.
type NopBus struct{}

func (NopBus) Publish(event.Event) {}
