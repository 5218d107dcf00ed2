package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/danmuck/debugrelay/internal/transport/transporttest"
)

const waitTimeout = 3 * time.Second

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitDone waits for the worker to exit. Termination driven by the worker
// finishes all of its callbacks before that.
func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("session worker did not stop")
	}
	if s.Phase() != PhaseTerminated {
		t.Fatalf("worker stopped in phase %s", s.Phase())
	}
}

type recPresenter struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (p *recPresenter) add(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *recPresenter) OnSessionAuthorizing(session.Details) { p.add("authorizing") }
func (p *recPresenter) OnSessionConnecting()                 { p.add("connecting") }
func (p *recPresenter) OnSessionConnected()                  { p.add("connected") }
func (p *recPresenter) OnSessionReconnecting()               { p.add("reconnecting") }
func (p *recPresenter) OnSessionDisconnected()               { p.add("disconnected") }

func (p *recPresenter) OnSessionConnectionError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "error")
	p.errs = append(p.errs, err)
}

func (p *recPresenter) has(call string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (p *recPresenter) lastErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) == 0 {
		return nil
	}
	return p.errs[len(p.errs)-1]
}

// countingHandler records commands and lifecycle notifications.
type countingHandler struct {
	plugins.Base

	mu           sync.Mutex
	commands     []event.Event
	details      []map[string]any
	connected    int
	disconnected []int
	terminated   int
	reply        bool
}

func (h *countingHandler) HandleCommand(ev event.Event, detail map[string]any) {
	h.mu.Lock()
	h.commands = append(h.commands, ev)
	h.details = append(h.details, detail)
	reply := h.reply
	h.mu.Unlock()
	if reply && h.Cap != nil {
		h.Cap.SendEvent(h.Cap.NewEvent(event.TypeGeneric, map[string]any{
			"reply":     true,
			"sessionId": h.Cap.SessionID(),
		}))
	}
}

func (h *countingHandler) OnConnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected++
}

func (h *countingHandler) OnDisconnected(code int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, code)
}

func (h *countingHandler) OnTerminated() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated++
}

func (h *countingHandler) counts() (commands, connected, terminated int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.commands), h.connected, h.terminated
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Reconnect = session.BackoffConfig{
		InitialDelay: 30 * time.Millisecond,
		Multiplier:   1.0,
		MaxDelay:     30 * time.Millisecond,
	}
	return cfg
}

type sessionFixture struct {
	s         *Session
	tr        *transporttest.Fake
	presenter *recPresenter
	store     *store.MemoryStore
	factory   *event.Factory
	handler   *countingHandler
}

func newFixture(t *testing.T, mutate func(*SessionOptions)) *sessionFixture {
	t.Helper()
	fx := &sessionFixture{
		tr:        transporttest.New(),
		presenter: &recPresenter{},
		store:     store.NewMemoryStore(),
		factory:   event.NewFactory(nil),
		handler:   &countingHandler{},
	}
	opts := SessionOptions{
		Details: session.Details{
			SessionID:   "s1",
			ClientID:    "c1",
			Environment: session.EnvQA,
		},
		Config:    testConfig(),
		Transport: fx.tr,
		Store:     fx.store,
		Presenter: fx.presenter,
		Factory:   fx.factory,
		Identity:  Identity{ClientID: "c1", AppName: "demo", AppVersion: "1.2.3"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := NewSession(opts)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(s.ShutDown)
	if err := s.Registry().Register(fx.handler, event.DefaultVendor, event.CommandConfigUpdate); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	fx.s = s
	return fx
}

// connect authenticates and opens the fake socket, waiting for the identity
// frame.
func (fx *sessionFixture) connect(t *testing.T) {
	t.Helper()
	fx.s.Start()
	if err := fx.s.Authenticate("1234", "org-1"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	before := len(fx.tr.Sent())
	fx.tr.Open()
	waitFor(t, "identity frame", func() bool { return len(fx.tr.Sent()) == before+1 })
}

func (fx *sessionFixture) receive(t *testing.T, ev event.Event) {
	t.Helper()
	data, err := event.Encode(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fx.tr.Receive(data)
}

func (fx *sessionFixture) startForwarding(t *testing.T) {
	t.Helper()
	fx.receive(t, fx.factory.Control(event.DefaultVendor, event.CommandStartForwarding, nil))
	waitFor(t, "forwarding phase", func() bool { return fx.s.Phase() == PhaseForwarding })
}

func decodeSent(t *testing.T, frames [][]byte) []event.Event {
	t.Helper()
	out := make([]event.Event, 0, len(frames))
	for _, f := range frames {
		ev, err := event.Decode(f, nil)
		if err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		out = append(out, ev)
	}
	return out
}
