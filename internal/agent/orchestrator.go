package agent

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/debugrelay/internal/observability"
	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/danmuck/debugrelay/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrShutDown  = errors.New("agent: orchestrator shut down")
	ErrNoSession = errors.New("agent: no active session")
)

// Config holds the orchestrator's runtime settings.
type Config struct {
	NodeID      string
	Endpoint    session.Endpoint
	Session     session.Config
	GraceWindow time.Duration
	AdminAddr   string
	// AdminToken, when set, is the bearer token required by mutating admin
	// routes.
	AdminToken  string
	CORSOrigins []string
	Identity    Identity
}

func DefaultConfig() Config {
	return Config{
		NodeID:      "relay.local",
		Endpoint:    session.DefaultEndpoint(),
		Session:     session.DefaultConfig(),
		GraceWindow: 30 * time.Second,
	}
}

// TransportFactory builds the transport for a new session.
type TransportFactory func(cfg session.Config) (transport.Transport, error)

// WebSocketTransports is the production TransportFactory.
func WebSocketTransports(cfg session.Config) (transport.Transport, error) {
	opts, err := transport.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return transport.NewWSTransport(opts), nil
}

// Options are the orchestrator's collaborators.
type Options struct {
	Store      store.Store
	Presenter  Presenter
	Bus        HostBus
	Transports TransportFactory
	Sequencer  *event.Sequencer
	// Handlers installs command handlers on every new session's registry.
	Handlers func(reg *plugins.Registry) error
}

// OrchestratorStatus is the admin view of the orchestrator.
type OrchestratorStatus struct {
	NodeID   string  `json:"node_id"`
	ClientID string  `json:"client_id"`
	ShutDown bool    `json:"shut_down"`
	Buffered int     `json:"buffered"`
	Session  *Status `json:"session,omitempty"`
}

// Orchestrator owns at most one Session and buffers host events until it
// exists.
type Orchestrator struct {
	cfg        Config
	store      store.Store
	presenter  Presenter
	bus        HostBus
	transports TransportFactory
	handlers   func(reg *plugins.Registry) error
	factory    *event.Factory
	identity   Identity

	mu       sync.Mutex
	current  *Session
	pending  *session.Queue[event.Event]
	shutdown bool
	grace    *time.Timer
}

// New loads or creates the client identity and returns an idle orchestrator.
func New(cfg Config, opts Options) (*Orchestrator, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.NodeID) == "" {
		cfg.NodeID = def.NodeID
	}
	if strings.TrimSpace(cfg.Endpoint.Host) == "" {
		cfg.Endpoint = def.Endpoint
	}
	cfg.Session = cfg.Session.WithDefaults()
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Presenter == nil {
		opts.Presenter = NopPresenter{}
	}
	if opts.Bus == nil {
		opts.Bus = NopBus{}
	}
	if opts.Transports == nil {
		opts.Transports = WebSocketTransports
	}

	identity, err := LoadIdentity(opts.Store, cfg.Identity)
	if err != nil {
		return nil, err
	}
	log.Info().Str("client_id", identity.ClientID).Msg("agent.Orchestrator identity ready")

	return &Orchestrator{
		cfg:        cfg,
		store:      opts.Store,
		presenter:  opts.Presenter,
		bus:        opts.Bus,
		transports: opts.Transports,
		handlers:   opts.Handlers,
		factory:    event.NewFactory(opts.Sequencer),
		identity:   identity,
		pending:    session.NewQueue[event.Event](cfg.Session.QueueCapacity),
	}, nil
}

func (o *Orchestrator) Identity() Identity {
	return o.identity
}

// Factory is the event factory shared by every session of this orchestrator.
func (o *Orchestrator) Factory() *event.Factory {
	return o.factory
}

func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// NewEvent builds a host event with this orchestrator's sequencer.
func (o *Orchestrator) NewEvent(eventType string, payload map[string]any) event.Event {
	return o.factory.New(eventType, payload)
}

// QueueEvent hands a host event to the active session, or buffers it until
// one exists. Events are dropped once the orchestrator is shut down.
func (o *Orchestrator) QueueEvent(ev event.Event) {
	if ev.Sequence == 0 {
		ev = o.factory.Stamp(ev)
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}
	if strings.TrimSpace(ev.Vendor) == "" {
		ev.Vendor = event.DefaultVendor
	}

	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		log.Trace().Str("type", ev.Type).Msg("agent.Orchestrator.QueueEvent dropped after shutdown")
		return
	}
	s := o.current
	if s == nil {
		if _, dropped := o.pending.Enqueue(ev); dropped {
			observability.RecordQueueEviction("pending")
		}
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	s.SendEvent(ev)
}

// CreateSession builds and starts a session for details. When a session
// already exists it is returned with created=false; the first session wins.
func (o *Orchestrator) CreateSession(details session.Details) (*Session, bool, error) {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return nil, false, ErrShutDown
	}
	if o.current != nil {
		s := o.current
		o.mu.Unlock()
		log.Info().
			Str("session_id", details.SessionID).
			Str("active_session_id", s.Details().SessionID).
			Msg("agent.Orchestrator.CreateSession ignored, session exists")
		return s, false, nil
	}

	tr, err := o.transports(o.cfg.Session)
	if err != nil {
		o.mu.Unlock()
		return nil, false, err
	}
	s, err := NewSession(SessionOptions{
		Details:      details,
		Config:       o.cfg.Session,
		Endpoint:     o.cfg.Endpoint,
		Transport:    tr,
		Store:        o.store,
		Presenter:    o.presenter,
		Bus:          o.bus,
		Factory:      o.factory,
		Identity:     o.identity,
		OnTerminated: o.release,
	})
	if err != nil {
		o.mu.Unlock()
		return nil, false, err
	}
	if o.handlers != nil {
		if err := o.handlers(s.Registry()); err != nil {
			o.mu.Unlock()
			s.ShutDown()
			return nil, false, err
		}
	}
	o.current = s
	buffered := o.pending.Drain()
	if o.grace != nil {
		o.grace.Stop()
		o.grace = nil
	}
	o.mu.Unlock()

	for _, ev := range buffered {
		s.SendEvent(ev)
	}
	log.Info().
		Str("session_id", s.Details().SessionID).
		Int("buffered", len(buffered)).
		Msg("agent.Orchestrator.CreateSession")
	s.Start()
	return s, true, nil
}

// HandleDeepLink parses a deep link and creates a session from it.
func (o *Orchestrator) HandleDeepLink(raw string) (*Session, bool, error) {
	details, err := session.ParseDeepLink(raw, o.identity.ClientID)
	if err != nil {
		return nil, false, err
	}
	return o.CreateSession(details)
}

// QuickConnect creates a session from an explicit id and environment.
func (o *Orchestrator) QuickConnect(sessionID, environment string) (*Session, bool, error) {
	env, err := session.ParseEnvironment(environment)
	if err != nil {
		return nil, false, err
	}
	return o.CreateSession(session.Details{
		SessionID:   strings.TrimSpace(sessionID),
		ClientID:    o.identity.ClientID,
		Environment: env,
	})
}

// Authenticate forwards pin entry to the active session.
func (o *Orchestrator) Authenticate(pin, orgID string) error {
	s := o.Session()
	if s == nil {
		return ErrNoSession
	}
	return s.Authenticate(pin, orgID)
}

// TerminateSession tears down the active session and drops buffered events.
func (o *Orchestrator) TerminateSession() {
	o.mu.Lock()
	s := o.current
	o.current = nil
	o.pending.Clear()
	o.mu.Unlock()
	if s != nil {
		s.Terminate()
	}
}

// StartGraceWindow shuts the orchestrator down unless a session exists when
// d elapses.
func (o *Orchestrator) StartGraceWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shutdown || o.current != nil {
		return
	}
	if o.grace != nil {
		o.grace.Stop()
	}
	o.grace = time.AfterFunc(d, func() {
		o.mu.Lock()
		expired := o.current == nil && !o.shutdown
		o.mu.Unlock()
		if expired {
			log.Info().Dur("window", d).Msg("agent.Orchestrator grace window expired")
			o.ShutDown()
		}
	})
}

// ShutDown refuses further host events and session creation. An active
// session is shut down without notifying handlers.
func (o *Orchestrator) ShutDown() {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return
	}
	o.shutdown = true
	s := o.current
	o.current = nil
	o.pending.Clear()
	if o.grace != nil {
		o.grace.Stop()
		o.grace = nil
	}
	o.mu.Unlock()
	if s != nil {
		s.ShutDown()
	}
}

func (o *Orchestrator) IsShutDown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shutdown
}

// Close stops the orchestrator at process exit. Persisted session state is
// kept so the next run can reconnect.
func (o *Orchestrator) Close() {
	o.ShutDown()
}

func (o *Orchestrator) Status() OrchestratorStatus {
	o.mu.Lock()
	st := OrchestratorStatus{
		NodeID:   o.cfg.NodeID,
		ClientID: o.identity.ClientID,
		ShutDown: o.shutdown,
		Buffered: o.pending.Size(),
	}
	s := o.current
	o.mu.Unlock()
	if s != nil {
		ss := s.Status()
		st.Session = &ss
	}
	return st
}

// release forgets s once it terminates so a later deep link can start over.
func (o *Orchestrator) release(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == s {
		o.current = nil
	}
}
