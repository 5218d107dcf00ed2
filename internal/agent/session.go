package agent

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/debugrelay/internal/logging"
	"github.com/danmuck/debugrelay/internal/observability"
	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/protocol/chunk"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/danmuck/debugrelay/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilTransport      = errors.New("agent: nil transport")
	ErrSessionTerminated = errors.New("agent: session terminated")
	ErrNotAuthorizing    = errors.New("agent: session is not awaiting authentication")
)

// SessionOptions wires one Session. Zero collaborators get no-op or in-memory
// defaults.
type SessionOptions struct {
	Details      session.Details
	Config       session.Config
	Endpoint     session.Endpoint
	Transport    transport.Transport
	Store        store.Store
	Presenter    Presenter
	Bus          HostBus
	Factory      *event.Factory
	Identity     Identity
	OnTerminated func(*Session)
}

// Status is a point-in-time view of a session for the admin surface.
type Status struct {
	SessionID     string   `json:"session_id"`
	ClientID      string   `json:"client_id"`
	Environment   string   `json:"environment"`
	Phase         string   `json:"phase"`
	Transport     string   `json:"transport"`
	CanForward    bool     `json:"can_forward"`
	Reconnecting  bool     `json:"reconnecting"`
	Outbound      int      `json:"outbound"`
	Inbound       int      `json:"inbound"`
	PendingChunks int      `json:"pending_chunks"`
	Handlers      int      `json:"handlers"`
	Vendors       []string `json:"vendors"`
}

// Session drives one connection to the remote inspection service.
type Session struct {
	cfg          session.Config
	endpoint     session.Endpoint
	tr           transport.Transport
	store        store.Store
	presenter    Presenter
	bus          HostBus
	factory      *event.Factory
	identity     Identity
	chunker      *chunk.Chunker
	assembler    *chunk.Assembler
	registry     *plugins.Registry
	onTerminated func(*Session)

	outbound *session.Queue[event.Event]
	inbound  *session.Queue[event.Event]
	outWake  chan struct{}
	inWake   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	details    session.Details
	phase      Phase
	canForward bool
	admitting  bool
	connURL    string
	attempt    int
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Transport == nil {
		return nil, ErrNilTransport
	}
	details := opts.Details
	if strings.TrimSpace(details.ClientID) == "" {
		details.ClientID = opts.Identity.ClientID
	}
	env, err := session.ParseEnvironment(string(details.Environment))
	if err != nil {
		return nil, err
	}
	details.Environment = env
	if err := details.Validate(); err != nil {
		return nil, err
	}

	cfg := opts.Config.WithDefaults()
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Presenter == nil {
		opts.Presenter = NopPresenter{}
	}
	if opts.Bus == nil {
		opts.Bus = NopBus{}
	}
	if opts.Factory == nil {
		opts.Factory = event.NewFactory(nil)
	}
	if strings.TrimSpace(opts.Endpoint.Host) == "" {
		opts.Endpoint = session.DefaultEndpoint()
	}

	s := &Session{
		cfg:          cfg,
		endpoint:     opts.Endpoint,
		tr:           opts.Transport,
		store:        opts.Store,
		presenter:    opts.Presenter,
		bus:          opts.Bus,
		factory:      opts.Factory,
		identity:     opts.Identity,
		chunker:      chunk.NewChunker(cfg.ChunkSize),
		assembler:    chunk.NewAssembler(cfg.ChunkPendingTTL),
		onTerminated: opts.OnTerminated,
		outbound:     session.NewQueue[event.Event](cfg.QueueCapacity),
		inbound:      session.NewQueue[event.Event](cfg.QueueCapacity),
		outWake:      make(chan struct{}, 1),
		inWake:       make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		details:      details,
		phase:        PhaseIdle,
		admitting:    true,
	}
	s.registry = plugins.NewRegistry(capability{s: s})
	s.restore()

	go s.run()
	return s, nil
}

// restore reuses a persisted connection url only when it belongs to the same
// session id, then records the current session in the store.
func (s *Session) restore() {
	prev, _ := s.store.Get(store.KeySessionID)
	if prev == s.details.SessionID {
		if url, ok := s.store.Get(store.KeyConnectionURL); ok {
			s.connURL = strings.TrimSpace(url)
		}
	} else {
		s.forgetURL()
	}
	s.persist(store.KeySessionID, s.details.SessionID)
	s.persist(store.KeyEnvironment, string(s.details.Environment))
}

// Registry exposes the command registry so hosts can install handlers.
func (s *Session) Registry() *plugins.Registry {
	return s.registry
}

func (s *Session) Details() session.Details {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.details
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done is closed once the worker goroutine has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start connects to the persisted url when one is known, otherwise it asks
// the presenter for pin authentication. It is a no-op while the transport is
// open or connecting.
func (s *Session) Start() {
	switch s.tr.State() {
	case transport.StateOpen, transport.StateConnecting:
		return
	}
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	if url := s.connURL; url != "" {
		s.phase = PhaseConnecting
		sid := s.details.SessionID
		s.mu.Unlock()
		log.Info().Str("session_id", sid).Msg("agent.Session.Start reconnecting to known url")
		s.presenter.OnSessionConnecting()
		s.tr.Connect(url)
		return
	}
	s.phase = PhaseAuthorizing
	details := s.details
	s.mu.Unlock()
	log.Info().Str("session_id", details.SessionID).Msg("agent.Session.Start awaiting authentication")
	s.presenter.OnSessionAuthorizing(details)
}

// Authenticate completes pin entry, derives the connection url and connects.
// Any failure is reported to the presenter and ends the session.
func (s *Session) Authenticate(pin, orgID string) error {
	s.mu.Lock()
	switch s.phase {
	case PhaseIdle, PhaseAuthorizing, PhaseDisconnected:
	case PhaseTerminated:
		s.mu.Unlock()
		return ErrSessionTerminated
	default:
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: phase=%s", ErrNotAuthorizing, phase)
	}
	details, err := s.details.WithAuth(pin, orgID)
	var url string
	if err == nil {
		url, err = details.ConnectionURL(s.endpoint)
	}
	if err == nil {
		err = s.cfg.ValidateClientTransport(url)
	}
	if err != nil {
		s.mu.Unlock()
		log.Warn().Err(err).Msg("agent.Session.Authenticate rejected")
		s.terminate(err)
		return err
	}
	s.details = details
	s.connURL = url
	s.phase = PhaseConnecting
	s.mu.Unlock()

	s.persist(store.KeyConnectionURL, url)
	log.Info().
		Str("session_id", details.SessionID).
		Str("environment", string(details.Environment)).
		Msg("agent.Session.Authenticate connecting")
	s.presenter.OnSessionConnecting()
	s.tr.Connect(url)
	return nil
}

// SendEvent queues ev for the remote peer. It never blocks on I/O; the worker
// flushes once the socket is open and the peer has asked for forwarding.
func (s *Session) SendEvent(ev event.Event) {
	s.mu.Lock()
	admit := s.admitting && s.phase != PhaseTerminated
	s.mu.Unlock()
	if !admit {
		log.Trace().Str("type", ev.Type).Msg("agent.Session.SendEvent dropped after shutdown")
		return
	}
	if evicted, dropped := s.outbound.Enqueue(ev); dropped {
		observability.RecordQueueEviction("outbound")
		log.Trace().Str("event_id", evicted.ID).Msg("agent.Session.SendEvent evicted oldest")
	}
	signal(s.outWake)
}

// Terminate ends the session for good: the transport is closed, handlers are
// told, queues and the persisted url are cleared. Repeated calls are no-ops.
func (s *Session) Terminate() {
	s.terminate(nil)
}

// ShutDown stops a session that never reached a peer. Queues are cleared and
// further events refused, but handlers are not notified and persisted state
// is kept.
func (s *Session) ShutDown() {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseTerminated
	s.canForward = false
	s.admitting = false
	s.mu.Unlock()

	s.outbound.Clear()
	s.inbound.Clear()
	s.assembler.Reset()
	s.tr.Disconnect()
	s.stopWorker()
	log.Info().Msg("agent.Session.ShutDown")
	if s.onTerminated != nil {
		s.onTerminated(s)
	}
}

func (s *Session) terminate(cause error) {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseTerminated
	s.canForward = false
	s.admitting = false
	s.connURL = ""
	sid := s.details.SessionID
	s.mu.Unlock()

	s.outbound.Clear()
	s.inbound.Clear()
	s.assembler.Reset()
	s.forgetURL()
	s.tr.Disconnect()
	s.registry.NotifyTerminated()
	s.stopWorker()

	if cause != nil {
		log.Warn().Str("session_id", sid).Err(cause).Msg("agent.Session.terminate")
		s.presenter.OnSessionConnectionError(cause)
	} else {
		log.Info().Str("session_id", sid).Msg("agent.Session.terminate")
	}
	if s.onTerminated != nil {
		s.onTerminated(s)
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		SessionID:    s.details.SessionID,
		ClientID:     s.details.ClientID,
		Environment:  string(s.details.Environment),
		Phase:        s.phase.String(),
		CanForward:   s.canForward,
		Reconnecting: s.phase == PhaseReconnecting,
	}
	s.mu.Unlock()
	st.Transport = s.tr.State().String()
	st.Outbound = s.outbound.Size()
	st.Inbound = s.inbound.Size()
	st.PendingChunks = s.assembler.Pending()
	st.Handlers = s.registry.Len()
	st.Vendors = s.registry.Vendors()
	return st
}

func (s *Session) run() {
	defer close(s.done)
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	msgs := s.tr.Messages()
	for {
		select {
		case <-s.stop:
			return
		case m := <-msgs:
			delay, retry := s.handleMessage(m)
			if !retry {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Stop()
				timer.Reset(delay)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			s.reconnect()
		case <-s.outWake:
			s.flushOutbound()
		case <-s.inWake:
			s.drainInbound()
		}
	}
}

func (s *Session) handleMessage(m transport.Message) (time.Duration, bool) {
	switch m.Kind {
	case transport.KindOpened:
		s.handleOpened()
	case transport.KindData:
		s.handleData(m.Data)
	case transport.KindError:
		log.Warn().Err(m.Err).Msg("agent.Session transport error")
	case transport.KindClosed:
		return s.handleClosed(m.Code, m.Reason)
	}
	return 0, false
}

func (s *Session) handleOpened() {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseOpen
	s.canForward = false
	s.attempt = 0
	sid := s.details.SessionID
	s.mu.Unlock()

	if err := s.write(s.identity.Event(s.factory, sid)); err != nil {
		log.Warn().Err(err).Msg("agent.Session.handleOpened identity send failed")
	}
	log.Info().Str("session_id", sid).Msg("agent.Session connected")
	s.presenter.OnSessionConnected()
}

func (s *Session) handleData(data []byte) {
	ev, err := event.Decode(data, s.factory)
	if err != nil {
		observability.RecordDroppedFrame("decode")
		log.Warn().Err(err).Int("bytes", len(data)).Msg("agent.Session.handleData dropped frame")
		return
	}
	if chunk.IsFragment(ev) {
		full, done, err := s.assembler.Add(ev)
		if err != nil {
			observability.RecordDroppedFrame("chunk")
			log.Warn().Err(err).Msg("agent.Session.handleData dropped fragment")
			return
		}
		if !done {
			return
		}
		observability.RecordStitched()
		ev = full
	}
	if ev.IsStartForwarding() {
		s.startForwarding()
		return
	}
	if s.Phase() == PhaseTerminated {
		return
	}
	if evicted, dropped := s.inbound.Enqueue(ev); dropped {
		observability.RecordQueueEviction("inbound")
		log.Trace().Str("event_id", evicted.ID).Msg("agent.Session.handleData evicted oldest")
	}
	signal(s.inWake)
}

func (s *Session) startForwarding() {
	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return
	}
	s.canForward = true
	s.phase = PhaseForwarding
	s.mu.Unlock()

	log.Info().Int("queued", s.outbound.Size()).Msg("agent.Session forwarding started")
	s.sendSnapshot()
	s.flushOutbound()
	s.registry.NotifyConnected()
}

func (s *Session) sendSnapshot() {
	snap, ok := s.bus.(Snapshotter)
	if !ok {
		return
	}
	state := snap.Snapshot()
	if state == nil {
		return
	}
	ev := s.factory.New(event.TypeGeneric, map[string]any{"kind": "state-snapshot", "state": state})
	if err := s.write(ev); err != nil {
		log.Warn().Err(err).Msg("agent.Session.sendSnapshot failed")
	}
}

// handleClosed applies the reconnect policy and reports whether a reconnect
// should be scheduled after the returned delay.
func (s *Session) handleClosed(code int, reason string) (time.Duration, bool) {
	cerr := session.ErrorForCloseCode(code, reason)

	s.mu.Lock()
	if s.phase == PhaseTerminated {
		s.mu.Unlock()
		return 0, false
	}
	s.canForward = false
	s.mu.Unlock()

	observability.RecordClosure(code, cerr.Retryable)
	s.registry.NotifyDisconnected(code)

	if code == session.CloseNormal {
		s.mu.Lock()
		s.phase = PhaseDisconnected
		s.mu.Unlock()
		log.Info().Str("reason", reason).Msg("agent.Session disconnected")
		s.presenter.OnSessionDisconnected()
		return 0, false
	}
	if !cerr.Retryable {
		s.terminate(cerr)
		return 0, false
	}

	s.mu.Lock()
	if s.connURL == "" {
		s.mu.Unlock()
		s.terminate(cerr.NonRetryable())
		return 0, false
	}
	s.phase = PhaseReconnecting
	s.attempt++
	attempt := s.attempt
	delay := s.cfg.Reconnect.Delay(attempt)
	s.mu.Unlock()

	log.Warn().
		Int("code", code).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("agent.Session abnormal closure, reconnect scheduled")
	s.presenter.OnSessionReconnecting()
	return delay, true
}

func (s *Session) reconnect() {
	s.mu.Lock()
	if s.phase != PhaseReconnecting || s.connURL == "" {
		s.mu.Unlock()
		return
	}
	url := s.connURL
	attempt := s.attempt
	s.mu.Unlock()

	observability.RecordReconnect()
	log.Info().Int("attempt", attempt).Msg("agent.Session.reconnect")
	s.presenter.OnSessionConnecting()
	s.tr.Connect(url)
}

func (s *Session) canFlush() bool {
	s.mu.Lock()
	ok := s.phase != PhaseTerminated && s.canForward
	s.mu.Unlock()
	return ok && s.tr.State() == transport.StateOpen
}

// flushOutbound writes queued events in FIFO order while the forwarding gate
// is open. An event leaves the queue only after it was written, and only if a
// producer did not evict it during the write. A failed write drops the event
// and ends the pass; the transport's error or close drives recovery.
func (s *Session) flushOutbound() {
	for s.canFlush() {
		ev, ok := s.outbound.Peek()
		if !ok {
			return
		}
		err := s.write(ev)
		if errors.Is(err, transport.ErrNotOpen) {
			return
		}
		s.outbound.DequeueIf(func(head event.Event) bool { return sameEvent(head, ev) })
		if err != nil {
			observability.RecordDroppedFrame("send")
			log.Warn().
				Err(err).
				Str("event_id", ev.ID).
				Bool(logging.LocalOnlyField, true).
				Msg("agent.Session.flushOutbound dropped event")
			return
		}
	}
}

func sameEvent(a, b event.Event) bool {
	return a.ID == b.ID && a.Sequence == b.Sequence && a.Timestamp == b.Timestamp
}

func (s *Session) drainInbound() {
	for {
		if s.Phase() == PhaseTerminated {
			return
		}
		ev, ok := s.inbound.Dequeue()
		if !ok {
			return
		}
		observability.RecordEventReceived(ev.Type)
		if n := s.registry.Dispatch(ev); n == 0 && ev.IsControl() {
			cmd, _ := ev.ControlType()
			log.Debug().Str("vendor", ev.Vendor).Str("command", cmd).Msg("agent.Session.drainInbound unhandled command")
		}
	}
}

// write sends one event, splitting it into fragments when the encoded frame
// exceeds the chunk size.
func (s *Session) write(ev event.Event) error {
	frame, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("agent: encode event: %w", err)
	}
	if len(frame) <= s.cfg.ChunkSize {
		if err := s.tr.Send(frame); err != nil {
			return err
		}
		observability.RecordEventSent(ev.Type)
		return nil
	}

	frags, err := s.chunker.Chunk(ev)
	if err != nil {
		return fmt.Errorf("agent: chunk event: %w", err)
	}
	if len(frags) == 0 {
		if err := s.tr.Send(frame); err != nil {
			return err
		}
		observability.RecordEventSent(ev.Type)
		return nil
	}
	for _, frag := range frags {
		data, err := event.Encode(frag)
		if err != nil {
			return fmt.Errorf("agent: encode fragment: %w", err)
		}
		if err := s.tr.Send(data); err != nil {
			return err
		}
	}
	observability.RecordChunksSent(len(frags))
	observability.RecordEventSent(ev.Type)
	log.Trace().Str("event_id", ev.ID).Int("fragments", len(frags)).Msg("agent.Session.write chunked")
	return nil
}

func (s *Session) persist(key, value string) {
	if err := s.store.Set(key, value); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("agent.Session persist failed")
	}
}

func (s *Session) forgetURL() {
	if err := s.store.Delete(store.KeyConnectionURL); err != nil {
		log.Warn().Err(err).Msg("agent.Session forget url failed")
	}
}

func (s *Session) stopWorker() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// capability is the handle plugin handlers receive instead of the session.
type capability struct {
	s *Session
}

func (c capability) SendEvent(ev event.Event) {
	c.s.SendEvent(ev)
}

func (c capability) NewEvent(eventType string, payload map[string]any) event.Event {
	return c.s.factory.New(eventType, payload)
}

func (c capability) SessionID() string {
	return c.s.Details().SessionID
}
