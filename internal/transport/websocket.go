package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const messageBuffer = 64

// Options configures the WebSocket transport.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	TLS              *tls.Config
	Header           http.Header
}

// OptionsFromConfig derives transport options from session reliability config.
func OptionsFromConfig(cfg session.Config) (Options, error) {
	cfg = cfg.WithDefaults()
	tlsCfg, err := cfg.ClientTLSConfig()
	if err != nil {
		return Options{}, err
	}
	return Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		PongTimeout:      cfg.PongTimeout,
		PingInterval:     cfg.PingInterval,
		TLS:              tlsCfg,
	}, nil
}

// WSTransport adapts a gorilla websocket connection to the Transport contract.
type WSTransport struct {
	opts  Options
	state atomic.Int32
	msgs  chan Message

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	gen    uint64

	writeMu sync.Mutex // serialises all conn writes (data, ping, close)
}

var _ Transport = (*WSTransport)(nil)

func NewWSTransport(opts Options) *WSTransport {
	def := session.DefaultConfig()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = def.PongTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	return &WSTransport{
		opts: opts,
		msgs: make(chan Message, messageBuffer),
	}
}

func (t *WSTransport) Messages() <-chan Message {
	return t.msgs
}

func (t *WSTransport) State() State {
	return State(t.state.Load())
}

// Connect starts dialing url in the background. It is a no-op while a
// connection is already open or in progress.
func (t *WSTransport) Connect(url string) {
	t.mu.Lock()
	switch t.State() {
	case StateConnecting, StateOpen:
		t.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.gen++
	gen := t.gen
	t.cancel = cancel
	t.state.Store(int32(StateConnecting))
	t.mu.Unlock()

	go t.run(ctx, gen, url)
}

// Disconnect closes the connection with a normal-closure frame.
func (t *WSTransport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	cancel := t.cancel
	prev := t.State()
	t.conn = nil
	t.cancel = nil
	t.gen++
	if conn == nil && cancel == nil && (prev == StateClosed || prev == StateUnknown) {
		t.mu.Unlock()
		return
	}
	t.state.Store(int32(StateClosing))
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(t.opts.WriteTimeout),
		)
		t.writeMu.Unlock()
		_ = conn.Close()
	}
	t.state.Store(int32(StateClosed))

	select {
	case t.msgs <- Message{Kind: KindClosed, Code: session.CloseNormal, Reason: "client disconnect", Clean: true}:
	default:
	}
}

// Send writes one text frame. It fails with ErrNotOpen unless the socket is open.
func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || t.State() != StateOpen {
		return ErrNotOpen
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WSTransport) run(ctx context.Context, gen uint64, url string) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.HandshakeTimeout,
		TLSClientConfig:  t.opts.TLS,
	}
	conn, _, err := dialer.DialContext(ctx, url, t.opts.Header)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("transport.WSTransport.run dial failed")
		if !t.setStateIf(gen, StateClosed) {
			return
		}
		t.emit(ctx, Message{Kind: KindError, Err: err})
		t.emit(ctx, Message{Kind: KindClosed, Code: session.CloseAbnormal, Reason: err.Error()})
		return
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.state.Store(int32(StateOpen))
	t.mu.Unlock()

	t.emit(ctx, Message{Kind: KindOpened})
	go t.pingLoop(ctx, conn)
	t.readLoop(ctx, gen, conn)
}

func (t *WSTransport) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(t.opts.PongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			code, reason, clean := closeDetails(err)
			t.mu.Lock()
			current := t.gen == gen
			if current {
				t.conn = nil
				t.state.Store(int32(StateClosed))
			}
			t.mu.Unlock()
			_ = conn.Close()
			if !current {
				return
			}
			log.Debug().Int("code", code).Bool("clean", clean).Err(err).Msg("transport.WSTransport.readLoop closed")
			t.emit(ctx, Message{Kind: KindClosed, Code: code, Reason: reason, Clean: clean})
			return
		}
		t.emit(ctx, Message{Kind: KindData, Data: data})
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or a ping write fails.
func (t *WSTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.opts.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *WSTransport) setStateIf(gen uint64, s State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return false
	}
	t.state.Store(int32(s))
	return true
}

func (t *WSTransport) emit(ctx context.Context, m Message) {
	select {
	case t.msgs <- m:
	case <-ctx.Done():
	}
}

func closeDetails(err error) (int, string, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, ce.Code != websocket.CloseAbnormalClosure
	}
	return session.CloseAbnormal, err.Error(), false
}
