// Package peer runs an in-process remote inspection endpoint for tests.
package peer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Peer accepts one websocket at a time and records every frame it receives.
type Peer struct {
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	received [][]byte
	queries  []string
	accepted chan struct{}
	frames   chan []byte
}

func New() *Peer {
	p := newPeer()
	p.srv = httptest.NewServer(http.HandlerFunc(p.handle))
	return p
}

// NewTLS serves wss:// with the given certificate. A non-empty clientCAFile
// requires clients to present a certificate signed by it.
func NewTLS(certFile, keyFile, clientCAFile string) (*Peer, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if clientCAFile != "" {
		pemData, err := os.ReadFile(clientCAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("peer: no certificates in %s", clientCAFile)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	p := newPeer()
	p.srv = httptest.NewUnstartedServer(http.HandlerFunc(p.handle))
	p.srv.TLS = cfg
	p.srv.StartTLS()
	return p, nil
}

func newPeer() *Peer {
	return &Peer{
		accepted: make(chan struct{}, 16),
		frames:   make(chan []byte, 256),
	}
}

// URL returns the ws:// or wss:// address of the peer with path and query
// appended.
func (p *Peer) URL(pathAndQuery string) string {
	if rest, ok := strings.CutPrefix(p.srv.URL, "https"); ok {
		return "wss" + rest + pathAndQuery
	}
	return "ws" + strings.TrimPrefix(p.srv.URL, "http") + pathAndQuery
}

func (p *Peer) Close() {
	p.mu.Lock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.mu.Unlock()
	p.srv.Close()
}

func (p *Peer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn = conn
	p.queries = append(p.queries, r.URL.RawQuery)
	p.mu.Unlock()
	p.accepted <- struct{}{}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.received = append(p.received, data)
		p.mu.Unlock()
		select {
		case p.frames <- data:
		default:
		}
	}
}

// WaitAccepted blocks until a client connects or the timeout elapses.
func (p *Peer) WaitAccepted(timeout time.Duration) bool {
	select {
	case <-p.accepted:
		return true
	case <-time.After(timeout):
		return false
	}
}

// NextFrame returns the next frame received from the client.
func (p *Peer) NextFrame(timeout time.Duration) ([]byte, bool) {
	select {
	case data := <-p.frames:
		return data, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Send writes one text frame to the connected client.
func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return websocket.ErrCloseSent
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// CloseWith sends a close frame carrying code and drops the connection.
func (p *Peer) CloseWith(code int, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return websocket.ErrCloseSent
	}
	err := p.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	_ = p.conn.Close()
	p.conn = nil
	return err
}

// Drop closes the TCP connection without a close frame.
func (p *Peer) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.UnderlyingConn().Close()
		p.conn = nil
	}
}

func (p *Peer) Received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.received))
	copy(out, p.received)
	return out
}

func (p *Peer) Queries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.queries...)
}
