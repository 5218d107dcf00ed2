package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/testutil/peer"
	"github.com/danmuck/debugrelay/internal/testutil/testlog"
)

const waitTimeout = 3 * time.Second

func nextMessage(t *testing.T, tr *WSTransport) Message {
	t.Helper()
	select {
	case m := <-tr.Messages():
		return m
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for transport message")
		return Message{}
	}
}

func openTransport(t *testing.T) (*WSTransport, *peer.Peer) {
	t.Helper()
	p := peer.New()
	t.Cleanup(p.Close)

	tr := NewWSTransport(Options{PingInterval: time.Hour})
	t.Cleanup(tr.Disconnect)
	tr.Connect(p.URL("/socket?sessionId=abc"))
	if !p.WaitAccepted(waitTimeout) {
		t.Fatalf("peer never accepted a connection")
	}
	if m := nextMessage(t, tr); m.Kind != KindOpened {
		t.Fatalf("expected opened, got %v", m.Kind)
	}
	if tr.State() != StateOpen {
		t.Fatalf("expected OPEN state, got %v", tr.State())
	}
	return tr, p
}

func TestWSTransportSendAndReceive(t *testing.T) {
	testlog.Start(t)
	tr, p := openTransport(t)

	if err := tr.Send([]byte(`{"type":"generic"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, ok := p.NextFrame(waitTimeout)
	if !ok || string(got) != `{"type":"generic"}` {
		t.Fatalf("peer got %q ok=%v", got, ok)
	}

	if err := p.Send([]byte(`{"type":"control"}`)); err != nil {
		t.Fatalf("peer send: %v", err)
	}
	m := nextMessage(t, tr)
	if m.Kind != KindData || string(m.Data) != `{"type":"control"}` {
		t.Fatalf("unexpected message %+v", m)
	}
	if q := p.Queries(); len(q) != 1 || q[0] != "sessionId=abc" {
		t.Fatalf("unexpected handshake queries %v", q)
	}
}

func TestWSTransportPeerCloseCodeIsReported(t *testing.T) {
	testlog.Start(t)
	tr, p := openTransport(t)

	if err := p.CloseWith(session.CloseOrgMismatch, "org mismatch"); err != nil {
		t.Fatalf("peer close: %v", err)
	}
	m := nextMessage(t, tr)
	if m.Kind != KindClosed {
		t.Fatalf("expected closed, got %v", m.Kind)
	}
	if m.Code != session.CloseOrgMismatch || !m.Clean {
		t.Fatalf("unexpected close %+v", m)
	}
	if tr.State() != StateClosed {
		t.Fatalf("expected CLOSED state, got %v", tr.State())
	}
	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestWSTransportAbruptDropIsAbnormal(t *testing.T) {
	testlog.Start(t)
	tr, p := openTransport(t)

	p.Drop()
	m := nextMessage(t, tr)
	if m.Kind != KindClosed {
		t.Fatalf("expected closed, got %v", m.Kind)
	}
	if m.Code != session.CloseAbnormal || m.Clean {
		t.Fatalf("expected unclean 1006, got %+v", m)
	}
}

func TestWSTransportDisconnectEmitsNormalClosure(t *testing.T) {
	testlog.Start(t)
	tr, _ := openTransport(t)

	tr.Disconnect()
	m := nextMessage(t, tr)
	if m.Kind != KindClosed || m.Code != session.CloseNormal || !m.Clean {
		t.Fatalf("unexpected disconnect message %+v", m)
	}
	if tr.State() != StateClosed {
		t.Fatalf("expected CLOSED state, got %v", tr.State())
	}
}

func TestWSTransportDialFailureReportsErrorThenClose(t *testing.T) {
	testlog.Start(t)
	p := peer.New()
	url := p.URL("/socket")
	p.Close()

	tr := NewWSTransport(Options{HandshakeTimeout: time.Second})
	tr.Connect(url)

	if m := nextMessage(t, tr); m.Kind != KindError || m.Err == nil {
		t.Fatalf("expected error message, got %+v", m)
	}
	m := nextMessage(t, tr)
	if m.Kind != KindClosed || m.Code != session.CloseAbnormal {
		t.Fatalf("expected abnormal close, got %+v", m)
	}
	if tr.State() != StateClosed {
		t.Fatalf("expected CLOSED state, got %v", tr.State())
	}
}

func TestWSTransportSendBeforeConnect(t *testing.T) {
	testlog.Start(t)
	tr := NewWSTransport(Options{})
	if err := tr.Send([]byte("x")); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if tr.State() != StateUnknown {
		t.Fatalf("expected UNKNOWN state, got %v", tr.State())
	}
}

func TestOptionsFromConfigRejectsBadTLS(t *testing.T) {
	testlog.Start(t)
	cfg := session.DefaultConfig()
	cfg.TLS.CertFile = "client.pem"
	if _, err := OptionsFromConfig(cfg); err == nil {
		t.Fatalf("expected error for cert without key")
	}

	opts, err := OptionsFromConfig(session.DefaultConfig())
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if opts.PingInterval != 30*time.Second || opts.TLS != nil {
		t.Fatalf("unexpected default options %+v", opts)
	}
}
