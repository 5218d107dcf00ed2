package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/debugrelay/internal/agent"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/danmuck/debugrelay/internal/testutil/testlog"
	"github.com/danmuck/debugrelay/internal/tools"
	"github.com/danmuck/debugrelay/internal/transport"
	"github.com/danmuck/debugrelay/internal/transport/transporttest"
)

func TestHostConfigAndSnapshot(t *testing.T) {
	testlog.Start(t)
	h := newHost(&bytes.Buffer{})
	if err := h.Apply("theme", "dark"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := h.Apply(" ", 1); err == nil {
		t.Fatalf("expected error for empty key")
	}
	_ = h.Apply("retries", 3.0)
	if keys := h.configKeys(); len(keys) != 2 || keys[0] != "retries" || keys[1] != "theme" {
		t.Fatalf("unexpected keys %v", keys)
	}
	snap := h.Snapshot()["config"].(map[string]any)
	if snap["theme"] != "dark" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	h.Reset([]string{"theme"})
	if keys := h.configKeys(); len(keys) != 1 || keys[0] != "retries" {
		t.Fatalf("reset left %v", keys)
	}
}

func TestHostPublishWritesJSONLines(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	h := newHost(&out)
	f := event.NewFactory(nil)
	h.Publish(f.New("purchase", map[string]any{"sku": "a"}))
	h.Publish(f.New("purchase", map[string]any{"sku": "b"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out.String())
	}
	ev, err := event.Decode([]byte(lines[1]), nil)
	if err != nil || ev.Type != "purchase" || ev.Payload["sku"] != "b" {
		t.Fatalf("unexpected line %q err=%v", lines[1], err)
	}
}

func TestFileCapturerDetectsMimeType(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "screen.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, mime, err := fileCapturer{path: path}.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if mime != "image/png" || !bytes.Equal(data, png) {
		t.Fatalf("unexpected capture mime=%q len=%d", mime, len(data))
	}
	if _, _, err := (fileCapturer{path: filepath.Join(t.TempDir(), "missing.png")}).Capture(); err == nil {
		t.Fatalf("expected missing file error")
	}
}

type fakeRunner struct {
	res  tools.Result
	err  error
	argv []string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) (tools.Result, error) {
	r.argv = append([]string{name}, args...)
	return r.res, r.err
}

func TestCommandCapturerRunsProgram(t *testing.T) {
	testlog.Start(t)
	gif := []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;")
	r := &fakeRunner{res: tools.Result{Stdout: gif}}
	data, mime, err := commandCapturer{runner: r, argv: []string{"grab", "--stdout"}}.Capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if mime != "image/gif" || !bytes.Equal(data, gif) {
		t.Fatalf("unexpected capture mime=%q", mime)
	}
	if len(r.argv) != 2 || r.argv[0] != "grab" || r.argv[1] != "--stdout" {
		t.Fatalf("unexpected argv %v", r.argv)
	}

	if _, _, err := (commandCapturer{runner: &fakeRunner{}, argv: []string{"grab"}}).Capture(); err == nil {
		t.Fatalf("expected empty output error")
	}
	if _, _, err := (commandCapturer{runner: r}).Capture(); err == nil {
		t.Fatalf("expected empty command error")
	}
	failing := &fakeRunner{res: tools.Result{ExitCode: 2}, err: errors.New("exit status 2")}
	if _, _, err := (commandCapturer{runner: failing, argv: []string{"grab"}}).Capture(); err == nil {
		t.Fatalf("expected runner error")
	}
}

func TestFeedEventsQueuesValidLines(t *testing.T) {
	testlog.Start(t)
	o, err := agent.New(agent.DefaultConfig(), agent.Options{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	input := strings.Join([]string{
		`{"type":"screen-view","payload":{"name":"home"}}`,
		`# comment`,
		``,
		`{"type":"custom","vendor":"web"}`,
		`not json`,
		`{"payload":{"missing":"type"}}`,
	}, "\n")
	n, err := feedEvents(context.Background(), strings.NewReader(input), o)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if n != 2 || o.Status().Buffered != 2 {
		t.Fatalf("queued=%d buffered=%d", n, o.Status().Buffered)
	}
}

func TestConnectResumesStoredSessionAndAuthenticates(t *testing.T) {
	testlog.Start(t)
	st := store.NewMemoryStore()
	_ = st.Set(store.KeySessionID, "stored-1")
	_ = st.Set(store.KeyEnvironment, "dev")
	tr := transporttest.New()
	o, err := agent.New(agent.DefaultConfig(), agent.Options{
		Store: st,
		Transports: func(session.Config) (transport.Transport, error) {
			return tr, nil
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	if err := connect(o, st, options{pin: "1234", org: "org-1"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := o.Session()
	if s == nil || s.Details().SessionID != "stored-1" || s.Details().Environment != session.EnvDev {
		t.Fatalf("stored session not resumed")
	}
	if s.Phase() != agent.PhaseConnecting || len(tr.Connects()) != 1 {
		t.Fatalf("expected connect after pin, phase=%s connects=%d", s.Phase(), len(tr.Connects()))
	}
}

func TestConnectWithoutSessionWaits(t *testing.T) {
	testlog.Start(t)
	st := store.NewMemoryStore()
	o, err := agent.New(agent.DefaultConfig(), agent.Options{Store: st})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)
	if err := connect(o, st, options{}); err != nil || o.Session() != nil {
		t.Fatalf("expected no session, err=%v", err)
	}
	if err := connect(o, st, options{deepLink: "relay://debug?env=qa"}); err == nil {
		t.Fatalf("expected deep link without session id to fail")
	}
}
