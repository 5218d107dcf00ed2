package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/debugrelay/internal/agent"
	"github.com/danmuck/debugrelay/internal/protocol/event"
	"github.com/danmuck/debugrelay/internal/protocol/session"
	"github.com/danmuck/debugrelay/internal/tools"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// host stands in for the application relayctl is embedded in: a flat runtime
// config that remote config-update commands act on, and an event bus that
// prints published events as JSON lines.
type host struct {
	mu     sync.Mutex
	config map[string]any
	out    io.Writer
}

func newHost(out io.Writer) *host {
	return &host{config: make(map[string]any), out: out}
}

func (h *host) Apply(key string, value any) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("relayctl: empty config key")
	}
	h.mu.Lock()
	h.config[key] = value
	h.mu.Unlock()
	log.Info().Str("key", key).Interface("value", value).Msg("relayctl.host.Apply")
	return nil
}

func (h *host) Reset(keys []string) {
	h.mu.Lock()
	for _, k := range keys {
		delete(h.config, k)
	}
	h.mu.Unlock()
	log.Info().Strs("keys", keys).Msg("relayctl.host.Reset")
}

func (h *host) Publish(ev event.Event) {
	data, err := event.Encode(ev)
	if err != nil {
		log.Warn().Err(err).Str("type", ev.Type).Msg("relayctl.host.Publish encode failed")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := fmt.Fprintf(h.out, "%s\n", data); err != nil {
		log.Warn().Err(err).Msg("relayctl.host.Publish write failed")
	}
}

// Snapshot reports the current runtime config overrides.
func (h *host) Snapshot() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	cfg := make(map[string]any, len(h.config))
	for k, v := range h.config {
		cfg[k] = v
	}
	return map[string]any{"config": cfg}
}

func (h *host) configKeys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.config))
	for k := range h.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fileCapturer serves screenshot requests from an image on disk.
type fileCapturer struct {
	path string
}

func (c fileCapturer) Capture() ([]byte, string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, "", fmt.Errorf("relayctl: read screenshot: %w", err)
	}
	return data, mimetype.Detect(data).String(), nil
}

const captureTimeout = 10 * time.Second

// commandCapturer serves screenshot requests from a program that writes an
// image to stdout.
type commandCapturer struct {
	runner tools.CommandRunner
	argv   []string
}

func (c commandCapturer) Capture() ([]byte, string, error) {
	if len(c.argv) == 0 {
		return nil, "", fmt.Errorf("relayctl: empty screenshot command")
	}
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()
	res, err := c.runner.Run(ctx, c.argv[0], c.argv[1:]...)
	if err != nil {
		return nil, "", err
	}
	if len(res.Stdout) == 0 {
		return nil, "", fmt.Errorf("relayctl: screenshot command produced no output")
	}
	return res.Stdout, mimetype.Detect(res.Stdout).String(), nil
}

// logPresenter reports session progress through the logger.
type logPresenter struct {
	failed chan error
}

func newLogPresenter() *logPresenter {
	return &logPresenter{failed: make(chan error, 1)}
}

func (p *logPresenter) OnSessionAuthorizing(d session.Details) {
	log.Info().
		Str("session_id", d.SessionID).
		Str("environment", string(d.Environment)).
		Msg("relayctl session awaiting pin (-pin, -org)")
}

func (p *logPresenter) OnSessionConnecting()   { log.Info().Msg("relayctl session connecting") }
func (p *logPresenter) OnSessionConnected()    { log.Info().Msg("relayctl session forwarding") }
func (p *logPresenter) OnSessionReconnecting() { log.Warn().Msg("relayctl session reconnecting") }
func (p *logPresenter) OnSessionDisconnected() { log.Info().Msg("relayctl session disconnected") }

func (p *logPresenter) OnSessionConnectionError(err error) {
	log.Error().Err(err).Msg("relayctl session ended")
	select {
	case p.failed <- err:
	default:
	}
}

// feedLine is one host event read from the input stream.
type feedLine struct {
	Type    string         `json:"type"`
	Vendor  string         `json:"vendor"`
	Payload map[string]any `json:"payload"`
}

// feedEvents queues one host event per JSON line of r until r is exhausted or
// ctx is done. Malformed lines are logged and skipped.
func feedEvents(ctx context.Context, r io.Reader, o *agent.Orchestrator) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	queued := 0
	for sc.Scan() {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var in feedLine
		if err := json.Unmarshal([]byte(line), &in); err != nil {
			log.Warn().Err(err).Msg("relayctl.feedEvents skipped malformed line")
			continue
		}
		if strings.TrimSpace(in.Type) == "" {
			log.Warn().Msg("relayctl.feedEvents skipped line without type")
			continue
		}
		vendor := strings.TrimSpace(in.Vendor)
		if vendor == "" {
			vendor = event.DefaultVendor
		}
		o.QueueEvent(o.Factory().NewWithVendor(vendor, in.Type, in.Payload))
		queued++
	}
	return queued, sc.Err()
}
