package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/debugrelay/internal/testutil/testlog"
	"github.com/pelletier/go-toml/v2"
)

func TestTemplateRoundTripsDefaults(t *testing.T) {
	testlog.Start(t)
	data, err := Template()
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if !strings.HasPrefix(string(data), "# relayctl configuration\n") {
		t.Fatalf("missing header: %q", data[:40])
	}
	var got File
	if err := toml.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	want := DefaultFile()
	if got.NodeID != want.NodeID || got.GraceWindow != "30s" || got.SessionReconnectDelay != "5s" {
		t.Fatalf("unexpected template values: %+v", got)
	}
	if got.EndpointHost != "remote-debug" || got.SessionChunkSize != want.SessionChunkSize {
		t.Fatalf("unexpected endpoint/session values: %+v", got)
	}
	if len(got.CORSOrigins) != 1 || got.StorePath != DefaultStorePath {
		t.Fatalf("unexpected runtime values: %+v", got)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing file error")
	}
	if err := os.WriteFile(path, []byte("stale"), 0o600); err != nil {
		t.Fatalf("overwrite setup: %v", err)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "stale") {
		t.Fatalf("forced write kept old contents")
	}
}
