package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/debugrelay/internal/config"
	"github.com/danmuck/debugrelay/internal/protocol/chunk"
	"github.com/danmuck/debugrelay/internal/protocol/session"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRuntimeConfigDefaultsWithoutPath(t *testing.T) {
	cfg, err := loadRuntimeConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.NodeID != "relay.local" || cfg.Agent.GraceWindow != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg.Agent)
	}
	if cfg.Agent.Session.ChunkSize != chunk.DefaultSize || cfg.Agent.Session.Reconnect.InitialDelay != 5*time.Second {
		t.Fatalf("unexpected session defaults: %+v", cfg.Agent.Session)
	}
	if cfg.StorePath != "relayctl.state.toml" || cfg.ForwardLogLevel != "info" {
		t.Fatalf("unexpected runtime defaults: %+v", cfg)
	}
}

func TestLoadRuntimeConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
node_id = "relay.alpha"
admin_listen_addr = "127.0.0.1:7040"
cors_origins = [" http://localhost:5173 ", ""]
grace_window = "5s"
store_path = "/var/lib/relayctl/state.toml"
forward_log_level = "warn"
app_name = "demo"
app_version = "2.0.0"
endpoint_scheme = "ws"
endpoint_host = "127.0.0.1:9000"
endpoint_domain = ""
endpoint_path = "/debug"
session_queue_capacity = 50
session_chunk_size = 1024
session_reconnect_delay = "250ms"
session_reconnect_multiplier = 2.0
session_security_mode = "production"
session_tls_ca_file = "/etc/relayctl/ca.crt"
`)
	cfg, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.NodeID != "relay.alpha" || cfg.Agent.AdminAddr != "127.0.0.1:7040" {
		t.Fatalf("unexpected agent config: %+v", cfg.Agent)
	}
	if len(cfg.Agent.CORSOrigins) != 1 || cfg.Agent.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected cors origins: %v", cfg.Agent.CORSOrigins)
	}
	if cfg.Agent.GraceWindow != 5*time.Second {
		t.Fatalf("unexpected grace window: %s", cfg.Agent.GraceWindow)
	}
	if cfg.StorePath != "/var/lib/relayctl/state.toml" || cfg.ForwardLogLevel != "warn" {
		t.Fatalf("unexpected runtime config: %+v", cfg)
	}
	if cfg.Agent.Identity.AppName != "demo" || cfg.Agent.Identity.AppVersion != "2.0.0" {
		t.Fatalf("unexpected identity: %+v", cfg.Agent.Identity)
	}
	ep := cfg.Agent.Endpoint
	if ep.Scheme != "ws" || ep.Host != "127.0.0.1:9000" || ep.Domain != "" || ep.Path != "/debug" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
	s := cfg.Agent.Session
	if s.QueueCapacity != 50 || s.ChunkSize != 1024 {
		t.Fatalf("unexpected session sizes: %+v", s)
	}
	if s.Reconnect.InitialDelay != 250*time.Millisecond || s.Reconnect.MaxDelay != 5*time.Second || s.Reconnect.Multiplier != 2.0 {
		t.Fatalf("unexpected reconnect: %+v", s.Reconnect)
	}
	if s.SecurityMode != session.SecurityModeProduction || s.TLS.CAFile != "/etc/relayctl/ca.crt" {
		t.Fatalf("unexpected security: mode=%q tls=%+v", s.SecurityMode, s.TLS)
	}
}

func TestLoadRuntimeConfigRaisesMaxDelayToInitial(t *testing.T) {
	path := writeConfig(t, `session_reconnect_delay = "20s"`)
	cfg, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.Session.Reconnect.MaxDelay != 20*time.Second {
		t.Fatalf("max delay not raised: %s", cfg.Agent.Session.Reconnect.MaxDelay)
	}
}

func TestLoadRuntimeConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad duration":  `grace_window = "soon"`,
		"negative":      `session_ping_interval = "-1s"`,
		"zero capacity": `session_queue_capacity = 0`,
		"zero chunk":    `session_chunk_size = 0`,
		"security mode": `session_security_mode = "paranoid"`,
		"unknown key":   `reconnect_forever = true`,
		"syntax":        `node_id = `,
		"two capturers": "screenshot_path = \"a.png\"\nscreenshot_command = [\"cat\", \"a.png\"]",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadRuntimeConfig(writeConfig(t, content)); err == nil {
				t.Fatalf("expected error for %q", content)
			}
		})
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := loadRuntimeConfig("relayctl.example.toml")
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Agent.AdminAddr == "" || cfg.Agent.Endpoint.Host != "remote-debug" {
		t.Fatalf("unexpected example config: %+v", cfg.Agent)
	}
}

func TestTemplateLoadsAsDefaults(t *testing.T) {
	data, err := config.Template()
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	cfg, err := loadRuntimeConfig(writeConfig(t, string(data)))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def, _ := loadRuntimeConfig("")
	if cfg.Agent.NodeID != def.Agent.NodeID || cfg.Agent.GraceWindow != def.Agent.GraceWindow {
		t.Fatalf("template agent config differs: %+v", cfg.Agent)
	}
	if cfg.Agent.Session.Reconnect != def.Agent.Session.Reconnect || cfg.Agent.Session.ChunkSize != def.Agent.Session.ChunkSize {
		t.Fatalf("template session config differs: %+v", cfg.Agent.Session)
	}
	if cfg.Agent.Endpoint != def.Agent.Endpoint || cfg.Agent.Identity.AppName != "relayctl" {
		t.Fatalf("template endpoint/identity differs: %+v %+v", cfg.Agent.Endpoint, cfg.Agent.Identity)
	}
	if cfg.Agent.AdminAddr != config.DefaultAdminAddr || cfg.Agent.AdminToken != "" || len(cfg.ScreenshotCmd) != 0 {
		t.Fatalf("template runtime config differs: %+v", cfg)
	}
}

func TestLoadRuntimeConfigAdminTokenAndCommand(t *testing.T) {
	path := writeConfig(t, `
admin_token = " s3cret "
screenshot_command = ["import", " ", "png:-"]
`)
	cfg, err := loadRuntimeConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.AdminToken != "s3cret" {
		t.Fatalf("unexpected admin token %q", cfg.Agent.AdminToken)
	}
	if len(cfg.ScreenshotCmd) != 2 || cfg.ScreenshotCmd[1] != "png:-" {
		t.Fatalf("unexpected screenshot command %v", cfg.ScreenshotCmd)
	}
}
