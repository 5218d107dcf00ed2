package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/debugrelay/internal/agent"
	"github.com/danmuck/debugrelay/internal/config"
	"github.com/danmuck/debugrelay/internal/protocol/session"
)

// runtimeConfig is the resolved relayctl configuration.
type runtimeConfig struct {
	Agent           agent.Config
	StorePath       string
	ForwardLogLevel string
	ScreenshotPath  string
	ScreenshotCmd   []string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{
		Agent:           defaultAgentConfig(),
		StorePath:       config.DefaultStorePath,
		ForwardLogLevel: config.DefaultForwardLogLevel,
	}
}

// relayctl loader for TOML config with default overlay. An empty path yields
// the defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if strings.TrimSpace(path) == "" {
		cfg.Agent.Session = cfg.Agent.Session.WithDefaults()
		return cfg, nil
	}

	var raw config.File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load relayctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load relayctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("node_id") {
		if id := strings.TrimSpace(raw.NodeID); id != "" {
			cfg.Agent.NodeID = id
		}
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Agent.AdminAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Agent.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Agent.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("grace_window") {
		d, err := parseDuration("grace_window", raw.GraceWindow)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Agent.GraceWindow = d
	}
	if meta.IsDefined("store_path") {
		cfg.StorePath = strings.TrimSpace(raw.StorePath)
	}
	if meta.IsDefined("forward_log_level") {
		cfg.ForwardLogLevel = strings.TrimSpace(raw.ForwardLogLevel)
	}
	if meta.IsDefined("screenshot_path") {
		cfg.ScreenshotPath = strings.TrimSpace(raw.ScreenshotPath)
	}
	if meta.IsDefined("screenshot_command") {
		cfg.ScreenshotCmd = normalizeList(raw.ScreenshotCmd)
	}
	if cfg.ScreenshotPath != "" && len(cfg.ScreenshotCmd) > 0 {
		return runtimeConfig{}, fmt.Errorf("load relayctl config: screenshot_path and screenshot_command are exclusive")
	}

	if meta.IsDefined("app_name") {
		cfg.Agent.Identity.AppName = strings.TrimSpace(raw.AppName)
	}
	if meta.IsDefined("app_version") {
		cfg.Agent.Identity.AppVersion = strings.TrimSpace(raw.AppVersion)
	}
	if meta.IsDefined("device") {
		cfg.Agent.Identity.Device = strings.TrimSpace(raw.Device)
	}

	if meta.IsDefined("endpoint_scheme") {
		cfg.Agent.Endpoint.Scheme = strings.TrimSpace(raw.EndpointScheme)
	}
	if meta.IsDefined("endpoint_host") {
		cfg.Agent.Endpoint.Host = strings.TrimSpace(raw.EndpointHost)
	}
	if meta.IsDefined("endpoint_domain") {
		cfg.Agent.Endpoint.Domain = strings.TrimSpace(raw.EndpointDomain)
	}
	if meta.IsDefined("endpoint_path") {
		cfg.Agent.Endpoint.Path = strings.TrimSpace(raw.EndpointPath)
	}

	s := &cfg.Agent.Session
	if meta.IsDefined("session_queue_capacity") {
		if raw.SessionQueueCapacity <= 0 {
			return runtimeConfig{}, fmt.Errorf("load relayctl config: session_queue_capacity must be positive")
		}
		s.QueueCapacity = raw.SessionQueueCapacity
	}
	if meta.IsDefined("session_chunk_size") {
		if raw.SessionChunkSize <= 0 {
			return runtimeConfig{}, fmt.Errorf("load relayctl config: session_chunk_size must be positive")
		}
		s.ChunkSize = raw.SessionChunkSize
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"session_handshake_timeout", raw.SessionHandshakeTimeout, &s.HandshakeTimeout},
		{"session_ping_interval", raw.SessionPingInterval, &s.PingInterval},
		{"session_reconnect_delay", raw.SessionReconnectDelay, &s.Reconnect.InitialDelay},
		{"session_reconnect_max_delay", raw.SessionReconnectMaxDelay, &s.Reconnect.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return runtimeConfig{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("session_reconnect_delay") && !meta.IsDefined("session_reconnect_max_delay") &&
		s.Reconnect.MaxDelay < s.Reconnect.InitialDelay {
		s.Reconnect.MaxDelay = s.Reconnect.InitialDelay
	}
	if meta.IsDefined("session_reconnect_multiplier") {
		s.Reconnect.Multiplier = raw.SessionReconnectFactor
	}
	if meta.IsDefined("session_reconnect_jitter") {
		s.Reconnect.Jitter = raw.SessionReconnectJitter
	}
	if meta.IsDefined("session_security_mode") {
		s.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SessionSecurityMode))
	}
	if meta.IsDefined("session_tls_ca_file") {
		s.TLS.CAFile = strings.TrimSpace(raw.SessionTLSCAFile)
	}
	if meta.IsDefined("session_tls_cert_file") {
		s.TLS.CertFile = strings.TrimSpace(raw.SessionTLSCertFile)
	}
	if meta.IsDefined("session_tls_key_file") {
		s.TLS.KeyFile = strings.TrimSpace(raw.SessionTLSKeyFile)
	}
	if meta.IsDefined("session_tls_server_name") {
		s.TLS.ServerName = strings.TrimSpace(raw.SessionTLSServerName)
	}
	if meta.IsDefined("session_tls_insecure_skip_verify") {
		s.TLS.InsecureSkipVerify = raw.SessionTLSInsecure
	}

	cfg.Agent.Session = cfg.Agent.Session.WithDefaults()
	switch cfg.Agent.Session.SecurityMode {
	case session.SecurityModeDevelopment, session.SecurityModeProduction:
	default:
		return runtimeConfig{}, fmt.Errorf(
			"load relayctl config: unsupported session_security_mode %q (expected development or production)",
			raw.SessionSecurityMode,
		)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func defaultAgentConfig() agent.Config {
	cfg := agent.DefaultConfig()
	cfg.Identity.AppName = config.DefaultFile().AppName
	return cfg
}
