// Package config owns the relayctl TOML file schema and its template.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/danmuck/debugrelay/internal/agent"
	"github.com/pelletier/go-toml/v2"
)

// File is the on-disk relayctl configuration. Durations are Go duration
// strings.
type File struct {
	NodeID          string   `toml:"node_id"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	AdminToken      string   `toml:"admin_token"`
	CORSOrigins     []string `toml:"cors_origins"`
	GraceWindow     string   `toml:"grace_window"`
	StorePath       string   `toml:"store_path"`
	ForwardLogLevel string   `toml:"forward_log_level"`
	ScreenshotPath  string   `toml:"screenshot_path"`
	ScreenshotCmd   []string `toml:"screenshot_command"`

	AppName    string `toml:"app_name"`
	AppVersion string `toml:"app_version"`
	Device     string `toml:"device"`

	EndpointScheme string `toml:"endpoint_scheme"`
	EndpointHost   string `toml:"endpoint_host"`
	EndpointDomain string `toml:"endpoint_domain"`
	EndpointPath   string `toml:"endpoint_path"`

	SessionQueueCapacity     int     `toml:"session_queue_capacity"`
	SessionChunkSize         int     `toml:"session_chunk_size"`
	SessionHandshakeTimeout  string  `toml:"session_handshake_timeout"`
	SessionPingInterval      string  `toml:"session_ping_interval"`
	SessionReconnectDelay    string  `toml:"session_reconnect_delay"`
	SessionReconnectMaxDelay string  `toml:"session_reconnect_max_delay"`
	SessionReconnectFactor   float64 `toml:"session_reconnect_multiplier"`
	SessionReconnectJitter   bool    `toml:"session_reconnect_jitter"`
	SessionSecurityMode      string  `toml:"session_security_mode"`
	SessionTLSCAFile         string  `toml:"session_tls_ca_file"`
	SessionTLSCertFile       string  `toml:"session_tls_cert_file"`
	SessionTLSKeyFile        string  `toml:"session_tls_key_file"`
	SessionTLSServerName     string  `toml:"session_tls_server_name"`
	SessionTLSInsecure       bool    `toml:"session_tls_insecure_skip_verify"`
}

const (
	DefaultStorePath       = "relayctl.state.toml"
	DefaultForwardLogLevel = "info"
	DefaultAdminAddr       = "127.0.0.1:7040"
)

// DefaultFile renders the agent defaults in file form.
func DefaultFile() File {
	cfg := agent.DefaultConfig()
	s := cfg.Session.WithDefaults()
	return File{
		NodeID:          cfg.NodeID,
		AdminListenAddr: DefaultAdminAddr,
		CORSOrigins:     []string{"http://localhost:3000"},
		GraceWindow:     durationString(cfg.GraceWindow),
		StorePath:       DefaultStorePath,
		ForwardLogLevel: DefaultForwardLogLevel,
		ScreenshotCmd:   []string{},

		AppName: "relayctl",

		EndpointScheme: cfg.Endpoint.Scheme,
		EndpointHost:   cfg.Endpoint.Host,
		EndpointDomain: cfg.Endpoint.Domain,
		EndpointPath:   cfg.Endpoint.Path,

		SessionQueueCapacity:     s.QueueCapacity,
		SessionChunkSize:         s.ChunkSize,
		SessionHandshakeTimeout:  durationString(s.HandshakeTimeout),
		SessionPingInterval:      durationString(s.PingInterval),
		SessionReconnectDelay:    durationString(s.Reconnect.InitialDelay),
		SessionReconnectMaxDelay: durationString(s.Reconnect.MaxDelay),
		SessionReconnectFactor:   s.Reconnect.Multiplier,
		SessionReconnectJitter:   s.Reconnect.Jitter,
		SessionSecurityMode:      string(s.SecurityMode),
	}
}

// Template is DefaultFile encoded as TOML.
func Template() ([]byte, error) {
	body, err := toml.Marshal(DefaultFile())
	if err != nil {
		return nil, fmt.Errorf("config template: %w", err)
	}
	return append([]byte("# relayctl configuration\n"), body...), nil
}

// WriteTemplate writes Template to path, refusing to replace an existing file
// unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Template()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func durationString(d time.Duration) string {
	return d.String()
}
