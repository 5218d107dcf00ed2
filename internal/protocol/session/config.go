package session

import (
	"time"

	"github.com/danmuck/debugrelay/internal/protocol/chunk"
)

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig configures the secure socket dialer.
type TLSConfig struct {
	InsecureSkipVerify bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
}

// Config defines transport/session reliability defaults.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
	PingInterval     time.Duration
	ChunkSize        int
	QueueCapacity    int
	ChunkPendingTTL  time.Duration
	Reconnect        BackoffConfig
	SecurityMode     SecurityMode
	TLS              TLSConfig
}

// DefaultConfig returns the defaults the remote inspection service expects.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PongTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		ChunkSize:        chunk.DefaultSize,
		QueueCapacity:    200,
		ChunkPendingTTL:  chunk.DefaultPendingTTL,
		Reconnect: BackoffConfig{
			InitialDelay: 5 * time.Second,
			Multiplier:   1.0,
			MaxDelay:     5 * time.Second,
			Jitter:       false,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.ChunkPendingTTL <= 0 {
		c.ChunkPendingTTL = def.ChunkPendingTTL
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect = def.Reconnect
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
