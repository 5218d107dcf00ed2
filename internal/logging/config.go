package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "DEBUGRELAY_LOG_LEVEL"
	EnvLogTimestamp = "DEBUGRELAY_LOG_TIMESTAMP"
	EnvLogNoColor   = "DEBUGRELAY_LOG_NOCOLOR"

	// LocalOnlyField marks a log line that extra writers must not mirror
	// off the host.
	LocalOnlyField = "local_only"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger configuration for one profile.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
}

var (
	configureOnce sync.Once

	writersMu sync.Mutex
	console   io.Writer = os.Stderr
	extra     []io.Writer
	active    Config
)

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		apply(cfg)
	})
}

// AddWriter attaches an extra sink to the global logger. The log-forwarding
// handler uses this to mirror local log lines to the remote peer.
func AddWriter(w io.Writer) {
	if w == nil {
		return
	}
	writersMu.Lock()
	extra = append(extra, w)
	cfg := active
	writersMu.Unlock()
	apply(cfg)
}

// RemoveWriter detaches a sink previously added with AddWriter.
func RemoveWriter(w io.Writer) {
	writersMu.Lock()
	out := extra[:0]
	for _, cur := range extra {
		if cur != w {
			out = append(out, cur)
		}
	}
	extra = out
	cfg := active
	writersMu.Unlock()
	apply(cfg)
}

func apply(cfg Config) {
	writersMu.Lock()
	defer writersMu.Unlock()
	active = cfg

	out := zerolog.ConsoleWriter{
		Out:        console,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		out.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	var w io.Writer = out
	if len(extra) > 0 {
		sinks := make([]io.Writer, 0, len(extra)+1)
		sinks = append(sinks, out)
		sinks = append(sinks, extra...)
		w = zerolog.MultiLevelWriter(sinks...)
	}
	zerolog.SetGlobalLevel(cfg.Level)
	log.Logger = zerolog.New(w).With().Timestamp().Str("app", "debugrelay").Logger()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
