package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/debugrelay/internal/agent"
	"github.com/danmuck/debugrelay/internal/config"
	"github.com/danmuck/debugrelay/internal/logging"
	"github.com/danmuck/debugrelay/internal/plugins"
	"github.com/danmuck/debugrelay/internal/plugins/builtin"
	"github.com/danmuck/debugrelay/internal/store"
	"github.com/danmuck/debugrelay/internal/tools"
	"github.com/rs/zerolog/log"
)

type options struct {
	configPath string
	deepLink   string
	sessionID  string
	env        string
	pin        string
	org        string
	storePath  string
	adminAddr  string
	screenshot string
	noStdin    bool
	writeTo    string
	force      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to relayctl TOML config (defaults when empty)")
	flag.StringVar(&opts.deepLink, "deeplink", "", "session deep link, e.g. relay://debug?sessionId=abc&env=qa")
	flag.StringVar(&opts.sessionID, "session", "", "quick-connect session id")
	flag.StringVar(&opts.env, "env", "", "quick-connect environment: prod | qa | stage | dev")
	flag.StringVar(&opts.pin, "pin", "", "pin code for the session")
	flag.StringVar(&opts.org, "org", "", "organization id for the session")
	flag.StringVar(&opts.storePath, "store", "", "state file path (overrides config)")
	flag.StringVar(&opts.adminAddr, "admin", "", "admin listen address (overrides config)")
	flag.StringVar(&opts.screenshot, "screenshot", "", "image served to screenshot commands (overrides config)")
	flag.BoolVar(&opts.noStdin, "no-stdin", false, "do not read host events from stdin")
	flag.StringVar(&opts.writeTo, "write-config", "", "write a default config template to this path and exit")
	flag.BoolVar(&opts.force, "force", false, "overwrite an existing file with -write-config")
	flag.Parse()

	logging.ConfigureRuntime()
	if opts.writeTo != "" {
		if err := config.WriteTemplate(opts.writeTo, opts.force); err != nil {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", opts.writeTo).Msg("relayctl wrote config template")
		return
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := loadRuntimeConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.storePath != "" {
		cfg.StorePath = opts.storePath
	}
	if opts.adminAddr != "" {
		cfg.Agent.AdminAddr = opts.adminAddr
	}
	if opts.screenshot != "" {
		cfg.ScreenshotPath = opts.screenshot
		cfg.ScreenshotCmd = nil
	}

	var st store.Store = store.NewMemoryStore()
	if cfg.StorePath != "" {
		fs, err := store.OpenFileStore(cfg.StorePath)
		if err != nil {
			return err
		}
		st = fs
	}

	h := newHost(os.Stdout)
	presenter := newLogPresenter()
	deps := builtin.Deps{
		Config:   h,
		Store:    st,
		Bus:      h,
		LogLevel: cfg.ForwardLogLevel,
	}
	switch {
	case cfg.ScreenshotPath != "":
		deps.Capturer = fileCapturer{path: cfg.ScreenshotPath}
	case len(cfg.ScreenshotCmd) > 0:
		deps.Capturer = commandCapturer{runner: tools.ExecRunner{}, argv: cfg.ScreenshotCmd}
	}

	o, err := agent.New(cfg.Agent, agent.Options{
		Store:     st,
		Presenter: presenter,
		Bus:       h,
		Handlers: func(reg *plugins.Registry) error {
			_, err := builtin.Register(reg, deps)
			return err
		},
	})
	if err != nil {
		return err
	}
	defer o.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := strings.TrimSpace(cfg.Agent.AdminAddr); addr != "" {
		go func() {
			if err := o.ServeAdmin(ctx, addr); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("relayctl admin server stopped")
			}
		}()
	}

	o.StartGraceWindow(cfg.Agent.GraceWindow)
	if err := connect(o, st, opts); err != nil {
		return err
	}

	if !opts.noStdin {
		go func() {
			n, err := feedEvents(ctx, os.Stdin, o)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("relayctl stdin feed stopped")
			}
			log.Debug().Int("events", n).Msg("relayctl stdin feed drained")
		}()
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relayctl shutting down")
			return nil
		case err := <-presenter.failed:
			return err
		case <-ticker.C:
			if o.IsShutDown() {
				log.Info().Msg("relayctl no session before grace window, exiting")
				return nil
			}
		}
	}
}

// connect starts a session from the flags, or resumes the one recorded in the
// state file when no session flags are given.
func connect(o *agent.Orchestrator, st store.Store, opts options) error {
	var err error
	switch {
	case strings.TrimSpace(opts.deepLink) != "":
		_, _, err = o.HandleDeepLink(opts.deepLink)
	case strings.TrimSpace(opts.sessionID) != "":
		_, _, err = o.QuickConnect(opts.sessionID, opts.env)
	default:
		sid, ok := st.Get(store.KeySessionID)
		if !ok || strings.TrimSpace(sid) == "" {
			log.Info().Msg("relayctl waiting for a session (-deeplink or -session)")
			return nil
		}
		env, _ := st.Get(store.KeyEnvironment)
		log.Info().Str("session_id", sid).Msg("relayctl resuming stored session")
		_, _, err = o.QuickConnect(sid, env)
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(opts.pin) == "" {
		return nil
	}
	s := o.Session()
	if s == nil || s.Phase() != agent.PhaseAuthorizing {
		return nil
	}
	return o.Authenticate(opts.pin, opts.org)
}
