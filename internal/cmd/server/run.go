package serverrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cfgpkg "github.com/eduwass/transmit-1/internal/config"
	httpserver "github.com/eduwass/transmit-1/internal/server/http"
	"github.com/eduwass/transmit-1/pkg/bus"
	logpkg "github.com/eduwass/transmit-1/pkg/log"
	"github.com/eduwass/transmit-1/pkg/transmit"
)

// Options carries the flag-level overrides layered on top of the config file
// and TRANSMIT_* environment.
type Options struct {
	ConfigPath   string
	HTTPAddr     string
	PingInterval time.Duration
	BusTransport string
	MQTTBroker   string
	LogLevel     string
	LogFormat    string
}

// Run starts the HTTP server over a fully wired engine and blocks until ctx
// is cancelled or the listener fails.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// pass a plain context still get clean shutdown on SIGINT/SIGTERM.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := cfgpkg.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfgpkg.FromEnv(&cfg)
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}
	if opts.PingInterval > 0 {
		cfg.PingInterval = cfgpkg.Duration(opts.PingInterval)
	}
	if opts.BusTransport != "" {
		cfg.Bus.Transport = opts.BusTransport
	}
	if opts.MQTTBroker != "" {
		cfg.Bus.MQTT.Broker = opts.MQTTBroker
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		cfg.LogFormat = opts.LogFormat
	}

	logger, err := logpkg.ApplyConfig(&logpkg.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		logger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	b, err := buildBus(cfg.Bus, logger.With(logpkg.Component("bus")))
	if err != nil {
		return err
	}

	engineOpts := []transmit.Option[httpserver.StreamContext]{
		transmit.WithLogger[httpserver.StreamContext](logger.With(logpkg.Component("engine"))),
	}
	if b != nil {
		engineOpts = append(engineOpts,
			transmit.WithBus[httpserver.StreamContext](b),
			transmit.WithBusTopic[httpserver.StreamContext](cfg.Bus.Topic),
		)
	}
	if cfg.PingInterval > 0 {
		engineOpts = append(engineOpts,
			transmit.WithPingInterval[httpserver.StreamContext](cfg.PingInterval.Std()))
	}
	eng, err := transmit.New(engineOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Shutdown() }()

	for _, rule := range cfg.Authorize {
		fn, err := transmit.CELAuthorizer[httpserver.StreamContext](rule.Expr)
		if err != nil {
			return fmt.Errorf("authorize rule %q: %w", rule.Pattern, err)
		}
		eng.Authorize(rule.Pattern, fn)
	}

	logger.Info("starting transmit server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("bus", cfg.Bus.Transport),
		logpkg.Str("node", eng.NodeID()),
		logpkg.Int("authorize_rules", len(cfg.Authorize)),
	)

	hsrv := httpserver.New(eng, logger.With(logpkg.Component("http")))
	if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
		return err
	}
	return nil
}

// buildBus constructs the configured cross-instance transport, wrapping it in
// the persistent retry queue when enabled. A "none" transport yields nil.
func buildBus(cfg cfgpkg.BusConfig, logger logpkg.Logger) (bus.Bus, error) {
	var inner bus.Bus
	switch cfg.Transport {
	case "", "none":
		return nil, nil
	case "memory":
		// Single-process broker; instances in one process can share it only
		// through configuration code, so this is mostly for local testing.
		inner = bus.NewBroker().Client()
	case "mqtt":
		m, err := bus.NewMQTT(bus.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		if err != nil {
			return nil, err
		}
		inner = m
	default:
		return nil, fmt.Errorf("config: unknown bus transport %q", cfg.Transport)
	}
	if cfg.Retry.Enabled {
		dir := cfg.Retry.Dir
		if dir == "" {
			dir = filepath.Join(cfgpkg.DefaultDataDir(), "retryq")
		}
		return bus.NewRetryBus(inner, bus.RetryOptions{Dir: dir, Interval: cfg.Retry.Interval.Std()}, logger)
	}
	return inner, nil
}
