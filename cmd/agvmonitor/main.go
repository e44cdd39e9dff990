// Command agvmonitor follows the AGV realtime event stream, logs what it sees and optionally
// republishes every event onto NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/agvwms/realtime"
	"github.com/agvwms/realtime/internal/config"
	"github.com/agvwms/realtime/internal/relay"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "path to the YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agvmonitor: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return errors.Wrap(err, "config")
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return errors.Wrap(err, "logger")
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("server", cfg.Server.URL),
		zap.Strings("transports", cfg.Server.Transports),
		zap.Strings("rooms", cfg.Server.Rooms),
		zap.Bool("reconnect", cfg.Reconnect.Enabled),
	)

	m := newMonitor(cfg.Server.Rooms, logger)
	client, err := realtime.New(clientOptions(cfg, logger, m.onStateChange)...)
	if err != nil {
		return errors.Wrap(err, "client")
	}
	m.client = client

	listeners := []realtime.Listener{m}
	if cfg.NATS.URL != "" {
		r, closeRelay, err := relay.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, "agvmonitor", logger)
		if err != nil {
			return errors.Wrap(err, "nats")
		}
		defer closeRelay()
		listeners = append(listeners, r)
		logger.Info("relaying events to nats", zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return m.run(ctx, listeners...)
}

func newLogger(cfg config.Logging) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func clientOptions(cfg *config.Config, logger *zap.Logger, onState realtime.StateHandler) []realtime.Option {
	transports := make([]realtime.TransportName, 0, len(cfg.Server.Transports))
	for _, name := range cfg.Server.Transports {
		transports = append(transports, realtime.TransportName(name))
	}

	opts := []realtime.Option{
		realtime.WithLogger(realtime.NewZapLogger(logger)),
		realtime.WithURL(cfg.Server.URL),
		realtime.WithTransports(transports...),
		realtime.WithHeader("User-Agent", "agvmonitor"),
		realtime.WithStateHandler(onState),
	}
	if cfg.Server.PingInterval > 0 {
		opts = append(opts, realtime.WithPingInterval(cfg.Server.PingInterval))
	}
	if cfg.Reconnect.Enabled {
		opts = append(opts, realtime.WithReconnect(realtime.ReconnectPolicy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
		}))
	}
	return opts
}
