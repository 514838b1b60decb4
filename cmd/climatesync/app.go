package main

import (
	"context"
	"fmt"

	"climatesync/internal/api"
	"climatesync/internal/config"
	"climatesync/internal/hub"
	"climatesync/internal/metrics"
	"climatesync/internal/mqttbridge"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app owns the hub and the optional surfaces built on top of it.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	hub     *hub.Hub
	metrics *metrics.Collector
	api     *api.Server
	bridge  *mqttbridge.Bridge
}

// loadConfig reads .env files and the config file, then builds the logger
// the config asks for. quiet raises the level to warn for interactive use.
func loadConfig(quiet bool) (*config.Config, *zap.Logger, error) {
	if err := config.LoadEnv(nil, envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewLoader(configPath, nil).Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Logging, quiet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("Configuration loaded",
		zap.String("path", configPath),
		zap.String("url", cfg.WebsocketURL()),
		zap.Bool("api", cfg.API.Enabled),
		zap.Bool("mqtt", cfg.MQTT.Enabled))
	return cfg, logger, nil
}

func newLogger(cfg config.LoggingConfig, quiet bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level.SetLevel(level)
	}
	if quiet && zcfg.Level.Level() < zapcore.WarnLevel {
		zcfg.Level.SetLevel(zapcore.WarnLevel)
	}
	return zcfg.Build()
}

func newApp(cfg *config.Config, logger *zap.Logger) *app {
	h := hub.New(hub.Config{
		URL:                cfg.WebsocketURL(),
		Token:              cfg.HomeAssistant.Token,
		RequestTimeout:     cfg.Sync.RequestTimeout,
		ReconnectDelay:     cfg.Sync.ReconnectDelay,
		PingInterval:       cfg.Sync.PingInterval,
		RetryOnAuthFailure: cfg.Sync.RetryOnAuthFailure,
		InsecureSkipVerify: cfg.HomeAssistant.InsecureSkipVerify,
		Include:            cfg.Sync.Include,
	}, logger.Named("hub"))

	a := &app{
		cfg:     cfg,
		logger:  logger,
		hub:     h,
		metrics: metrics.NewCollector(h, logger.Named("metrics")),
	}
	if cfg.API.Enabled {
		a.api = api.NewServer(h, a.metrics.Handler(), logger.Named("api"), cfg.API.Port)
	}
	return a
}

// start brings up the optional surfaces first so they observe the initial
// sync, then starts the hub.
func (a *app) start(ctx context.Context) error {
	a.metrics.Start()

	if a.cfg.MQTT.Enabled {
		pub, err := mqttbridge.Dial(a.cfg.MQTT, a.logger.Named("mqtt"))
		if err != nil {
			return err
		}
		a.bridge = mqttbridge.New(pub, a.cfg.MQTT.TopicPrefix, a.cfg.MQTT.QoS, a.logger.Named("mqtt"))
		a.bridge.Start(a.hub)
	}

	if a.api != nil {
		if err := a.api.Start(); err != nil {
			return err
		}
	}

	return a.hub.Start(ctx)
}

// stop shuts everything down and reports every failure.
func (a *app) stop() error {
	a.hub.Stop()
	if done := a.hub.Done(); done != nil {
		<-done
	}

	var errs error
	if a.api != nil {
		errs = multierr.Append(errs, a.api.Stop())
	}
	if a.bridge != nil {
		errs = multierr.Append(errs, a.bridge.Stop())
	}
	a.metrics.Stop()
	return errs
}
