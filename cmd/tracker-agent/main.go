// Command tracker-agent drives an activity tracker from JSON lines on stdin, one UI event per
// line, and ships the batches to the collector.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"example.com/carwash/activity/internal/auth"
	"example.com/carwash/activity/internal/collector"
	"example.com/carwash/activity/internal/config"
	"example.com/carwash/activity/internal/device"
	"example.com/carwash/activity/internal/logging"
	"example.com/carwash/activity/internal/tracker"
)

const version = "0.1.0"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat).With("service", "tracker-agent")

	if err := run(cfg, logger); err != nil {
		logger.Error("tracker agent stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	token, err := agentToken(cfg)
	if err != nil {
		return err
	}
	client, err := collector.New(cfg.CollectorURL, collector.StaticToken(token),
		collector.WithBeaconTimeout(cfg.BeaconTimeout),
		collector.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	hub := tracker.NewHub()
	t := tracker.New(client,
		tracker.WithEnvironment(device.Host("tracker-agent", version)),
		tracker.WithLifecycle(hub),
		tracker.WithLogger(logger),
		tracker.WithFlushInterval(cfg.FlushInterval),
		tracker.WithFlushThreshold(cfg.FlushThreshold),
		tracker.WithMaxQueue(cfg.MaxQueue),
		tracker.WithMinScreenTime(cfg.MinScreenTime),
	)
	t.Initialize()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	done := make(chan error, 1)
	go func() { done <- feed(os.Stdin, t, hub, logger) }()

	select {
	case sig := <-signals:
		logger.Info("terminating", "signal", sig.String())
		hub.Unload()
		t.Dispose()
		t.Wait()
		return nil
	case err := <-done:
		t.Dispose()
		t.Wait()
		return err
	}
}

// agentToken returns the configured collector token, or mints a write-scoped one with the shared
// secret for local runs.
func agentToken(cfg config.Config) (string, error) {
	if cfg.CollectorToken != "" {
		return cfg.CollectorToken, nil
	}
	token, err := auth.Sign(
		auth.NewClaims("tracker-agent", "local", 12*time.Hour, auth.ScopeActivityWrite),
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
	)
	if err != nil {
		return "", fmt.Errorf("mint collector token: %w", err)
	}
	return token, nil
}
