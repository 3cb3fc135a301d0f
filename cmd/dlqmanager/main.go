package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"example.com/carwash/activity/internal/config"
	"example.com/carwash/activity/internal/logging"
	"example.com/carwash/activity/internal/outbox"
	httptransport "example.com/carwash/activity/internal/transport/http"
)

const dlqBatchSize = 50

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat).With("service", "activity-dlq-manager")

	if err := run(cfg, logger); err != nil {
		logger.Error("dlq manager stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay, outbox.WithLogger(logger))

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.DLQPollInterval)
		defer ticker.Stop()

		logger.Info("dlq manager started", "interval", cfg.DLQPollInterval, "max_retries", cfg.DLQMaxRetries)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				requeued, err := manager.RunOnce(ctx, dlqBatchSize)
				if err != nil {
					logger.Error("dlq pass failed", "error", err)
				} else if requeued > 0 {
					logger.Info("dlq pass requeued entries", "count", requeued)
				}
			}
		}
	}()

	err = httptransport.Run(ctx, httptransport.NewMetricsServer(cfg.MetricsAddress), 10*time.Second, logger)
	stop()
	<-done
	return err
}
