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

	"example.com/carwash/activity/internal/api"
	"example.com/carwash/activity/internal/auth"
	"example.com/carwash/activity/internal/config"
	"example.com/carwash/activity/internal/domain"
	"example.com/carwash/activity/internal/logging"
	"example.com/carwash/activity/internal/outbox"
	"example.com/carwash/activity/internal/persistence/postgres"
	"example.com/carwash/activity/internal/persistence/sqlite"
	"example.com/carwash/activity/internal/telemetry"
	httptransport "example.com/carwash/activity/internal/transport/http"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogFormat).With("service", "activity-collector")

	if err := run(cfg, logger); err != nil {
		logger.Error("collector stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer("activity-collector", cfg.TraceEnabled, logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	var repo domain.ActivityRepository
	var dispatcher *outbox.Dispatcher

	switch cfg.StorageDriver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		repo = store
		logger.Info("using sqlite storage, events are not published", "path", cfg.SQLitePath)
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL, nil)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, outbox.WithLogger(logger))
		go dispatcher.Start(ctx)
	}

	router := api.NewRouter(api.NewHandler(domain.NewService(repo), logger), api.RouterConfig{
		Auth:       auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}),
		Logger:     logger,
		CORSOrigin: cfg.CORSOrigin,
	})
	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), router)

	err = httptransport.Run(ctx, server, 15*time.Second, logger)
	stop()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return err
}
