package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/bulkio/internal/config"
	"github.com/JonMunkholm/bulkio/internal/core"
	_ "github.com/JonMunkholm/bulkio/internal/core/entities" // Register all entity types
	"github.com/JonMunkholm/bulkio/internal/delivery"
	"github.com/JonMunkholm/bulkio/internal/logging"
	"github.com/JonMunkholm/bulkio/internal/schedule"
	"github.com/JonMunkholm/bulkio/internal/store/pgstore"
	"github.com/JonMunkholm/bulkio/internal/store/sqlstore"
	"github.com/JonMunkholm/bulkio/internal/tabular"
	"github.com/JonMunkholm/bulkio/internal/web"
)

// recordStore is what the service and the scheduler need from a backend.
type recordStore interface {
	core.BulkWriter
	core.Fetcher
	schedule.Store
}

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded", "config", cfg)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	service := core.NewService(store, store, tabular.New(), core.Options{
		MaxConcurrent: cfg.Operation.MaxConcurrent,
		MaxWait:       cfg.Operation.MaxWaitTime,
		ChunkSize:     cfg.Operation.ChunkSize,
		PageSize:      cfg.Operation.PageSize,
		Retention:     cfg.Operation.Retention,
		MaxIssues:     cfg.Operation.MaxIssues,
		APIPrefix:     "/api",
		Logger:        logger,
	})
	slog.Info("entities registered", "count", core.EntityCount())

	var (
		registry  *schedule.Registry
		downloads *delivery.DownloadStore
	)
	if cfg.Schedule.Enabled {
		downloads, err = delivery.NewDownloadStore(cfg.Delivery.StorageDir)
		if err != nil {
			slog.Error("failed to create artifact store", "error", err)
			os.Exit(1)
		}

		dispatcher := delivery.NewDispatcher(delivery.Options{
			Email:     emailSender(cfg.Delivery),
			Webhook:   delivery.NewHTTPWebhook(cfg.Delivery.WebhookTimeout),
			Storage:   storageWriter(ctx, cfg.Delivery),
			Downloads: downloads,
			BaseURL:   cfg.Schedule.BaseURL,
			Logger:    logger,
		})

		clock := schedule.RealClock{}
		exec := schedule.NewExecutor(service, dispatcher, clock, schedule.ExecutorOptions{
			JobHistory: cfg.Schedule.JobHistory,
			Logger:     logger,
		})
		registry = schedule.NewRegistry(exec, store, clock, schedule.RegistryOptions{
			DefaultMaxRetries: cfg.Schedule.DefaultMaxRetries,
			Logger:            logger,
		})
		if err := registry.Start(ctx); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	server := web.NewServer(service, registry, downloads, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop firing schedules before draining operations.
		if registry != nil {
			registry.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		limiter := service.Limiter()
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for operations to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("operations did not complete in time", "error", err)
			} else {
				slog.Info("all operations completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (recordStore, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
			URL:             cfg.URL,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to database", "name", pgstore.DatabaseName(cfg.URL))

		s := pgstore.New(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil

	case sqlstore.DriverSQLite, sqlstore.DriverMySQL:
		s, err := sqlstore.Open(ctx, cfg.Driver, cfg.URL, sqlstore.Options{
			MaxOpenConns:    cfg.MaxConns,
			MaxIdleConns:    cfg.MinConns,
			ConnMaxLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to database", "driver", cfg.Driver)
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// emailSender returns nil when no SMTP host is configured; email delivery
// then fails per job instead of at startup.
func emailSender(cfg config.DeliveryConfig) delivery.EmailSender {
	if cfg.SMTPHost == "" {
		return nil
	}
	return &delivery.SMTPSender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
}

// storageWriter routes s3:// locations to S3 when a region is available.
func storageWriter(ctx context.Context, cfg config.DeliveryConfig) delivery.StorageWriter {
	routed := delivery.RoutedStorage{Files: delivery.FileStorage{}}
	if cfg.S3Region == "" {
		return routed
	}
	s3, err := delivery.NewS3Storage(ctx, cfg.S3Region)
	if err != nil {
		slog.Warn("s3 storage unavailable", "region", cfg.S3Region, "error", err)
		return routed
	}
	routed.S3 = s3
	return routed
}
