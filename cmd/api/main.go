package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/logger"
	"storefront/internal/notification"
	"storefront/internal/repository"
	"storefront/internal/repository/memstore"
	"storefront/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting storefront API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
	)

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server exited with error", zap.Error(err))
	}
	log.Info("Graceful shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps := server.Deps{Registry: registry}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		log.Warn("Using in-memory store; data is lost on exit")
		deps.Store = memstore.New()
	default:
		db, err := database.New(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()

		log.Info("Database health check", zap.Any("health", db.Health()))

		if _, err := database.RunMigrations(ctx, db.DB(), cfg.Database.MigrationsDir, log); err != nil {
			return err
		}
		registry.MustRegister(collectors.NewDBStatsCollector(db.DB(), cfg.Database.Database))

		deps.Store = repository.NewStore(db.DB())
		deps.Health = db.Health
	}

	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			// the limiter fails open, so a missing Redis only loses rate limiting
			log.Warn("Redis unavailable, checkout rate limiting disabled until it recovers", zap.Error(err))
		}
		deps.Redis = rdb
	}

	var publisher notification.Publisher
	if brokers := notification.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		log.Info("Publishing order events to Kafka", zap.Strings("brokers", brokers), zap.String("topic", cfg.Kafka.Topic))
		publisher = notification.NewKafkaPublisher(brokers, cfg.Kafka.WriteTimeout)
	} else {
		log.Info("No Kafka brokers configured, order events will be logged")
		publisher = notification.NewLogPublisher(log)
	}
	defer publisher.Close()

	relay := notification.NewRelay(deps.Store, publisher, notification.RelayConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Lease:       cfg.Outbox.Lease,
	}, log)

	srv := server.NewServer(cfg, log, deps)
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return relay.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully")

		// The context is used to inform the server it has ShutdownTimeout to finish
		// the requests it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
			return err
		}
		return nil
	})

	return g.Wait()
}
