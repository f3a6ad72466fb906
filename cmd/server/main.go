package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/taxi-dispatch/internal/availability"
	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/events"
	httpapi "github.com/example/taxi-dispatch/internal/http"
	"github.com/example/taxi-dispatch/internal/identity"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/notify"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("taxi-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	feed, closeFeed, err := openFeed(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	publisher := openPublisher(cfg, feed, logger)
	defer publisher.Close()

	users := identity.NewService(store, logger)
	coordinator := &dispatch.Coordinator{
		Registry: registry.New(store, store, registry.Options{DefaultPrice: cfg.DefaultPrice}),
		Pool:     availability.NewPool(store, store),
		Users:    users,
		Events:   publisher,
		Logger:   logger.With("component", "dispatch"),
	}
	api := httpapi.NewServer(httpapi.Deps{
		Users:       users,
		Dispatch:    coordinator,
		Feed:        feed,
		Logger:      logger,
		NotifyLimit: cfg.NotifyLimit,
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("taxi-api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore uses Postgres when PG_DSN is set and memory otherwise.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	if cfg.PGDSN == "" {
		logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	ps, err := storage.NewPostgresStore(pingCtx, cfg.PGDSN)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := ps.Migrate(ctx, cfg.MigrationPath); err != nil {
			_ = ps.Close()
			return nil, err
		}
		logger.Info("migration applied", "path", cfg.MigrationPath)
	}
	logger.Info("using postgres store")
	return ps, nil
}

func openFeed(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (notify.Feed, func(), error) {
	if cfg.RedisAddr == "" {
		return notify.NewMemoryFeed(cfg.NotifyLimit), func() {}, nil
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	logger.Info("using redis notification feed", "addr", cfg.RedisAddr)
	return notify.NewRedisFeed(rc, cfg.RedisNotifyPrefix, cfg.NotifyLimit), func() { _ = rc.Close() }, nil
}

// openPublisher sends events to Kafka when brokers are configured. The
// consumer fills the Redis feed from there; without Redis the server also
// builds the in-memory feed itself.
func openPublisher(cfg config.ServerConfig, feed notify.Feed, logger *slog.Logger) events.Publisher {
	local := &events.FeedPublisher{Feed: feed}
	if len(cfg.KafkaBrokers) == 0 {
		return local
	}
	kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	if cfg.RedisAddr != "" {
		return kp
	}
	return events.Multi{kp, local}
}
