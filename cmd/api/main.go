package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/scythe504/poison-grid/internal/config"
	"github.com/scythe504/poison-grid/internal/coordinator"
	"github.com/scythe504/poison-grid/internal/logger"
	"github.com/scythe504/poison-grid/internal/pubsub"
	"github.com/scythe504/poison-grid/internal/server"
	"github.com/scythe504/poison-grid/internal/store"
	"github.com/scythe504/poison-grid/internal/websocket"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	if err := run(cfg, log); err != nil {
		log.Errorf("[Main] %v", err)
		logger.Sync(log)
		os.Exit(1)
	}
}

// backends holds whatever was opened so shutdown can close it in order.
type backends struct {
	store    store.Store
	notifier pubsub.Notifier
	redis    redis.UniversalClient
	pool     *pgxpool.Pool
}

func (b *backends) close(log *zap.SugaredLogger) {
	if b.notifier != nil {
		if err := b.notifier.Close(); err != nil {
			log.Warnf("[Shutdown] notifier: %v", err)
		}
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			log.Warnf("[Shutdown] store: %v", err)
		}
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := &backends{}
	defer b.close(log)

	if err := b.open(ctx, cfg, log); err != nil {
		return err
	}
	log.Infof("[Main] store=%s notifier=%s", cfg.StoreBackend, cfg.NotifierBackend)

	coord := coordinator.New(b.store, b.notifier, log, coordinator.Config{
		Capacity:           cfg.RoomCapacity,
		DisconnectAttempts: cfg.WriteAttempts,
	})
	hub := websocket.NewHub(websocket.NewRegistry(), log)
	if err := b.notifier.Subscribe(ctx, hub.Deliver); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	if sw, ok := b.store.(store.Sweeper); ok {
		store.StartJanitor(ctx, sw, cfg.SweepInterval, log)
	}

	srv := server.New(cfg.Port, coord, hub, log).HTTPServer()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("[Main] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Infof("[Shutdown] shutting down gracefully, press Ctrl+C again to force")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("[Shutdown] forced: %v", err)
	}
	log.Infof("[Shutdown] done")
	return nil
}

func (b *backends) open(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	needRedis := cfg.StoreBackend == config.BackendRedis || cfg.NotifierBackend == config.BackendRedis
	needPostgres := cfg.StoreBackend == config.BackendPostgres || cfg.NotifierBackend == config.BackendPostgres

	if needRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		b.redis = redis.NewClient(opts)
		if err := b.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
	}
	if needPostgres {
		pool, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		b.pool = pool
	}

	switch cfg.StoreBackend {
	case config.BackendRedis:
		b.store = store.NewRedisStore(b.redis, cfg.Retention, cfg.WriteAttempts)
	case config.BackendPostgres:
		st, err := store.NewPostgresStore(ctx, b.pool, cfg.Retention, cfg.WriteAttempts)
		if err != nil {
			return err
		}
		b.store = st
	case config.BackendSQLite:
		st, err := store.OpenSQLite(ctx, cfg.SQLitePath, cfg.Retention, cfg.WriteAttempts)
		if err != nil {
			return err
		}
		b.store = st
	default:
		b.store = store.NewMemoryStore(cfg.Retention)
	}

	switch cfg.NotifierBackend {
	case config.BackendRedis:
		b.notifier = pubsub.NewRedisNotifier(b.redis, log)
	case config.BackendPostgres:
		b.notifier = pubsub.NewPostgresNotifier(b.pool, b.store.Load, log)
	default:
		b.notifier = pubsub.NewLocalBus(pubsub.DefaultQueueSize, log)
	}
	return nil
}
