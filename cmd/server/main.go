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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/qbands/share-exchange/internal/accounts"
	"github.com/qbands/share-exchange/internal/api"
	"github.com/qbands/share-exchange/internal/config"
	"github.com/qbands/share-exchange/internal/engine"
	"github.com/qbands/share-exchange/internal/feed"
	"github.com/qbands/share-exchange/internal/ledger"
	"github.com/qbands/share-exchange/internal/limits"
	"github.com/qbands/share-exchange/internal/metrics"
	"github.com/qbands/share-exchange/internal/offering"
	"github.com/qbands/share-exchange/internal/portfolio"
	"github.com/qbands/share-exchange/internal/settlement"
	"github.com/qbands/share-exchange/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("share-exchange exited", "err", err)
		os.Exit(1)
	}
	slog.Info("share-exchange stopped")
}

func run() error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var (
		st      store.Store
		dir     api.AccountStore
		rdb     *redis.Client
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st = pg
		dir = accounts.NewPostgresDirectory(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
		dir = accounts.NewMemoryDirectory()
	}

	// --- Event feed ---
	wsHub := feed.NewWSHub()
	sinks := []feed.Sink{wsHub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := feed.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { kp.Close() })
		sinks = append(sinks, kp)
		slog.Info("Kafka event publishing enabled", "topic", cfg.KafkaTopic)
	}
	if rdb != nil {
		sinks = append(sinks, feed.NewRedisPublisher(rdb, cfg.RedisChannel))
	}
	events := feed.NewDispatcher(cfg.EventBuffer, sinks...)

	// --- Core services ---
	offerings := offering.NewManager(st, dir, events)
	coordinator := settlement.NewCoordinator(st, cfg.Currency, cfg.FeeAccount)
	limiter := limits.NewPositionLimiter(cfg.MaxPositionPerAccount, cfg.MaxPositionAggregate, cfg.MaxOrderNotional)
	eng := engine.New(engine.Deps{
		Store:      st,
		Accounts:   dir,
		Offerings:  offerings,
		Settlement: coordinator,
		Limiter:    limiter,
		Events:     events,
		QueueSize:  cfg.QueueSize,
	})
	defer eng.Stop()

	if _, err := eng.Recover(ctx); err != nil {
		return err
	}

	svc := api.NewService(eng, offerings, ledger.New(st), portfolio.New(st), dir, cfg.Currency)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"share-exchange"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for order, trade and offering events.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return events.Run(gctx) })
	g.Go(func() error { return offerings.Run(gctx, cfg.SweepInterval) })
	g.Go(func() error {
		slog.Info("share-exchange listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down share-exchange...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
