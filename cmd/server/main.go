package main

import (
	"context"
	"errors"
	"fmt"
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

	"github.com/tradeflow/margin-engine/internal/config"
	"github.com/tradeflow/margin-engine/internal/engine"
	"github.com/tradeflow/margin-engine/internal/logger"
	"github.com/tradeflow/margin-engine/internal/margin"
	"github.com/tradeflow/margin-engine/internal/metrics"
	"github.com/tradeflow/margin-engine/internal/quote"
	"github.com/tradeflow/margin-engine/internal/risk"
	"github.com/tradeflow/margin-engine/internal/store"
	"github.com/tradeflow/margin-engine/internal/trade"
)

const serviceName = "margin-engine"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger.Init(serviceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Redis (cache and quote book) ---
	var rdb *redis.Client
	var cleanup []func()

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quotes ---
	var book quote.Book
	if rdb != nil {
		book = quote.NewRedisSource(rdb, 0)
	} else {
		book = quote.NewStaticSource(nil)
	}
	for symbol, price := range cfg.Quotes {
		if err := book.SetQuote(ctx, symbol, price); err != nil {
			slog.Error("seed quote failed", "symbol", symbol, "err", err)
			os.Exit(1)
		}
	}

	// --- Margin and limits ---
	table, err := margin.NewTable(cfg.Leverage)
	if err != nil {
		slog.Error("invalid leverage table", "err", err)
		os.Exit(1)
	}
	calc, err := margin.NewCalculator(table, cfg.FeeRate)
	if err != nil {
		slog.Error("invalid fee rate", "err", err)
		os.Exit(1)
	}
	limits := risk.NewLimits(cfg.MaxOpenPositions, cfg.MaxOrderNotional, cfg.MaxClassExposure)

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	// --- Engine and HTTP service ---
	eng := engine.New(st, book, calc, engine.Options{
		Limits:     limits,
		Notifier:   wsHub,
		ChargeFees: cfg.ChargeFees,
	})
	tradeSvc := trade.NewService(eng, book)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket is registered outside the timeout group; it is long-lived.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info(serviceName+" listening", "port", cfg.Port, "charge_fees", cfg.ChargeFees)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down " + serviceName + "...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println(serviceName + " stopped")
}
