package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voltsim/market-engine/internal/auction"
	"github.com/voltsim/market-engine/internal/capacity"
	"github.com/voltsim/market-engine/internal/config"
	"github.com/voltsim/market-engine/internal/metrics"
	"github.com/voltsim/market-engine/internal/service"
	"github.com/voltsim/market-engine/internal/settlement"
	"github.com/voltsim/market-engine/internal/sim"
	"github.com/voltsim/market-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				slog.Error("invalid redis URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL())
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- Engines ---
	auctionEng := auction.NewEngine(cfg.Auction, st, wsHub)
	ctrl := capacity.NewMemoryController()
	settlementEng := settlement.NewEngine(cfg.Balancing, st, ctrl, wsHub)

	// --- Timeslot clock and cycle driver ---
	clock := sim.NewClock(cfg.Sim.StartTimeslot, cfg.Sim.EnabledTimeslots)
	driverCtx, stopDriver := context.WithCancel(context.Background())
	defer stopDriver()
	go runDriver(driverCtx, cfg.TimeslotDuration(), clock, auctionEng, settlementEng)

	// --- Market service ---
	marketSvc := service.NewService(st, auctionEng, clock, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time clearing and settlement updates.
		r.Get("/ws", wsHub.HandleWS)

		// Broker registration.
		r.Get("/brokers", marketSvc.ListBrokers)
		r.Post("/brokers", marketSvc.CreateBroker)
		r.Get("/brokers/{brokerID}/transactions", marketSvc.ListMarketTransactions)
		r.Get("/brokers/{brokerID}/balancing-transactions", marketSvc.ListBalancingTransactions)

		// Order submission and settlement inputs.
		r.Post("/orders", marketSvc.SubmitOrder)
		r.Post("/balancing-orders", marketSvc.CreateBalancingOrder)
		r.Post("/netloads", marketSvc.ReportNetLoad)

		// Clearing and settlement results.
		r.Get("/timeslots", marketSvc.GetTimeslots)
		r.Get("/orderbooks/{timeslot}", marketSvc.GetOrderBook)
		r.Get("/trades/{timeslot}", marketSvc.ListTrades)
		r.Get("/balance-reports/{timeslot}", marketSvc.GetBalanceReport)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopDriver()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}

// runDriver ticks the simulation clock and runs one clearing plus one
// settlement cycle per timeslot. Clearing trades against the newly enabled
// window; settlement covers the timeslot that just completed.
func runDriver(ctx context.Context, period time.Duration, clock *sim.Clock, auc *auction.Engine, stl *settlement.Engine) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			completed := clock.Current()
			current := clock.Tick()
			enabled := clock.Enabled()

			auc.Clear(ctx, current, enabled)
			stl.Settle(ctx, completed)
		}
	}
}

func setupLogger(lc config.LogConfig) {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(lc.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
