package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/tablecash/cashier/internal/cashier"
	"github.com/tablecash/cashier/internal/config"
	"github.com/tablecash/cashier/internal/dedup"
	"github.com/tablecash/cashier/internal/ledger"
	"github.com/tablecash/cashier/internal/metrics"
	"github.com/tablecash/cashier/internal/notify"
	"github.com/tablecash/cashier/internal/payout"
	"github.com/tablecash/cashier/internal/rate"
	"github.com/tablecash/cashier/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exchange rate ---
	var feed rate.Feed
	if cfg.PriceFeedEnabled {
		feed = rate.NewCoinGeckoFeed(cfg.PriceFeedURL, cfg.PriceFeedTimeout)
	} else {
		slog.Info("price feed disabled, using ETH_USD_RATE only")
	}
	rates := rate.NewResolver(feed, cfg.StaticRate)

	// --- Payout gateway ---
	var payer ledger.Payer = payout.Unconfigured{}
	if cfg.PayoutURL != "" {
		payer = payout.NewClient(cfg.PayoutURL, cfg.PayoutToken, cfg.PayoutTimeout)
		slog.Info("payout gateway configured", "url", cfg.PayoutURL)
	} else {
		slog.Warn("PAYOUT_URL not set, transfers will fail and cashouts stay pending")
	}

	// --- Ledger ---
	l := ledger.New(store.NewMemoryStore(), rates, payer, ledger.WithTipEcho(cfg.EchoTips))

	// --- Event de-duplication ---
	var seen dedup.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		seen = dedup.NewRedisStore(rdb, cfg.DedupTTL)
		slog.Info("Redis event de-duplication enabled")
	} else {
		seen = dedup.NewMemoryStore(cfg.DedupTTL)
	}

	// --- Report delivery ---
	hub := notify.NewHub()
	go hub.Run(ctx)

	sinks := notify.Fanout{hub, notify.Log{}}
	if cfg.DiscordToken != "" {
		discord, err := notify.NewDiscord(cfg.DiscordToken)
		if err != nil {
			slog.Error("discord setup failed", "err", err)
			os.Exit(1)
		}
		sinks = append(sinks, discord)
		slog.Info("Discord delivery enabled")
	}

	svc := cashier.NewService(l, seen, sinks, cfg.BotAddress)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"cashier"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live channel reports.
		r.Get("/ws", hub.HandleWS)

		// Inbound chat events. No request timeout: a cashout holds the
		// request open until the payout gateway answers.
		r.Post("/events", svc.PostEvent)

		// Session snapshots.
		r.Get("/sessions", svc.ListSessions)
		r.Get("/sessions/{channelID}", svc.GetSession)
		r.Delete("/sessions/{channelID}", svc.DeleteSession)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("cashier listening", "port", cfg.Port, "bot", cfg.BotAddress.Hex())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down cashier...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	cancel()
	fmt.Println("cashier stopped")
}
