package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/impact"
	"github.com/greenfund/fund-engine/internal/ledger"
	"github.com/greenfund/fund-engine/internal/metrics"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/nav"
	"github.com/greenfund/fund-engine/internal/news"
	"github.com/greenfund/fund-engine/internal/store"
	"github.com/greenfund/fund-engine/internal/valuation"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
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

	// --- News source ---
	var source news.Source
	if newsURL := os.Getenv("NEWS_SERVICE_URL"); newsURL != "" {
		source = news.NewHTTPSource(newsURL, 10*time.Second)
		slog.Info("news source enabled", "url", newsURL)
	} else {
		slog.Warn("NEWS_SERVICE_URL not set, NAV computes without news impact")
	}

	// --- WebSocket hub ---
	hub := nav.NewHub()
	go hub.Run()

	// --- Engines ---
	navEngine := nav.NewEngine(st, impact.NewScorer(), source, hub, nav.DefaultConfig())

	limits := ledger.NewTradeLimiter(
		envDecimal("MAX_ORDER_AMOUNT", decimal.NewFromInt(50000)),
		envDecimal("MAX_DAILY_AMOUNT", decimal.NewFromInt(200000)),
		envInt("MAX_DAILY_COUNT", 50),
	)
	ledgerEngine := ledger.NewEngine(st, limits)
	valuationSvc := valuation.NewService(st)

	// --- Scheduled batch NAV recompute ---
	var scheduler *cron.Cron
	if spec := os.Getenv("NAV_CRON"); spec != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(spec, func() {
			runBatchNav(st, navEngine)
		})
		if err != nil {
			slog.Error("invalid NAV_CRON", "spec", spec, "err", err)
			os.Exit(1)
		}
		scheduler.Start()
		cleanup = append(cleanup, func() { scheduler.Stop() })
		slog.Info("batch NAV schedule enabled", "cron", spec)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"fund-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time NAV updates.
		r.Get("/ws", hub.HandleWS)

		// Fund management.
		r.Post("/funds", navEngine.HandleCreateFund)
		r.Get("/funds", navEngine.HandleListFunds)
		r.Get("/funds/{fundID}", navEngine.HandleGetFund)
		r.Delete("/funds/{fundID}", navEngine.HandleCloseFund)

		// NAV computation and history.
		r.Post("/funds/{fundID}/nav", navEngine.HandleCompute)
		r.Post("/nav/batch", navEngine.HandleBatch)
		r.Get("/funds/{fundID}/nav/history", navEngine.HandleHistory)
		r.Post("/funds/{fundID}/nav/simulate", navEngine.HandleSimulate)
		r.Get("/funds/{fundID}/impacts", navEngine.HandleImpacts)

		// Users and balances.
		r.Post("/users", ledgerEngine.HandleCreateUser)
		r.Get("/users/{userID}", ledgerEngine.HandleGetUser)
		r.Post("/users/{userID}/balance", ledgerEngine.HandleBalance)

		// Orders and portfolio.
		r.Post("/orders", ledgerEngine.HandleSubmitOrder)
		r.Get("/users/{userID}/holdings", valuationSvc.HandleListHoldings)
		r.Get("/users/{userID}/transactions", ledgerEngine.HandleListTransactions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("fund-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down fund-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("fund-engine stopped")
}

// runBatchNav recomputes NAV for every active fund. One fund's failure
// never aborts the run.
func runBatchNav(st store.Store, engine *nav.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	funds, err := st.ListFunds(ctx)
	if err != nil {
		slog.Error("batch nav: list funds failed", "err", err)
		return
	}

	var ids []string
	for _, f := range funds {
		if f.Status == model.FundActive {
			ids = append(ids, f.ID)
		}
	}

	res := engine.ComputeBatch(ctx, ids)
	slog.Info("batch nav finished", "succeeded", res.Succeeded, "failed", res.Failed)
}

func envDecimal(name string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("invalid decimal env, using default", "name", name, "value", raw)
		return fallback
	}
	return d
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer env, using default", "name", name, "value", raw)
		return fallback
	}
	return n
}
