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
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/edupulse/event-pipeline/internal/api"
	"github.com/edupulse/event-pipeline/internal/archive"
	"github.com/edupulse/event-pipeline/internal/auth"
	"github.com/edupulse/event-pipeline/internal/config"
	"github.com/edupulse/event-pipeline/internal/events"
	"github.com/edupulse/event-pipeline/internal/health"
	"github.com/edupulse/event-pipeline/internal/logger"
	"github.com/edupulse/event-pipeline/internal/metrics"
	"github.com/edupulse/event-pipeline/internal/middleware"
	"github.com/edupulse/event-pipeline/internal/repository"
	"github.com/edupulse/event-pipeline/internal/router"
	"github.com/edupulse/event-pipeline/internal/ws"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.Auth.RequireAuth && cfg.Auth.APIKey == "" {
		log.Error("REQUIRE_AUTH is set but API_KEY is empty")
		os.Exit(1)
	}

	db, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	dbStats := metrics.NewDBStatsCollector(db.DB, log)
	dbStats.Start(15 * time.Second)
	defer dbStats.Stop()

	eventRepo := repository.NewEventRepo(db)

	rt := router.New(router.Config{
		QueueSize:      cfg.Router.MaxQueueSize,
		MaxSubscribers: cfg.Router.MaxSubscribers,
	}, log)
	rt.Start()

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: cfg.Auth.TokenSecret,
		Expiry: cfg.Auth.TokenExpiry,
		Issuer: cfg.Auth.Issuer,
	})

	validator := events.NewValidator(cfg.Payload.MaxKeys, cfg.Payload.MaxBytes)

	var archiver api.Archiver
	if cfg.Archive.Enabled() {
		svc, err := archive.NewService(cfg.Archive, log)
		if err != nil {
			log.Error("failed to initialize archive service", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = svc
		log.Info("event archiving enabled", slog.String("bucket", cfg.Archive.Bucket))
	}

	apiHandler := api.NewHandler(eventRepo, rt, validator, tokenService, archiver, log)
	wsHandler := ws.NewHandler(rt, eventRepo, validator, tokenService, cfg.WS, cfg.Auth, log)
	healthHandler := health.NewHandler(db, rt, config.Version, 5*time.Second)
	authMW := middleware.NewAuthMiddleware(cfg.Auth.APIKey, cfg.Auth.RequireAuth)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.Origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	health.RegisterRoutes(r, healthHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	limits := api.RateLimiters{
		Publish: middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit.Publish, time.Minute)),
		Query:   middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit.Query, time.Minute)),
		Admin:   middleware.RateLimit(middleware.NewRateLimiter(cfg.RateLimit.Admin, time.Minute)),
	}
	api.RegisterRoutes(r, apiHandler, authMW, limits)
	ws.RegisterRoutes(r, wsHandler)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server",
			slog.String("addr", addr),
			slog.String("version", config.Version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}

	// Stop the dispatch loop only after the HTTP listeners have drained
	// so in-flight publishes still enqueue.
	rt.Stop()

	log.Info("server exited")
}

// setupDatabase opens and verifies the PostgreSQL connection pool.
func setupDatabase(cfg *config.Config, log *slog.Logger) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("dbname", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port))
	return db, nil
}
