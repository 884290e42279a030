package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ticketgate/server/internal/auth"
	"github.com/ticketgate/server/internal/config"
	"github.com/ticketgate/server/internal/db"
	"github.com/ticketgate/server/internal/device"
	httphandler "github.com/ticketgate/server/internal/http"
	"github.com/ticketgate/server/internal/http/handlers"
	"github.com/ticketgate/server/internal/logger"
	"github.com/ticketgate/server/internal/middleware"
	"github.com/ticketgate/server/internal/repo"
	"github.com/ticketgate/server/internal/scan"
)

func main() {
	_ = godotenv.Load(".env")

	lg := logger.New()
	defer func() { _ = lg.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		lg.Fatalw("failed to load configuration", "error", err)
	}

	ctx := context.Background()

	lg.Infow("connecting to database", "dsn", db.RedactDSN(cfg.DatabaseURL))
	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Fatalw("failed to open database", "error", err)
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		lg.Fatalw("failed to run migrations", "error", err)
	}

	deviceRepo := repo.NewDeviceRepo(database)
	tokenRepo := repo.NewTokenRepo(database)
	userRepo := repo.NewUserRepo(database)
	eventRepo := repo.NewEventRepo(database)
	ticketRepo := repo.NewTicketRepo(database)
	scanLogRepo := repo.NewScanLogRepo(database)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	resolver := auth.NewPrincipalResolver(userRepo)
	authService := auth.NewAuthService(jwtService, resolver, deviceRepo, tokenRepo, userRepo, cfg.DeviceTokenTTL, cfg.AdminTokenTTL)
	registry := device.NewRegistry(deviceRepo, tokenRepo, eventRepo, userRepo)
	engine := scan.NewEngine(ticketRepo, scanLogRepo)

	authorizeLimiter, scanLimiter := buildLimiters(cfg, lg)

	authHandler := handlers.NewAuthHandler(authService, authorizeLimiter, lg)
	scanHandler := handlers.NewScanHandler(engine, lg)
	deviceHandler := handlers.NewDeviceHandler(registry, authService, scanLogRepo, lg)

	router := httphandler.NewRouter(authHandler, scanHandler, deviceHandler, authService, scanLimiter)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		lg.Infow("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatalw("server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Fatalw("server forced to shutdown", "error", err)
	}

	lg.Infow("server exited")
}

// buildLimiters selects per-process sliding windows or, when REDIS_URL
// is set, shared Redis counters so every instance enforces one quota.
func buildLimiters(cfg *config.Config, lg *zap.SugaredLogger) (middleware.Limiter, middleware.Limiter) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(cfg.AuthorizeRateWindow, cfg.AuthorizeRateMax),
			middleware.NewMemoryLimiter(cfg.ScanRateWindow, cfg.ScanRateMax)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		lg.Fatalw("invalid REDIS_URL", "error", err)
	}
	client := redis.NewClient(opts)
	lg.Infow("rate limiting via redis", "addr", opts.Addr)
	return middleware.NewRedisLimiter(client, "rl:authorize", cfg.AuthorizeRateWindow, cfg.AuthorizeRateMax),
		middleware.NewRedisLimiter(client, "rl:scan", cfg.ScanRateWindow, cfg.ScanRateMax)
}

// runMigrations runs database migrations using goose.
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repository root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
