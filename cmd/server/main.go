// Package main is the entry point for the conseq API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conseq/internal/core/retry"
	"conseq/internal/core/security"
	"conseq/internal/domain/sequence"
	v1 "conseq/internal/infrastructure/http/v1"
	"conseq/internal/infrastructure/http/v1/middleware"
	"conseq/internal/infrastructure/storage/postgres"
	"conseq/pkg/logger"
)

func main() {
	logCfg := logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	}
	if path := getEnv("LOG_FILE", ""); path != "" {
		logCfg.File = &logger.FileConfig{Path: path}
	}
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting conseq server")

	// --- Database connection ---
	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	if maxConns := getEnvInt("DB_MAX_CONNS", 0); maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	// --- Domain service ---
	txManager := postgres.NewTxManager(pool)
	repo := postgres.NewSequenceRepo(txManager)

	svcCfg := sequence.ServiceConfig{
		Repo:      repo,
		TxManager: txManager,
	}
	if attempts := getEnvInt("RETRY_MAX_ATTEMPTS", 0); attempts > 0 {
		svcCfg.Retry = retry.Policy{
			MaxAttempts: attempts,
			Delay:       getEnvDuration("RETRY_DELAY", 200*time.Millisecond),
		}
	}
	if ttl := getEnvDuration("BLOCK_TTL", 0); ttl > 0 {
		svcCfg.BlockTTL = ttl
	}
	service := sequence.NewService(svcCfg)

	// --- Token validation (optional) ---
	var validator middleware.ActorValidator
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		validator = security.NewJWTService(security.DefaultJWTConfig(secret))
		log.Info("bearer token validation enabled")
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:      pool,
		Logger:    log,
		Validator: validator,
		Service:   service,
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
