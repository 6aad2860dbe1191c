// Package main is the entry point for the conseq reservation sweeper.
// It periodically marks overdue block reservations as expired.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"conseq/internal/domain/sequence"
	"conseq/internal/infrastructure/storage/postgres"
	"conseq/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting conseq sweeper")

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(mustEnv("DATABASE_URL")))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)
	repo := postgres.NewSequenceRepo(txManager)
	service := sequence.NewService(sequence.ServiceConfig{
		Repo:      repo,
		TxManager: txManager,
	})

	interval := getEnvDuration("SWEEP_INTERVAL", 1*time.Minute)
	sweeper := NewSweeper(service, interval, log)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down sweeper...")
	cancel()

	wg.Wait()
	log.Info("sweeper stopped")
}

// Sweeper runs the expiry sweep on a fixed schedule.
type Sweeper struct {
	service  *sequence.Service
	interval time.Duration
	log      *logger.Logger
}

func NewSweeper(service *sequence.Service, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
		log:      log.WithComponent("sweeper"),
	}
}

// Run sweeps until the context is cancelled. A failed sweep is logged and
// retried on the next tick; overdue blocks stay consumable until a sweep
// marks them, so missing a tick is harmless.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	expired, err := s.service.ExpireReservations(ctx)
	if err != nil {
		s.log.Errorw("sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.log.Infow("sweep completed",
			"expired", expired,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
