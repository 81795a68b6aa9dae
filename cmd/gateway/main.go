package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/strataplatform/api-gateway/internal/config"
	"github.com/strataplatform/api-gateway/internal/counter"
	"github.com/strataplatform/api-gateway/internal/server"
	"github.com/strataplatform/api-gateway/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level := slog.LevelInfo
	if cfg.Server.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("api-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	// The counter store is optional: if it is down or disabled the gateway
	// serves without rate limiting rather than refusing traffic.
	var store counter.Store
	if cfg.RateLimit.Enabled {
		redisStore, err := counter.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logger.Warn("counter store unavailable, rate limiting disabled",
				slog.String("error", err.Error()))
		} else {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = redisStore.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warn("counter store unreachable, rate limiting disabled",
					slog.String("error", err.Error()))
				_ = redisStore.Close()
			} else {
				store = redisStore
			}
		}
	} else {
		logger.Info("rate limiting disabled by configuration")
	}

	srv, err := server.New(cfg, logger, store)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received",
		slog.Duration("grace_period", cfg.Server.ShutdownGrace))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("failed to close counter store", slog.String("error", err.Error()))
		}
	}
	if err := shutdownTracer(context.Background()); err != nil {
		logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
	}

	logger.Info("gateway stopped")
}
