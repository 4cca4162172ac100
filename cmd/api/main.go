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

	"busticket/internal/api"
	"busticket/internal/application/factories/infrastructure"
	"busticket/internal/auth"
	"busticket/internal/config"
	"busticket/internal/usecase"
	"busticket/internal/worker"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	deps, err := infraFactory.Deps(ctx)
	if err != nil {
		logger.Error("failed to init dependencies", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Storage.Driver == "memory" {
		// no separate worker process in this mode
		housekeeping := worker.New(deps.Locks, usecase.NewExpireBookings(deps), cfg.Booking.SweepInterval, logger)
		go housekeeping.Run(ctx)
	} else {
		redisClient, err = infraFactory.Redis(ctx)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
	}

	handlers := api.NewHandlers(api.NewUseCases(deps), cfg.Auth.WebhookSecret, logger)
	router := api.NewRouter(handlers, auth.NewTokens(cfg.Auth.JWTSecret), redisClient, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.HTTP.Port, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exiting")
}
