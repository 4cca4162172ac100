package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"busticket/internal/application/factories/infrastructure"
	"busticket/internal/config"
	"busticket/internal/usecase"
	"busticket/internal/worker"
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

	kafkaProd := infraFactory.Producer()
	defer kafkaProd.Close()

	poller := worker.NewOutboxPoller(deps.Outbox, kafkaProd, logger)
	housekeeping := worker.New(deps.Locks, usecase.NewExpireBookings(deps), cfg.Booking.SweepInterval, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		worker.ServeMetrics(ctx, cfg.Metrics.Addr, logger)
	}()
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil {
			logger.Error("outbox poller stopped with error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := housekeeping.Run(ctx); err != nil {
			logger.Error("housekeeping stopped with error", "error", err)
		}
	}()

	wg.Wait()
	logger.Info("worker exited")
}
