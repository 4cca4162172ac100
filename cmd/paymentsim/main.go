package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"busticket/internal/application/factories/infrastructure"
	"busticket/internal/clock"
	"busticket/internal/config"
	"busticket/internal/paymentsim"
	"busticket/internal/worker"
)

func main() {
	failureRate := flag.Float64("failure-rate", 0.1, "share of charges to decline, 0..1")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	if *failureRate < 0 || *failureRate > 1 {
		logger.Error("failure rate outside [0, 1]", "failure_rate", *failureRate)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go worker.ServeMetrics(ctx, cfg.Metrics.Addr, logger)

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	st, err := infraFactory.Storage(ctx)
	if err != nil {
		logger.Error("failed to init storage", "error", err)
		os.Exit(1)
	}

	sim := paymentsim.New(st.Tx, st.Inbox, st.Outbox, *failureRate, clock.Real(), logger)

	kafkaConsumer := infraFactory.Consumer(paymentsim.Name, paymentsim.Handles...)
	defer kafkaConsumer.Close()

	logger.Info("payment gateway simulator started", "failure_rate", *failureRate)

	if err := kafkaConsumer.Run(ctx, sim.Handle); err != nil {
		logger.Error("consumer stopped with error", "error", err)
	}

	logger.Info("payment gateway simulator exited")
}
