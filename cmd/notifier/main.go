package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"busticket/internal/application/factories/infrastructure"
	"busticket/internal/clock"
	"busticket/internal/config"
	"busticket/internal/notify"
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

	go worker.ServeMetrics(ctx, cfg.Metrics.Addr, logger)

	infraFactory := infrastructure.NewFactory(cfg, logger)
	defer infraFactory.Close()

	st, err := infraFactory.Storage(ctx)
	if err != nil {
		logger.Error("failed to init storage", "error", err)
		os.Exit(1)
	}

	svc := notify.NewService(st.Tx, st.Inbox, notify.LogSender{Log: logger}, clock.Real(), logger)

	kafkaConsumer := infraFactory.Consumer(notify.Name, notify.Handles...)
	defer kafkaConsumer.Close()

	logger.Info("notifier started")

	if err := kafkaConsumer.Run(ctx, svc.Handle); err != nil {
		logger.Error("consumer stopped with error", "error", err)
	}

	logger.Info("notifier exited")
}
