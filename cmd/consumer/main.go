package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"busticket/internal/application/factories/infrastructure"
	"busticket/internal/config"
	domainEvent "busticket/internal/domain/event"
	"busticket/internal/usecase"
	"busticket/internal/worker"
)

const consumerName = "booking-service"

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

	deps, err := infraFactory.Deps(ctx)
	if err != nil {
		logger.Error("failed to init dependencies", "error", err)
		os.Exit(1)
	}

	results := usecase.NewHandlePaymentResult(deps)

	kafkaConsumer := infraFactory.Consumer(consumerName, usecase.PaymentResultTypes...)
	defer kafkaConsumer.Close()

	logger.Info("booking consumer started", "consumer", consumerName, "topic", cfg.Kafka.Topic)

	err = kafkaConsumer.Run(ctx, func(ctx context.Context, msg domainEvent.Message) error {
		return results.HandleEvent(ctx, consumerName, msg)
	})
	if err != nil {
		logger.Error("consumer stopped with error", "error", err)
	}

	logger.Info("booking consumer exited")
}
