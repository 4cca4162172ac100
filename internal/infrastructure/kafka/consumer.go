package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"busticket/internal/domain/event"

	"github.com/segmentio/kafka-go"
)

const maxRetries = 5

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// StartOffset applies while the group has no committed offset:
	// "earliest" (default) or "latest".
	StartOffset string
	// Types limits the handler to these event types. Empty means all.
	Types []string
}

// Handler processes one envelope. Returning an error retries the message
// with backoff; after maxRetries it is dropped.
type Handler func(ctx context.Context, msg event.Message) error

type Consumer struct {
	reader  *kafka.Reader
	log     *slog.Logger
	backoff func(attempt int) time.Duration
	types   map[string]bool
}

func NewConsumer(cfg ConsumerConfig, log *slog.Logger) *Consumer {
	startOffset := kafka.FirstOffset
	if strings.EqualFold(strings.TrimSpace(cfg.StartOffset), "latest") {
		startOffset = kafka.LastOffset
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false, // Force IPv4
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,    // Process immediately
		MaxBytes:    10e6, // 10MB
		MaxWait:     1 * time.Second,
		Dialer:      dialer,
		StartOffset: startOffset,
	})
	var types map[string]bool
	if len(cfg.Types) > 0 {
		types = make(map[string]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			types[t] = true
		}
	}
	return &Consumer{
		reader:  r,
		log:     log.With("topic", cfg.Topic, "group_id", cfg.GroupID),
		backoff: func(attempt int) time.Duration { return time.Duration(1<<attempt) * time.Second },
		types:   types,
	}
}

// wants reports whether msg goes to the handler. A message without a type
// header is decoded and handed over so the handler can decide.
func (c *Consumer) wants(msg kafka.Message) bool {
	if c.types == nil {
		return true
	}
	for _, h := range msg.Headers {
		if h.Key == typeHeader {
			return c.types[string(h.Value)]
		}
	}
	return true
}

// Run feeds every message to handle until ctx is cancelled. Offsets are
// committed only after the handler succeeded or the message was dropped.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("failed to fetch message", "error", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if c.wants(msg) {
			c.process(ctx, msg.Value, handle)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("failed to commit kafka message", "error", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, value []byte, handle Handler) {
	var ev event.Message
	if err := json.Unmarshal(value, &ev); err != nil {
		// Not our envelope (or corrupt). Commit and move on.
		c.log.Error("failed to unmarshal event envelope", "error", err)
		return
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log.Info("retry attempt", "attempt", attempt, "max", maxRetries, "backoff", backoff, "event_id", ev.ID)
			if !sleep(ctx, backoff) {
				return
			}
		}

		err := handle(ctx, ev)
		if err == nil {
			return
		}
		c.log.Error("processing failed", "event_id", ev.ID, "type", ev.Type, "error", err)
	}
	c.log.Error("DLQ: dropping message after retries", "retries", maxRetries, "event_id", ev.ID, "type", ev.Type)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
