package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"busticket/internal/domain/event"

	"github.com/segmentio/kafka-go"
)

// typeHeader carries the envelope type so consumers can skip events they do
// not handle without decoding them.
const typeHeader = "event-type"

type Config struct {
	Brokers []string
	Topic   string
}

// Producer publishes booking events synchronously and waits for every in-sync
// replica.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg Config) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            5,
		BatchTimeout:           10 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w}
}

func (p *Producer) Publish(ctx context.Context, msg event.Message) error {
	m, err := toKafka(msg)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("write %s %s to %s: %w", msg.Type, msg.ID, p.writer.Topic, err)
	}
	return nil
}

// toKafka keys the envelope by booking so all events of one booking share a
// partition. Events without a booking fall back to their own ID.
func toKafka(msg event.Message) (kafka.Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal %s envelope: %w", msg.Type, err)
	}
	key := msg.CorrelationID
	if key == "" {
		key = msg.ID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: typeHeader, Value: []byte(msg.Type)},
		},
		Time: msg.OccurredAt,
	}, nil
}

func (p *Producer) Topic() string {
	return p.writer.Topic
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
