package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// TopicNotifications carries raw payment notifications from upstream
// collectors. Outbound event topics are named by the publishing service.
const TopicNotifications = "mobile-money-notifications"

// TopicNotificationsDLQ holds notifications the consumer could not process.
const TopicNotificationsDLQ = TopicNotifications + ".dlq"

type KafkaProducer interface {
	Send(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("async Kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}
	return &Producer{writer: writer}
}

func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	slog.Debug("Kafka message sent", "topic", topic, "key", key)
	return nil
}

// Publish marshals event as JSON and sends it keyed by key, so events for
// one order land on one partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal Kafka event: %w", err)
	}
	return p.Send(ctx, topic, key, value)
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}
