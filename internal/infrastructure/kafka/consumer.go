package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	service "github.com/honeynil/PromoPaymentService/internal/services"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type NotificationProcessor interface {
	ProcessNotification(ctx context.Context, n service.Notification, sig *service.Signature) (*service.ProcessResult, error)
}

// Consumer feeds mobile-money notifications forwarded by upstream collectors
// into the same inbox and matcher as the webhook.
type Consumer struct {
	reader    *kafka.Reader
	processor NotificationProcessor

	deadLetter      KafkaProducer
	deadLetterTopic string
}

func NewConsumer(brokers []string, topic, groupID string, processor NotificationProcessor) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		processor: processor,
	}
}

// WithDeadLetter forwards messages that fail processing to topic.
func (c *Consumer) WithDeadLetter(producer KafkaProducer, topic string) *Consumer {
	c.deadLetter = producer
	c.deadLetterTopic = topic
	return c
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Kafka consumer stopped", "topic", c.reader.Config().Topic)
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			time.Sleep(time.Second)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key), "offset", msg.Offset)

		if err := c.handle(ctx, msg.Value); err != nil {
			slog.Error("failed to process notification", "topic", msg.Topic, "offset", msg.Offset, "error", err)
			c.sendToDeadLetter(ctx, msg)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("failed to commit Kafka message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message) {
	if c.deadLetter == nil {
		return
	}
	if err := c.deadLetter.Send(ctx, c.deadLetterTopic, string(msg.Key), msg.Value); err != nil {
		slog.Error("failed to dead-letter notification", "topic", c.deadLetterTopic, "offset", msg.Offset, "error", err)
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	n, err := decodeNotification(value)
	if err != nil {
		return err
	}
	res, err := c.processor.ProcessNotification(ctx, n, nil)
	if err != nil {
		return err
	}
	slog.Info("stream notification processed",
		"provider_reference", n.ProviderReference,
		"ingest", res.Ingest.Outcome,
		"matched", res.Matched())
	return nil
}

type notificationEvent struct {
	ProviderReference string          `json:"provider_reference"`
	TransactionID     string          `json:"transaction_id"`
	Phone             string          `json:"phone"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Reference         string          `json:"reference"`
	OccurredAt        string          `json:"occurred_at"`
}

func decodeNotification(value []byte) (service.Notification, error) {
	var event notificationEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return service.Notification{}, fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	ref := strings.TrimSpace(event.ProviderReference)
	if ref == "" {
		ref = strings.TrimSpace(event.TransactionID)
	}
	if ref == "" {
		return service.Notification{}, errors.New("notification without provider reference")
	}

	n := service.Notification{
		ProviderReference: ref,
		Phone:             event.Phone,
		Amount:            event.Amount,
		Currency:          event.Currency,
		AccountReference:  event.Reference,
		Source:            models.SourceStream,
	}
	if event.OccurredAt != "" {
		occurredAt, err := time.Parse(time.RFC3339, event.OccurredAt)
		if err != nil {
			return service.Notification{}, fmt.Errorf("invalid occurred_at %q: %w", event.OccurredAt, err)
		}
		n.OccurredAt = occurredAt
	}
	return n, nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
