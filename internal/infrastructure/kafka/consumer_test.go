package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	service "github.com/honeynil/PromoPaymentService/internal/services"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	got []service.Notification
	err error
}

func (p *recordingProcessor) ProcessNotification(_ context.Context, n service.Notification, sig *service.Signature) (*service.ProcessResult, error) {
	p.got = append(p.got, n)
	if p.err != nil {
		return nil, p.err
	}
	return &service.ProcessResult{Ingest: service.IngestResult{Outcome: service.IngestCreated}}, nil
}

func TestDecodeNotification(t *testing.T) {
	t.Run("provider reference", func(t *testing.T) {
		n, err := decodeNotification([]byte(`{"provider_reference":"TX1","phone":"0712345678","amount":"15.00","currency":"KES","reference":"Promo 7","occurred_at":"2026-03-01T10:00:00Z"}`))
		require.NoError(t, err)
		assert.Equal(t, "TX1", n.ProviderReference)
		assert.True(t, n.Amount.Equal(decimal.RequireFromString("15")))
		assert.Equal(t, "Promo 7", n.AccountReference)
		assert.Equal(t, models.SourceStream, n.Source)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), n.OccurredAt)
	})

	t.Run("transaction id fallback", func(t *testing.T) {
		n, err := decodeNotification([]byte(`{"transaction_id":"TX2","phone":"0712345678","amount":20}`))
		require.NoError(t, err)
		assert.Equal(t, "TX2", n.ProviderReference)
	})

	t.Run("missing reference", func(t *testing.T) {
		_, err := decodeNotification([]byte(`{"phone":"0712345678","amount":20}`))
		assert.Error(t, err)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := decodeNotification([]byte(`{"transaction_id":"TX3","amount":20,"occurred_at":"yesterday"}`))
		assert.Error(t, err)
	})
}

func TestConsumer_Handle(t *testing.T) {
	p := &recordingProcessor{}
	c := &Consumer{processor: p}

	require.NoError(t, c.handle(context.Background(), []byte(`{"transaction_id":"TX9","phone":"254712345678","amount":15}`)))
	require.Len(t, p.got, 1)
	assert.Equal(t, "TX9", p.got[0].ProviderReference)

	p.err = errors.New("db down")
	assert.Error(t, c.handle(context.Background(), []byte(`{"transaction_id":"TX10","amount":15}`)))
	assert.Error(t, c.handle(context.Background(), []byte(`not json`)))
}

type recordingProducer struct {
	topics []string
	values [][]byte
}

func (p *recordingProducer) Send(_ context.Context, topic, _ string, value []byte) error {
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestConsumer_DeadLetter(t *testing.T) {
	dlq := &recordingProducer{}
	c := (&Consumer{processor: &recordingProcessor{}}).WithDeadLetter(dlq, TopicNotificationsDLQ)

	c.sendToDeadLetter(context.Background(), kafka.Message{Key: []byte("TX1"), Value: []byte(`not json`)})
	require.Len(t, dlq.topics, 1)
	assert.Equal(t, "mobile-money-notifications.dlq", dlq.topics[0])
	assert.Equal(t, []byte(`not json`), dlq.values[0])

	(&Consumer{}).sendToDeadLetter(context.Background(), kafka.Message{})
}
