package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

const (
	TopicPayments   = "payments"
	TopicPromotions = "promotions"
)

const (
	EventPaymentReceived    = "payment.received"
	EventPaymentMatched     = "payment.matched"
	EventPromotionActivated = "promotion.activated"
	EventPromotionRejected  = "promotion.rejected"
	EventPromotionExpired   = "promotion.expired"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Event struct {
	Type              string    `json:"event_type"`
	OrderID           int64     `json:"order_id,omitempty"`
	PaymentID         int64     `json:"payment_id,omitempty"`
	ListingID         int64     `json:"listing_id,omitempty"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	Status            string    `json:"status,omitempty"`
	Amount            string    `json:"amount,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// publish never fails the caller: events are notifications, the database is
// the record.
func publish(ctx context.Context, p EventPublisher, topic string, e Event) {
	if p == nil {
		return
	}
	key := strconv.FormatInt(e.OrderID, 10)
	if e.OrderID == 0 {
		key = e.ProviderReference
	}
	if err := p.Publish(ctx, topic, key, e); err != nil {
		slog.Error("failed to publish event", "topic", topic, "event_type", e.Type, "error", err)
	}
}
