package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/redis"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const dedupNamespace = "payment"

type Notification struct {
	ProviderReference string
	Phone             string
	Amount            decimal.Decimal
	Currency          string
	AccountReference  string
	OccurredAt        time.Time
	Source            models.PaymentSource
}

// Signature carries the raw webhook body and the signature header sent with it.
type Signature struct {
	Payload []byte
	Value   string
}

type IngestOutcome string

const (
	IngestCreated   IngestOutcome = "created"
	IngestDuplicate IngestOutcome = "duplicate"
)

type IngestResult struct {
	Outcome IngestOutcome
	Payment *models.IncomingPayment
}

// Inbox turns raw notifications into deduplicated IncomingPayment records.
// The cache is a fast path only; the unique provider reference in storage is
// what guarantees a single record.
type Inbox struct {
	payments repository.PaymentRepository
	cache    redis.RedisClient
	secret   string
	currency string
	dedupTTL time.Duration
	now      func() time.Time
}

func NewInbox(payments repository.PaymentRepository, cache redis.RedisClient, secret, currency string, dedupTTL time.Duration, now func() time.Time) *Inbox {
	return &Inbox{
		payments: payments,
		cache:    cache,
		secret:   secret,
		currency: currency,
		dedupTTL: dedupTTL,
		now:      now,
	}
}

func dedupKey(reference string) string {
	return fmt.Sprintf("idempotent:%s:%s", dedupNamespace, reference)
}

// VerifySignature checks a hex HMAC-SHA256 of payload. An empty secret
// disables verification.
func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" {
		return true
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}

// Ingest validates, authenticates and stores one notification. sig is nil for
// trusted sources (operators, the internal stream).
func (in *Inbox) Ingest(ctx context.Context, n Notification, sig *Signature) (*IngestResult, error) {
	tracer := otel.Tracer("payment-inbox")
	ctx, span := tracer.Start(ctx, "Ingest")
	defer span.End()

	n.ProviderReference = strings.TrimSpace(n.ProviderReference)
	span.SetAttributes(attribute.String("provider_reference", n.ProviderReference), attribute.String("source", string(n.Source)))

	if n.ProviderReference == "" {
		span.SetStatus(codes.Error, "missing provider reference")
		observability.PaymentIngest.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: provider reference is required", pkgerrors.ErrValidation)
	}
	if !n.Amount.IsPositive() {
		span.SetStatus(codes.Error, "non-positive amount")
		observability.PaymentIngest.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}
	if sig != nil && !VerifySignature(in.secret, sig.Payload, sig.Value) {
		span.SetStatus(codes.Error, "invalid signature")
		observability.PaymentIngest.WithLabelValues("invalid_signature").Inc()
		slog.Warn("payment notification with invalid signature", "provider_reference", n.ProviderReference)
		return nil, pkgerrors.ErrInvalidSignature
	}

	key := dedupKey(n.ProviderReference)
	fresh, err := in.cache.SetNX(ctx, key, "1", in.dedupTTL)
	if err != nil {
		// the unique constraint still holds, so carry on without the cache
		slog.Warn("dedup cache unavailable", "provider_reference", n.ProviderReference, "error", err)
		fresh = true
	}
	if !fresh {
		observability.PaymentIngest.WithLabelValues(string(IngestDuplicate)).Inc()
		slog.Info("duplicate payment notification suppressed by cache", "provider_reference", n.ProviderReference)
		return &IngestResult{Outcome: IngestDuplicate}, nil
	}

	payment := &models.IncomingPayment{
		ProviderReference: n.ProviderReference,
		Phone:             strings.TrimSpace(n.Phone),
		Amount:            n.Amount,
		Currency:          n.Currency,
		AccountReference:  strings.TrimSpace(n.AccountReference),
		Source:            n.Source,
		OccurredAt:        n.OccurredAt,
	}
	if payment.Currency == "" {
		payment.Currency = in.currency
	}
	if payment.Source == "" {
		payment.Source = models.SourceWebhook
	}
	if payment.OccurredAt.IsZero() {
		payment.OccurredAt = in.now()
	}

	if err := in.payments.Create(ctx, payment); err != nil {
		if stderrors.Is(err, pkgerrors.ErrDuplicatePayment) {
			observability.PaymentIngest.WithLabelValues(string(IngestDuplicate)).Inc()
			slog.Info("duplicate payment notification", "provider_reference", n.ProviderReference)
			return &IngestResult{Outcome: IngestDuplicate}, nil
		}
		if delErr := in.cache.Del(ctx, key); delErr != nil {
			slog.Warn("failed to release dedup key", "provider_reference", n.ProviderReference, "error", delErr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment insert failed")
		observability.PaymentIngest.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	observability.PaymentIngest.WithLabelValues(string(IngestCreated)).Inc()
	slog.Info("payment ingested",
		"payment_id", payment.ID,
		"provider_reference", payment.ProviderReference,
		"amount", payment.Amount,
		"source", payment.Source)
	return &IngestResult{Outcome: IngestCreated, Payment: payment}, nil
}
