package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	"go.opentelemetry.io/otel"
)

type ReconcilerConfig struct {
	OrderTTL    time.Duration
	RetryWindow time.Duration
	MatchWindow time.Duration
}

type ProcessResult struct {
	Ingest IngestResult
	Match  *MatchResult
}

func (r *ProcessResult) Matched() bool {
	return r != nil && r.Match != nil && r.Match.Outcome == MatchMatched
}

// Reconciler ties ingestion to matching and runs the periodic sweeps.
type Reconciler struct {
	inbox     *Inbox
	matcher   *Matcher
	pusher    *Pusher
	orders    repository.OrderRepository
	payments  repository.PaymentRepository
	publisher EventPublisher
	cfg       ReconcilerConfig
	now       func() time.Time
}

func NewReconciler(
	inbox *Inbox,
	matcher *Matcher,
	pusher *Pusher,
	orders repository.OrderRepository,
	payments repository.PaymentRepository,
	publisher EventPublisher,
	cfg ReconcilerConfig,
	now func() time.Time,
) *Reconciler {
	return &Reconciler{
		inbox:     inbox,
		matcher:   matcher,
		pusher:    pusher,
		orders:    orders,
		payments:  payments,
		publisher: publisher,
		cfg:       cfg,
		now:       now,
	}
}

// ProcessNotification ingests n and tries to match it straight away. A
// matching failure is logged and left to the rematch sweep; it never fails
// the ingestion.
func (r *Reconciler) ProcessNotification(ctx context.Context, n Notification, sig *Signature) (*ProcessResult, error) {
	ing, err := r.inbox.Ingest(ctx, n, sig)
	if err != nil {
		return nil, err
	}
	res := &ProcessResult{Ingest: *ing}
	if ing.Outcome != IngestCreated {
		return res, nil
	}

	p := ing.Payment
	publish(ctx, r.publisher, TopicPayments, Event{
		Type:              EventPaymentReceived,
		PaymentID:         p.ID,
		ProviderReference: p.ProviderReference,
		Amount:            p.Amount.String(),
		OccurredAt:        r.now(),
	})

	match, err := r.matcher.Match(ctx, p)
	if err != nil {
		slog.Error("matching failed, payment kept for rematch", "payment_id", p.ID, "provider_reference", p.ProviderReference, "error", err)
		return res, nil
	}
	res.Match = match
	return res, nil
}

// ExpireStale moves waiting orders older than the order TTL to EXPIRED.
func (r *Reconciler) ExpireStale(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "ExpireStale")
	defer span.End()

	cutoff := r.now().Add(-r.cfg.OrderTTL)
	ids, err := r.orders.ExpireStale(ctx, cutoff)
	if err != nil {
		observability.SweepResults.WithLabelValues("expire", "error").Inc()
		return 0, fmt.Errorf("failed to expire stale orders: %w", err)
	}
	for _, id := range ids {
		publish(ctx, r.publisher, TopicPromotions, Event{Type: EventPromotionExpired, OrderID: id, Status: "EXPIRED", OccurredAt: r.now()})
	}
	observability.SweepResults.WithLabelValues("expire", "affected").Add(float64(len(ids)))
	if len(ids) > 0 {
		slog.Info("expired stale orders", "count", len(ids), "cutoff", cutoff)
	}
	return len(ids), nil
}

// RetryPushes re-prompts payers for recent orders that never got a provider
// transaction id. One failing order does not stop the sweep.
func (r *Reconciler) RetryPushes(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "RetryPushes")
	defer span.End()

	orders, err := r.orders.ListRetryable(ctx, r.now().Add(-r.cfg.RetryWindow))
	if err != nil {
		observability.SweepResults.WithLabelValues("retry", "error").Inc()
		return 0, fmt.Errorf("failed to list retryable orders: %w", err)
	}

	pushed := 0
	for i := range orders {
		o := &orders[i]
		reference := fmt.Sprintf("%s (retry)", pushReference(o.ID))
		txID, err := r.pusher.Push(ctx, o, reference, fmt.Sprintf("Boost listing %d", o.ListingID))
		if err != nil {
			observability.SweepResults.WithLabelValues("retry", "failed").Inc()
			slog.Warn("retry push failed", "order_id", o.ID, "error", err)
			continue
		}
		pushed++
		slog.Info("retry push succeeded", "order_id", o.ID, "provider_tx_id", txID)
	}
	observability.SweepResults.WithLabelValues("retry", "affected").Add(float64(pushed))
	return pushed, nil
}

// Rematch runs the matcher again for recent unlinked payments, which covers
// payments that arrived before their order existed.
func (r *Reconciler) Rematch(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("reconciler").Start(ctx, "Rematch")
	defer span.End()

	payments, err := r.payments.ListUnmatched(ctx, r.now().Add(-r.cfg.MatchWindow), 200)
	if err != nil {
		observability.SweepResults.WithLabelValues("rematch", "error").Inc()
		return 0, fmt.Errorf("failed to list unmatched payments: %w", err)
	}

	matched := 0
	for i := range payments {
		res, err := r.matcher.Match(ctx, &payments[i])
		if err != nil {
			slog.Warn("rematch failed", "payment_id", payments[i].ID, "error", err)
			continue
		}
		if res.Outcome == MatchMatched {
			matched++
		}
	}
	observability.SweepResults.WithLabelValues("rematch", "affected").Add(float64(matched))
	if matched > 0 {
		slog.Info("rematch linked payments", "matched", matched, "scanned", len(payments))
	}
	return matched, nil
}
