package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type MatchOutcome string

const (
	MatchMatched   MatchOutcome = "matched"
	MatchUnmatched MatchOutcome = "unmatched"
	// MatchConflict means an order was found but another payment or an
	// operator got to it first. The payment stays unlinked for review.
	MatchConflict MatchOutcome = "conflict"
)

const (
	priorityExact = 1
	priorityFuzzy = 2
)

var promoTag = regexp.MustCompile(`(?i)promo\s*#?\s*(\d+)`)

type MatchResult struct {
	Outcome  MatchOutcome
	Order    *models.PromotionOrder
	Priority int
}

type Matcher struct {
	orders    repository.OrderRepository
	payments  repository.PaymentRepository
	activator *Activator
	publisher EventPublisher
	window    time.Duration
	now       func() time.Time
}

func NewMatcher(orders repository.OrderRepository, payments repository.PaymentRepository, activator *Activator, publisher EventPublisher, window time.Duration, now func() time.Time) *Matcher {
	return &Matcher{
		orders:    orders,
		payments:  payments,
		activator: activator,
		publisher: publisher,
		window:    window,
		now:       now,
	}
}

// Match pairs p with at most one waiting order and activates it. Not finding
// an order is a normal outcome, not an error.
func (m *Matcher) Match(ctx context.Context, p *models.IncomingPayment) (*MatchResult, error) {
	tracer := otel.Tracer("matcher")
	ctx, span := tracer.Start(ctx, "Match")
	defer span.End()

	if p == nil {
		return nil, pkgerrors.ErrNilPayment
	}
	span.SetAttributes(attribute.Int64("payment_id", p.ID), attribute.String("provider_reference", p.ProviderReference))

	if p.Linked || p.Rejected {
		return &MatchResult{Outcome: MatchUnmatched}, nil
	}

	order, priority, err := m.find(ctx, p)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order == nil {
		observability.PaymentMatch.WithLabelValues(string(MatchUnmatched), "0").Inc()
		slog.Info("payment unmatched", "payment_id", p.ID, "provider_reference", p.ProviderReference, "amount", p.Amount)
		return &MatchResult{Outcome: MatchUnmatched}, nil
	}
	span.SetAttributes(attribute.Int64("order_id", order.ID), attribute.Int("priority", priority))

	proof := p.ProviderReference
	paymentID := p.ID
	res, err := m.activator.Activate(ctx, ActivationInput{
		OrderID:   order.ID,
		Status:    models.StatusPaid,
		From:      []models.OrderStatus{models.StatusWaitingForPayment},
		Proof:     &proof,
		PaymentID: &paymentID,
	})
	switch {
	case err == nil && res.Activated:
	case err == nil,
		stderrors.Is(err, pkgerrors.ErrInvalidTransition),
		stderrors.Is(err, pkgerrors.ErrAlreadyTerminal),
		stderrors.Is(err, pkgerrors.ErrPaymentAlreadyLinked):
		observability.PaymentMatch.WithLabelValues(string(MatchConflict), strconv.Itoa(priority)).Inc()
		slog.Warn("payment matched an order that is no longer open",
			"payment_id", p.ID, "order_id", order.ID, "priority", priority, "error", err)
		return &MatchResult{Outcome: MatchConflict, Order: order, Priority: priority}, nil
	default:
		span.RecordError(err)
		return nil, fmt.Errorf("failed to activate matched order %d: %w", order.ID, err)
	}

	observability.PaymentMatch.WithLabelValues(string(MatchMatched), strconv.Itoa(priority)).Inc()
	slog.Info("payment matched", "payment_id", p.ID, "order_id", order.ID, "priority", priority)
	publish(ctx, m.publisher, TopicPayments, Event{
		Type:              EventPaymentMatched,
		OrderID:           order.ID,
		PaymentID:         p.ID,
		ProviderReference: p.ProviderReference,
		Amount:            p.Amount.String(),
		OccurredAt:        m.now(),
	})
	return &MatchResult{Outcome: MatchMatched, Order: res.Order, Priority: priority}, nil
}

func (m *Matcher) find(ctx context.Context, p *models.IncomingPayment) (*models.PromotionOrder, int, error) {
	order, err := m.orders.FindWaitingByProviderTxID(ctx, p.ProviderReference)
	switch {
	case err == nil:
		return order, priorityExact, nil
	case !stderrors.Is(err, pkgerrors.ErrNotFound):
		return nil, 0, err
	}

	if id, ok := taggedOrderID(p.AccountReference); ok {
		order, err := m.orders.GetByID(ctx, id)
		switch {
		case err == nil && order.Status == models.StatusWaitingForPayment:
			return order, priorityExact, nil
		case err != nil && !stderrors.Is(err, pkgerrors.ErrNotFound):
			return nil, 0, err
		}
	}

	candidates, err := m.orders.FindWaitingCandidates(ctx, p.Amount, m.since(p))
	if err != nil {
		return nil, 0, err
	}
	for i := range candidates {
		if PhonesMatch(candidates[i].ExpectedPhone, p.Phone) {
			return &candidates[i], priorityFuzzy, nil
		}
	}
	return nil, 0, nil
}

// since anchors the recency window on when the payment arrived, so a later
// rematch sees the same candidates as the first attempt did.
func (m *Matcher) since(p *models.IncomingPayment) time.Time {
	ref := p.ReceivedAt
	if ref.IsZero() {
		ref = m.now()
	}
	return ref.Add(-m.window)
}

func taggedOrderID(reference string) (int64, bool) {
	match := promoTag.FindStringSubmatch(reference)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	return id, err == nil
}

type Candidate struct {
	Payment    models.IncomingPayment `json:"payment"`
	PhoneMatch bool                   `json:"phone_match"`
	ExactMatch bool                   `json:"exact_match"`
}

// Candidates lists unlinked payments that could settle the order. It is a
// read-only diagnostic.
func (m *Matcher) Candidates(ctx context.Context, orderID int64) ([]Candidate, error) {
	order, err := m.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	payments, err := m.payments.ListUnmatched(ctx, order.CreatedAt.Add(-m.window), 500)
	if err != nil {
		return nil, err
	}

	out := []Candidate{}
	for _, p := range payments {
		exact := order.ProviderTxID != nil && *order.ProviderTxID == p.ProviderReference
		if id, ok := taggedOrderID(p.AccountReference); ok && id == order.ID {
			exact = true
		}
		if !exact && !p.Amount.Equal(order.ExpectedAmount) {
			continue
		}
		out = append(out, Candidate{Payment: p, PhoneMatch: PhonesMatch(order.ExpectedPhone, p.Phone), ExactMatch: exact})
	}
	return out, nil
}
