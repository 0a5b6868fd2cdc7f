package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var openStatuses = []models.OrderStatus{models.StatusWaitingForPayment, models.StatusPending}

type ActivationInput struct {
	OrderID int64
	// Status is PAID for payment-driven activation, APPROVED for operators.
	Status models.OrderStatus
	// From limits the statuses the order may be activated from. Empty means
	// any open status.
	From []models.OrderStatus
	// PlanID overrides the order's plan when non-zero.
	PlanID     int64
	Proof      *string
	PaymentID  *int64
	ApproverID *int64
}

type ActivationResult struct {
	Order *models.PromotionOrder
	// Activated is false when the order was already in a success state and
	// nothing changed.
	Activated bool
}

// Activator is the only code path that moves an order into a success state
// and boosts its listing.
type Activator struct {
	orders    repository.OrderRepository
	plans     repository.PlanRepository
	codes     *CodeGenerator
	publisher EventPublisher
	now       func() time.Time
}

func NewActivator(orders repository.OrderRepository, plans repository.PlanRepository, codes *CodeGenerator, publisher EventPublisher, now func() time.Time) *Activator {
	return &Activator{orders: orders, plans: plans, codes: codes, publisher: publisher, now: now}
}

func (a *Activator) Activate(ctx context.Context, in ActivationInput) (*ActivationResult, error) {
	tracer := otel.Tracer("activator")
	ctx, span := tracer.Start(ctx, "Activate")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", in.OrderID), attribute.String("status", string(in.Status)))

	order, err := a.orders.GetByID(ctx, in.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.Status.IsSuccess() {
		slog.Info("order already active, nothing to do", "order_id", order.ID, "status", order.Status)
		return &ActivationResult{Order: order}, nil
	}
	if !order.Status.IsOpen() {
		span.SetStatus(codes.Error, "order terminal")
		return nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrAlreadyTerminal, order.ID, order.Status)
	}

	from := in.From
	if len(from) == 0 {
		from = openStatuses
	}
	act, plan, err := a.prepare(ctx, order, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation prepare failed")
		return nil, err
	}
	act.OrderID = order.ID
	act.From = from

	updated, err := a.orders.Activate(ctx, act)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidTransition) {
			// lost a race: someone else moved the order first
			current, getErr := a.orders.GetByID(ctx, order.ID)
			if getErr == nil && current.Status.IsSuccess() {
				return &ActivationResult{Order: current}, nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		slog.Error("failed to activate order", "order_id", order.ID, "error", err)
		return nil, err
	}

	a.activated(ctx, updated, plan)
	return &ActivationResult{Order: updated, Activated: true}, nil
}

// ActivateNew creates order and activates it in the same transaction, for
// boosts that are paid before any order exists.
func (a *Activator) ActivateNew(ctx context.Context, order *models.PromotionOrder, in ActivationInput) (*models.PromotionOrder, error) {
	tracer := otel.Tracer("activator")
	ctx, span := tracer.Start(ctx, "ActivateNew")
	defer span.End()
	span.SetAttributes(attribute.Int64("listing_id", order.ListingID), attribute.String("status", string(in.Status)))

	order.Status = models.StatusWaitingForPayment
	act, plan, err := a.prepare(ctx, order, in)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	act.NewOrder = order
	act.From = []models.OrderStatus{models.StatusWaitingForPayment}

	updated, err := a.orders.Activate(ctx, act)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed")
		slog.Error("failed to create and activate order", "listing_id", order.ListingID, "error", err)
		return nil, err
	}

	a.activated(ctx, updated, plan)
	return updated, nil
}

func (a *Activator) prepare(ctx context.Context, order *models.PromotionOrder, in ActivationInput) (*models.Activation, *models.Plan, error) {
	if !in.Status.IsSuccess() {
		return nil, nil, fmt.Errorf("%w: cannot activate into %s", pkgerrors.ErrInvalidTransition, in.Status)
	}
	planID := order.PlanID
	if in.PlanID != 0 {
		planID = in.PlanID
	}
	plan, err := a.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}

	code := ""
	if order.PromotionCode != nil && *order.PromotionCode != "" {
		code = *order.PromotionCode
	} else if code, err = a.codes.Generate(ctx); err != nil {
		return nil, nil, err
	}

	now := a.now()
	return &models.Activation{
		Status:     in.Status,
		PlanID:     plan.ID,
		Code:       code,
		Proof:      in.Proof,
		ApproverID: in.ApproverID,
		ApprovedAt: now,
		ExpiresAt:  now.Add(plan.Duration()),
		PaymentID:  in.PaymentID,
		ListingID:  order.ListingID,
		BoostLevel: plan.Tier(),
	}, plan, nil
}

func (a *Activator) activated(ctx context.Context, o *models.PromotionOrder, plan *models.Plan) {
	observability.PromotionActivations.WithLabelValues(string(o.Status)).Inc()
	slog.Info("promotion activated",
		"order_id", o.ID,
		"listing_id", o.ListingID,
		"plan", plan.Name,
		"status", o.Status,
		"boost_level", plan.Tier(),
		"expires_at", o.ExpiresAt)
	publish(ctx, a.publisher, TopicPromotions, Event{
		Type:       EventPromotionActivated,
		OrderID:    o.ID,
		ListingID:  o.ListingID,
		Status:     string(o.Status),
		Amount:     o.ExpectedAmount.String(),
		OccurredAt: a.now(),
	})
}
