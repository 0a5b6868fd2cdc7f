package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsStaff() bool {
	return a.Role == RoleAgent || a.Role == RoleAdmin
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type OrderService struct {
	orders    repository.OrderRepository
	plans     repository.PlanRepository
	listings  repository.ListingRepository
	payments  repository.PaymentRepository
	pusher    *Pusher
	activator *Activator
	matcher   *Matcher
	ledger    *LedgerService
	publisher EventPublisher
	now       func() time.Time
}

func NewOrderService(
	orders repository.OrderRepository,
	plans repository.PlanRepository,
	listings repository.ListingRepository,
	payments repository.PaymentRepository,
	pusher *Pusher,
	activator *Activator,
	matcher *Matcher,
	ledger *LedgerService,
	publisher EventPublisher,
	now func() time.Time,
) *OrderService {
	return &OrderService{
		orders:    orders,
		plans:     plans,
		listings:  listings,
		payments:  payments,
		pusher:    pusher,
		activator: activator,
		matcher:   matcher,
		ledger:    ledger,
		publisher: publisher,
		now:       now,
	}
}

func (s *OrderService) ownedListing(ctx context.Context, userID, listingID int64) (*models.Listing, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != userID {
		return nil, fmt.Errorf("%w: listing %d belongs to another user", pkgerrors.ErrForbidden, listingID)
	}
	return listing, nil
}

// CreateOrder records a waiting order and prompts the payer. When the push
// fails the order is still returned together with an ErrGatewayFailure; the
// retry sweep picks it up later.
func (s *OrderService) CreateOrder(ctx context.Context, userID, listingID, planID int64, phone string) (*models.PromotionOrder, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("listing_id", listingID), attribute.Int64("plan_id", planID))

	phone = strings.TrimSpace(phone)
	if len(digitsOnly(phone)) < 9 {
		span.SetStatus(codes.Error, "invalid phone")
		return nil, fmt.Errorf("%w: phone number is required", pkgerrors.ErrValidation)
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	listing, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	order := &models.PromotionOrder{
		UserID:         userID,
		ListingID:      listing.ID,
		PlanID:         plan.ID,
		Status:         models.StatusWaitingForPayment,
		ExpectedPhone:  phone,
		ExpectedAmount: plan.Price,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		slog.Error("failed to create order", "user_id", userID, "listing_id", listingID, "error", err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	slog.Info("order created", "order_id", order.ID, "user_id", userID, "listing_id", listing.ID, "plan", plan.Name, "amount", order.ExpectedAmount)

	txID, err := s.pusher.Push(ctx, order, pushReference(order.ID), fmt.Sprintf("%s boost for %s", plan.Name, listing.Title))
	if err != nil {
		span.RecordError(err)
		slog.Error("payment prompt failed, order left for retry", "order_id", order.ID, "error", err)
		return order, err
	}
	slog.Info("payment prompt sent", "order_id", order.ID, "provider_tx_id", txID)
	return order, nil
}

// GetOrder lets owners see their own orders and staff see any order.
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, id int64) (*models.PromotionOrder, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID && !actor.IsStaff() {
		return nil, pkgerrors.ErrForbidden
	}
	return order, nil
}

func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.PromotionOrder, error) {
	return s.orders.ListByUser(ctx, userID)
}

// ListOrders is the agent queue. No statuses means the open ones.
func (s *OrderService) ListOrders(ctx context.Context, statuses []models.OrderStatus, limit int) ([]models.PromotionOrder, error) {
	if len(statuses) == 0 {
		statuses = openStatuses
	}
	return s.orders.ListByStatus(ctx, statuses, limit)
}

func (s *OrderService) Candidates(ctx context.Context, actor Actor, orderID int64) ([]Candidate, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.matcher.Candidates(ctx, orderID)
}

// LinkPayment attaches a payment to a waiting order by hand and moves the
// order to PENDING for finalization.
func (s *OrderService) LinkPayment(ctx context.Context, actor Actor, orderID, paymentID int64) (*models.PromotionOrder, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "LinkPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID), attribute.Int64("payment_id", paymentID))

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.orders.LinkPayment(ctx, orderID, paymentID, payment.ProviderReference); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "link failed")
		slog.Error("failed to link payment", "order_id", orderID, "payment_id", paymentID, "error", err)
		return nil, err
	}
	slog.Info("payment linked", "order_id", orderID, "payment_id", paymentID, "agent_id", actor.UserID)
	return s.orders.GetByID(ctx, orderID)
}

// Finalize activates a PENDING order whose payment was linked by an agent.
func (s *OrderService) Finalize(ctx context.Context, actor Actor, orderID int64) (*models.PromotionOrder, error) {
	approver := actor.UserID
	res, err := s.activator.Activate(ctx, ActivationInput{
		OrderID:    orderID,
		Status:     models.StatusPaid,
		From:       []models.OrderStatus{models.StatusPending},
		ApproverID: &approver,
	})
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

// Approve activates an open order on an operator's word, optionally under a
// different plan.
func (s *OrderService) Approve(ctx context.Context, actor Actor, orderID, planID int64) (*models.PromotionOrder, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "Approve")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID), attribute.Int64("approver_id", actor.UserID))

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	switch {
	case order.Status.IsSuccess():
		return nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrAlreadyApproved, order.ID, order.Status)
	case order.Status.IsTerminal():
		return nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrAlreadyTerminal, order.ID, order.Status)
	}

	approver := actor.UserID
	res, err := s.activator.Activate(ctx, ActivationInput{
		OrderID:    orderID,
		Status:     models.StatusApproved,
		PlanID:     planID,
		ApproverID: &approver,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !res.Activated {
		return nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrAlreadyApproved, res.Order.ID, res.Order.Status)
	}
	return res.Order, nil
}

// Reject closes an open order. Rejecting an already rejected order is a no-op.
func (s *OrderService) Reject(ctx context.Context, actor Actor, orderID int64, reason string) (*models.PromotionOrder, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "Reject")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID))

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if order.Status == models.StatusRejected {
		return order, nil
	}
	if order.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrAlreadyTerminal, order.ID, order.Status)
	}

	var notes *string
	if reason = strings.TrimSpace(reason); reason != "" {
		notes = &reason
	}
	if err := s.orders.Transition(ctx, orderID, models.SourcesFor(models.StatusRejected), models.StatusRejected, notes); err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidTransition) {
			if current, getErr := s.orders.GetByID(ctx, orderID); getErr == nil && current.Status == models.StatusRejected {
				return current, nil
			}
			err = fmt.Errorf("%w: %v", pkgerrors.ErrAlreadyTerminal, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "reject failed")
		return nil, err
	}

	slog.Info("order rejected", "order_id", orderID, "agent_id", actor.UserID, "reason", reason)
	publish(ctx, s.publisher, TopicPromotions, Event{
		Type:       EventPromotionRejected,
		OrderID:    orderID,
		ListingID:  order.ListingID,
		Status:     string(models.StatusRejected),
		OccurredAt: s.now(),
	})
	return s.orders.GetByID(ctx, orderID)
}

// DirectPromote boosts a listing without any payment, on an admin's word.
func (s *OrderService) DirectPromote(ctx context.Context, actor Actor, listingID, planID int64) (*models.PromotionOrder, error) {
	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	approver := actor.UserID
	order := &models.PromotionOrder{
		UserID:         listing.OwnerID,
		ListingID:      listing.ID,
		PlanID:         plan.ID,
		ExpectedAmount: plan.Price,
	}
	return s.activator.ActivateNew(ctx, order, ActivationInput{
		Status:     models.StatusApproved,
		PlanID:     plan.ID,
		ApproverID: &approver,
	})
}

// PurchaseWithWallet pays for a boost from the user's balance. A failed
// activation is compensated with a refund entry so the ledger stays whole.
func (s *OrderService) PurchaseWithWallet(ctx context.Context, userID, listingID, planID int64) (*models.PromotionOrder, *models.Wallet, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "PurchaseWithWallet")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("listing_id", listingID), attribute.Int64("plan_id", planID))

	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	listing, err := s.ownedListing(ctx, userID, listingID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	reference := fmt.Sprintf("boost:%s", uuid.NewString())
	description := fmt.Sprintf("%s boost for listing %d", plan.Name, listing.ID)
	wallet, err := s.ledger.DebitWallet(ctx, userID, plan.Price, description, reference)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	order := &models.PromotionOrder{
		UserID:         userID,
		ListingID:      listing.ID,
		PlanID:         plan.ID,
		ExpectedAmount: plan.Price,
	}
	proof := reference
	activated, err := s.activator.ActivateNew(ctx, order, ActivationInput{
		Status: models.StatusPaid,
		PlanID: plan.ID,
		Proof:  &proof,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "activation failed after debit")
		if _, refundErr := s.ledger.Refund(ctx, userID, plan.Price, "Refund: "+description, reference+":refund"); refundErr != nil {
			slog.Error("failed to refund wallet after activation failure",
				"user_id", userID, "amount", plan.Price, "reference", reference, "error", refundErr)
			return nil, nil, fmt.Errorf("activation failed: %w; refund failed: %v", err, refundErr)
		}
		return nil, nil, err
	}

	slog.Info("boost purchased from wallet", "order_id", activated.ID, "user_id", userID, "amount", plan.Price, "balance", wallet.Balance)
	return activated, wallet, nil
}

func (s *OrderService) RejectPayment(ctx context.Context, actor Actor, paymentID int64) error {
	if err := s.payments.Reject(ctx, paymentID); err != nil {
		return err
	}
	slog.Info("payment rejected", "payment_id", paymentID, "agent_id", actor.UserID)
	return nil
}

func (s *OrderService) ListUnmatchedPayments(ctx context.Context, limit int) ([]models.IncomingPayment, error) {
	return s.payments.ListUnmatched(ctx, time.Time{}, limit)
}

func (s *OrderService) ListPlans(ctx context.Context) ([]models.Plan, error) {
	return s.plans.List(ctx)
}
