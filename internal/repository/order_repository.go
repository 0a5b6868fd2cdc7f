package repository

import (
	"context"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/shopspring/decimal"
)

type OrderRepository interface {
	Create(ctx context.Context, o *models.PromotionOrder) error
	GetByID(ctx context.Context, id int64) (*models.PromotionOrder, error)
	ListByStatus(ctx context.Context, statuses []models.OrderStatus, limit int) ([]models.PromotionOrder, error)
	ListByUser(ctx context.Context, userID int64) ([]models.PromotionOrder, error)

	// FindWaitingByProviderTxID returns ErrOrderNotFound when nothing matches.
	FindWaitingByProviderTxID(ctx context.Context, txID string) (*models.PromotionOrder, error)
	// FindWaitingCandidates lists WAITING_FOR_PAYMENT orders for the exact
	// amount created at or after since, oldest first.
	FindWaitingCandidates(ctx context.Context, amount decimal.Decimal, since time.Time) ([]models.PromotionOrder, error)
	// ListRetryable lists WAITING_FOR_PAYMENT orders without a provider
	// transaction id created after since.
	ListRetryable(ctx context.Context, since time.Time) ([]models.PromotionOrder, error)

	// SetProviderTxID stores the id only if none is set yet and the order is
	// still waiting. It reports whether the row was updated.
	SetProviderTxID(ctx context.Context, id int64, txID string) (bool, error)
	// Transition is a compare-and-swap on status. It fails with
	// ErrInvalidTransition when the current status is not in from.
	Transition(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus, notes *string) error
	// ExpireStale moves waiting orders created before cutoff to EXPIRED and
	// returns their ids.
	ExpireStale(ctx context.Context, cutoff time.Time) ([]int64, error)

	// LinkPayment moves a waiting order to PENDING and marks the payment as
	// linked to it in one transaction.
	LinkPayment(ctx context.Context, orderID, paymentID int64, proof string) error
	// Activate persists order, payment link and listing boost together.
	Activate(ctx context.Context, a *models.Activation) (*models.PromotionOrder, error)

	CountCodesWithPrefix(ctx context.Context, prefix string) (int, error)
	CodeExists(ctx context.Context, code string) (bool, error)
}

type PlanRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	List(ctx context.Context) ([]models.Plan, error)
}

type ListingRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
}
