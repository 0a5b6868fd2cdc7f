package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

// Canonical storage representation. Anything read from the outside goes
// through ParseOrderStatus first.
const (
	StatusWaitingForPayment OrderStatus = "WAITING_FOR_PAYMENT"
	StatusPending           OrderStatus = "PENDING"
	StatusPaid              OrderStatus = "PAID"
	StatusApproved          OrderStatus = "APPROVED"
	StatusRejected          OrderStatus = "REJECTED"
	StatusExpired           OrderStatus = "EXPIRED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusWaitingForPayment: {StatusPending, StatusPaid, StatusApproved, StatusRejected, StatusExpired},
	StatusPending:           {StatusPaid, StatusApproved, StatusRejected},
	StatusPaid:              nil,
	StatusApproved:          nil,
	StatusRejected:          nil,
	StatusExpired:           nil,
}

// ParseOrderStatus normalizes case and surrounding whitespace.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

func (s OrderStatus) IsSuccess() bool {
	return s == StatusPaid || s == StatusApproved
}

// IsOpen reports whether the order can still receive a payment.
func (s OrderStatus) IsOpen() bool {
	return s == StatusWaitingForPayment || s == StatusPending
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SourcesFor lists every status from which next is reachable.
func SourcesFor(next OrderStatus) []OrderStatus {
	var from []OrderStatus
	for _, s := range []OrderStatus{StatusWaitingForPayment, StatusPending, StatusPaid, StatusApproved, StatusRejected, StatusExpired} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	return from
}

type PromotionOrder struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	ListingID      int64           `json:"listing_id"`
	PlanID         int64           `json:"plan_id"`
	Status         OrderStatus     `json:"status"`
	ExpectedPhone  string          `json:"expected_phone"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	ProviderTxID   *string         `json:"provider_tx_id,omitempty"`
	PromotionCode  *string         `json:"promotion_code,omitempty"`
	PaymentProof   *string         `json:"payment_proof,omitempty"`
	AdminNotes     *string         `json:"admin_notes,omitempty"`
	ApprovedBy     *int64          `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Activation is everything that has to be persisted together when an order
// reaches a success state.
type Activation struct {
	OrderID    int64
	NewOrder   *PromotionOrder
	From       []OrderStatus
	Status     OrderStatus
	PlanID     int64
	Code       string
	Proof      *string
	ApproverID *int64
	ApprovedAt time.Time
	ExpiresAt  time.Time
	// PaymentID links an incoming payment inside the same transaction.
	PaymentID  *int64
	ListingID  int64
	BoostLevel int
}
