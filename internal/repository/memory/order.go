package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
)

type OrderRepository struct {
	s *Store
}

func NewOrderRepository(s *Store) *OrderRepository {
	return &OrderRepository{s: s}
}

func sortOrders(orders []models.PromotionOrder, asc bool) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if asc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})
}

func (r *OrderRepository) filter(asc bool, keep func(o *models.PromotionOrder) bool) []models.PromotionOrder {
	out := []models.PromotionOrder{}
	for _, o := range r.s.orders {
		if keep(o) {
			out = append(out, *cloneOrder(o))
		}
	}
	sortOrders(out, asc)
	return out
}

func (s *Store) insertOrderLocked(o *models.PromotionOrder) {
	o.ID = s.id()
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.orders[o.ID] = cloneOrder(o)
}

func (r *OrderRepository) Create(_ context.Context, o *models.PromotionOrder) error {
	if o == nil {
		return pkgerrors.ErrNilOrder
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: unknown order status %q", pkgerrors.ErrValidation, o.Status)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.insertOrderLocked(o)
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id int64) (*models.PromotionOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) ListByStatus(_ context.Context, statuses []models.OrderStatus, limit int) ([]models.PromotionOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.filter(false, func(o *models.PromotionOrder) bool { return statusIn(o.Status, statuses) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID int64) ([]models.PromotionOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(false, func(o *models.PromotionOrder) bool { return o.UserID == userID }), nil
}

func (r *OrderRepository) FindWaitingByProviderTxID(_ context.Context, txID string) (*models.PromotionOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.filter(true, func(o *models.PromotionOrder) bool {
		return o.Status == models.StatusWaitingForPayment && o.ProviderTxID != nil && *o.ProviderTxID == txID
	})
	if len(out) == 0 {
		return nil, pkgerrors.ErrOrderNotFound
	}
	return &out[0], nil
}

func (r *OrderRepository) FindWaitingCandidates(_ context.Context, amount decimal.Decimal, since time.Time) ([]models.PromotionOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(true, func(o *models.PromotionOrder) bool {
		return o.Status == models.StatusWaitingForPayment && o.ExpectedAmount.Equal(amount) && !o.CreatedAt.Before(since)
	}), nil
}

func (r *OrderRepository) ListRetryable(_ context.Context, since time.Time) ([]models.PromotionOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(true, func(o *models.PromotionOrder) bool {
		return o.Status == models.StatusWaitingForPayment && o.ProviderTxID == nil && !o.CreatedAt.Before(since)
	}), nil
}

func (r *OrderRepository) SetProviderTxID(_ context.Context, id int64, txID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok || o.ProviderTxID != nil || o.Status != models.StatusWaitingForPayment {
		return false, nil
	}
	o.ProviderTxID = &txID
	o.UpdatedAt = r.s.now()
	return true, nil
}

func (s *Store) casLocked(id int64, from []models.OrderStatus, to models.OrderStatus) (*models.PromotionOrder, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, pkgerrors.ErrOrderNotFound
	}
	if !statusIn(o.Status, from) {
		return nil, fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidTransition, o.Status, to)
	}
	return o, nil
}

func (r *OrderRepository) Transition(_ context.Context, id int64, from []models.OrderStatus, to models.OrderStatus, notes *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, err := r.s.casLocked(id, from, to)
	if err != nil {
		return err
	}
	o.Status = to
	if notes != nil {
		o.AdminNotes = cloneString(notes)
	}
	o.UpdatedAt = r.s.now()
	return nil
}

func (r *OrderRepository) ExpireStale(_ context.Context, cutoff time.Time) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var ids []int64
	now := r.s.now()
	for _, o := range r.s.orders {
		if o.Status == models.StatusWaitingForPayment && o.CreatedAt.Before(cutoff) {
			o.Status = models.StatusExpired
			o.UpdatedAt = now
			ids = append(ids, o.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *OrderRepository) LinkPayment(_ context.Context, orderID, paymentID int64, proof string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, err := r.s.casLocked(orderID, []models.OrderStatus{models.StatusWaitingForPayment}, models.StatusPending)
	if err != nil {
		return err
	}
	p, err := r.s.checkLinkLocked(orderID, paymentID)
	if err != nil {
		return err
	}

	o.Status = models.StatusPending
	o.PaymentProof = &proof
	o.UpdatedAt = r.s.now()
	p.Linked = true
	p.LinkedOrderID = &orderID
	return nil
}

// Activate checks every precondition before touching state, so a failure
// leaves order, payment and listing as they were.
func (r *OrderRepository) Activate(_ context.Context, a *models.Activation) (*models.PromotionOrder, error) {
	if a == nil || !a.Status.IsSuccess() {
		return nil, fmt.Errorf("%w: activation needs a success status", pkgerrors.ErrValidation)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	listing, ok := r.s.listings[a.ListingID]
	if !ok {
		return nil, pkgerrors.ErrListingNotFound
	}

	var o *models.PromotionOrder
	if a.NewOrder == nil {
		var err error
		if o, err = r.s.casLocked(a.OrderID, a.From, a.Status); err != nil {
			return nil, err
		}
	}

	var p *models.IncomingPayment
	if a.PaymentID != nil {
		var err error
		if p, err = r.s.checkLinkLocked(a.OrderID, *a.PaymentID); err != nil {
			return nil, err
		}
	}

	if r.s.failActivate != nil {
		err := r.s.failActivate
		r.s.failActivate = nil
		return nil, err
	}

	if a.NewOrder != nil {
		r.s.insertOrderLocked(a.NewOrder)
		a.OrderID = a.NewOrder.ID
		o = r.s.orders[a.OrderID]
	}

	o.Status = a.Status
	o.PlanID = a.PlanID
	code := a.Code
	o.PromotionCode = &code
	if a.Proof != nil {
		o.PaymentProof = cloneString(a.Proof)
	}
	o.ApprovedBy = cloneInt(a.ApproverID)
	approvedAt, expiresAt := a.ApprovedAt, a.ExpiresAt
	o.ApprovedAt = &approvedAt
	o.ExpiresAt = &expiresAt
	o.UpdatedAt = r.s.now()

	if p != nil {
		orderID := a.OrderID
		p.Linked = true
		p.LinkedOrderID = &orderID
	}

	listing.BoostLevel = a.BoostLevel
	listing.BoostExpiresAt = &expiresAt
	if listing.Status == models.ListingStatusPending {
		listing.Status = models.ListingStatusActive
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) CountCodesWithPrefix(_ context.Context, prefix string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, o := range r.s.orders {
		if o.PromotionCode != nil && strings.HasPrefix(*o.PromotionCode, prefix) {
			n++
		}
	}
	return n, nil
}

func (r *OrderRepository) CodeExists(_ context.Context, code string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, o := range r.s.orders {
		if o.PromotionCode != nil && *o.PromotionCode == code {
			return true, nil
		}
	}
	return false, nil
}

func statusIn(s models.OrderStatus, set []models.OrderStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

type PlanRepository struct {
	s *Store
}

func NewPlanRepository(s *Store) *PlanRepository {
	return &PlanRepository{s: s}
}

func (r *PlanRepository) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.plans[id]
	if !ok {
		return nil, pkgerrors.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PlanRepository) List(_ context.Context) ([]models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]models.Plan, 0, len(r.s.plans))
	for _, p := range r.s.plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type ListingRepository struct {
	s *Store
}

func NewListingRepository(s *Store) *ListingRepository {
	return &ListingRepository{s: s}
}

func (r *ListingRepository) GetByID(_ context.Context, id int64) (*models.Listing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	l, ok := r.s.listings[id]
	if !ok {
		return nil, pkgerrors.ErrListingNotFound
	}
	return cloneListing(l), nil
}
