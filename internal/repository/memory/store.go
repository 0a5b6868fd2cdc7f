// Package memory keeps every repository in process memory behind one lock.
// It backs STORAGE_DRIVER=memory and the service tests.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
)

// Store is a thread-safe in-memory store. A single mutex stands in for the
// row locks and transactions of the Postgres implementation.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	wallets      map[int64]*models.Wallet // by user id
	entries      []models.LedgerEntry
	vouchers     map[string]*models.Voucher
	payments     map[int64]*models.IncomingPayment
	paymentRefs  map[string]int64
	orders       map[int64]*models.PromotionOrder
	plans        map[int64]*models.Plan
	listings     map[int64]*models.Listing
	nextID       int64
	failActivate error
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		wallets:     make(map[int64]*models.Wallet),
		vouchers:    make(map[string]*models.Voucher),
		payments:    make(map[int64]*models.IncomingPayment),
		paymentRefs: make(map[string]int64),
		orders:      make(map[int64]*models.PromotionOrder),
		plans:       make(map[int64]*models.Plan),
		listings:    make(map[int64]*models.Listing),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddPlan seeds a plan. A zero ID is assigned.
func (s *Store) AddPlan(p models.Plan) *models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.plans[p.ID] = &p
	cp := p
	return &cp
}

// AddListing seeds a listing. A zero ID is assigned.
func (s *Store) AddListing(l models.Listing) *models.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.id()
	}
	if l.Status == "" {
		l.Status = models.ListingStatusPending
	}
	s.listings[l.ID] = &l
	return cloneListing(&l)
}

// FailNextActivate makes the next Activate call fail with err after all of
// its checks pass, leaving state untouched.
func (s *Store) FailNextActivate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failActivate = err
}

// Seed loads the default plan catalogue and a few listings used when running
// without Postgres.
func (s *Store) Seed() {
	for _, p := range DefaultPlans() {
		s.AddPlan(p)
	}
	for owner := int64(1); owner <= 3; owner++ {
		s.AddListing(models.Listing{OwnerID: owner, Title: fmt.Sprintf("Demo listing %d", owner)})
	}
}

func DefaultPlans() []models.Plan {
	return []models.Plan{
		{Name: "Basic", Price: mustDecimal("15.00"), DurationDays: 7, BoostLevel: 1, Description: "Top of category for a week"},
		{Name: "Gold", Price: mustDecimal("50.00"), DurationDays: 14, BoostLevel: 2, Description: "Highlighted in search"},
		{Name: "Diamond", Price: mustDecimal("120.00"), DurationDays: 30, BoostLevel: 3, Description: "Homepage placement"},
	}
}

func cloneOrder(o *models.PromotionOrder) *models.PromotionOrder {
	cp := *o
	cp.ProviderTxID = cloneString(o.ProviderTxID)
	cp.PromotionCode = cloneString(o.PromotionCode)
	cp.PaymentProof = cloneString(o.PaymentProof)
	cp.AdminNotes = cloneString(o.AdminNotes)
	cp.ApprovedBy = cloneInt(o.ApprovedBy)
	cp.ApprovedAt = cloneTime(o.ApprovedAt)
	cp.ExpiresAt = cloneTime(o.ExpiresAt)
	return &cp
}

func clonePayment(p *models.IncomingPayment) *models.IncomingPayment {
	cp := *p
	cp.LinkedOrderID = cloneInt(p.LinkedOrderID)
	return &cp
}

func cloneListing(l *models.Listing) *models.Listing {
	cp := *l
	cp.BoostExpiresAt = cloneTime(l.BoostExpiresAt)
	return &cp
}

func cloneVoucher(v *models.Voucher) *models.Voucher {
	cp := *v
	cp.RedeemedBy = cloneInt(v.RedeemedBy)
	cp.RedeemedAt = cloneTime(v.RedeemedAt)
	return &cp
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
