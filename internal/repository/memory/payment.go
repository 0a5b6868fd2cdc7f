package memory

import (
	"context"
	"sort"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
)

type PaymentRepository struct {
	s *Store
}

func NewPaymentRepository(s *Store) *PaymentRepository {
	return &PaymentRepository{s: s}
}

func (r *PaymentRepository) Create(_ context.Context, p *models.IncomingPayment) error {
	if p == nil {
		return pkgerrors.ErrNilPayment
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.paymentRefs[p.ProviderReference]; ok {
		return pkgerrors.ErrDuplicatePayment
	}
	p.ID = r.s.id()
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = r.s.now()
	}
	r.s.payments[p.ID] = clonePayment(p)
	r.s.paymentRefs[p.ProviderReference] = p.ID
	return nil
}

func (r *PaymentRepository) GetByID(_ context.Context, id int64) (*models.IncomingPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (r *PaymentRepository) GetByReference(_ context.Context, reference string) (*models.IncomingPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.paymentRefs[reference]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	return clonePayment(r.s.payments[id]), nil
}

func (r *PaymentRepository) ListUnmatched(_ context.Context, since time.Time, limit int) ([]models.IncomingPayment, error) {
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []models.IncomingPayment{}
	for _, p := range r.s.payments {
		if p.Linked || p.Rejected || p.ReceivedAt.Before(since) {
			continue
		}
		out = append(out, *clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PaymentRepository) Reject(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.payments[id]
	if !ok {
		return pkgerrors.ErrPaymentNotFound
	}
	if p.Linked {
		return pkgerrors.ErrPaymentAlreadyLinked
	}
	p.Rejected = true
	return nil
}

// checkLinkLocked allows relinking to the same order and refuses payments
// that are rejected or linked elsewhere.
func (s *Store) checkLinkLocked(orderID, paymentID int64) (*models.IncomingPayment, error) {
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	if p.Rejected {
		return nil, pkgerrors.ErrPaymentRejected
	}
	if p.Linked && (p.LinkedOrderID == nil || *p.LinkedOrderID != orderID) {
		return nil, pkgerrors.ErrPaymentAlreadyLinked
	}
	return p, nil
}
