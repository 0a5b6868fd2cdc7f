package repository

import (
	"context"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
)

type PaymentRepository interface {
	// Create fails with ErrDuplicatePayment when the provider reference exists.
	Create(ctx context.Context, p *models.IncomingPayment) error
	GetByID(ctx context.Context, id int64) (*models.IncomingPayment, error)
	GetByReference(ctx context.Context, reference string) (*models.IncomingPayment, error)
	// ListUnmatched returns unlinked, unrejected payments received at or after
	// since (zero means no lower bound), oldest first.
	ListUnmatched(ctx context.Context, since time.Time, limit int) ([]models.IncomingPayment, error)
	// Reject flags an unlinked payment. Rejecting twice is a no-op.
	Reject(ctx context.Context, id int64) error
}
