package repository

import (
	"context"

	"github.com/honeynil/PromoPaymentService/internal/models"
)

// WalletRepository is the only writer of wallet balances. Every mutation
// locks the wallet row for the whole read-check-write.
type WalletRepository interface {
	// GetOrCreate returns the user's wallet, creating an empty one on first access.
	GetOrCreate(ctx context.Context, userID int64, currency string) (*models.Wallet, error)
	// Apply adds entry.Amount (signed) to the balance and appends the entry.
	// A result below zero fails with ErrInsufficientFunds and changes nothing.
	Apply(ctx context.Context, userID int64, currency string, entry *models.LedgerEntry) (*models.Wallet, error)
	// RedeemVoucher marks the voucher redeemed and credits the wallet atomically.
	RedeemVoucher(ctx context.Context, code string, userID int64, currency string, entry *models.LedgerEntry) (*models.Voucher, *models.Wallet, error)
	ListEntries(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error)
}

type VoucherRepository interface {
	Create(ctx context.Context, v *models.Voucher) error
	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
}
