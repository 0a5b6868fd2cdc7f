package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type WalletRepository struct {
	s *Store
}

func NewWalletRepository(s *Store) *WalletRepository {
	return &WalletRepository{s: s}
}

func (s *Store) walletLocked(userID int64, currency string) *models.Wallet {
	w, ok := s.wallets[userID]
	if !ok {
		now := s.now()
		w = &models.Wallet{ID: s.id(), UserID: userID, Balance: decimal.Zero, Currency: currency, CreatedAt: now, UpdatedAt: now}
		s.wallets[userID] = w
	}
	return w
}

func (s *Store) applyLocked(w *models.Wallet, entry *models.LedgerEntry) error {
	balance := w.Balance.Add(entry.Amount)
	if balance.IsNegative() {
		return pkgerrors.ErrInsufficientFunds
	}
	now := s.now()
	w.Balance = balance
	w.UpdatedAt = now
	entry.ID = s.id()
	entry.WalletID = w.ID
	entry.CreatedAt = now
	s.entries = append(s.entries, *entry)
	return nil
}

func (r *WalletRepository) GetOrCreate(_ context.Context, userID int64, currency string) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *r.s.walletLocked(userID, currency)
	return &cp, nil
}

func (r *WalletRepository) Apply(_ context.Context, userID int64, currency string, entry *models.LedgerEntry) (*models.Wallet, error) {
	if entry == nil || entry.Amount.IsZero() || !entry.Kind.Valid() {
		return nil, fmt.Errorf("%w: ledger entry needs a non-zero amount and a known kind", pkgerrors.ErrValidation)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w := r.s.walletLocked(userID, currency)
	if err := r.s.applyLocked(w, entry); err != nil {
		return nil, err
	}
	cp := *w
	return &cp, nil
}

func (r *WalletRepository) RedeemVoucher(_ context.Context, code string, userID int64, currency string, entry *models.LedgerEntry) (*models.Voucher, *models.Wallet, error) {
	code = strings.TrimSpace(code)
	if code == "" || entry == nil {
		return nil, nil, fmt.Errorf("%w: voucher code is required", pkgerrors.ErrValidation)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w := r.s.walletLocked(userID, currency)
	v, ok := r.s.vouchers[code]
	if !ok {
		return nil, nil, pkgerrors.ErrVoucherNotFound
	}
	if v.Redeemed {
		return nil, nil, pkgerrors.ErrAlreadyRedeemed
	}

	entry.Amount = v.Amount
	entry.Kind = models.KindVoucher
	if err := r.s.applyLocked(w, entry); err != nil {
		return nil, nil, err
	}
	now := r.s.now()
	v.Redeemed = true
	v.RedeemedBy = &userID
	v.RedeemedAt = &now

	cp := *w
	return cloneVoucher(v), &cp, nil
}

func (r *WalletRepository) ListEntries(_ context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []models.LedgerEntry{}
	w, ok := r.s.wallets[userID]
	if !ok {
		return out, nil
	}
	for i := len(r.s.entries) - 1; i >= 0; i-- {
		if r.s.entries[i].WalletID == w.ID {
			out = append(out, r.s.entries[i])
		}
	}
	if offset >= len(out) {
		return []models.LedgerEntry{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// LedgerSum adds up every ledger entry of the user's wallet.
func (r *WalletRepository) LedgerSum(userID int64) decimal.Decimal {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sum := decimal.Zero
	w, ok := r.s.wallets[userID]
	if !ok {
		return sum
	}
	for _, e := range r.s.entries {
		if e.WalletID == w.ID {
			sum = sum.Add(e.Amount)
		}
	}
	return sum
}

type VoucherRepository struct {
	s *Store
}

func NewVoucherRepository(s *Store) *VoucherRepository {
	return &VoucherRepository{s: s}
}

func (r *VoucherRepository) Create(_ context.Context, v *models.Voucher) error {
	if v == nil || v.Code == "" || !v.Amount.IsPositive() {
		return fmt.Errorf("%w: voucher needs a code and a positive amount", pkgerrors.ErrValidation)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.vouchers[v.Code]; ok {
		return pkgerrors.ErrVoucherExists
	}
	v.ID = r.s.id()
	v.CreatedAt = r.s.now()
	r.s.vouchers[v.Code] = cloneVoucher(v)
	return nil
}

func (r *VoucherRepository) GetByCode(_ context.Context, code string) (*models.Voucher, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	v, ok := r.s.vouchers[code]
	if !ok {
		return nil, pkgerrors.ErrVoucherNotFound
	}
	return cloneVoucher(v), nil
}
