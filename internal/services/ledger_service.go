package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultEntriesLimit = 20
	maxEntriesLimit     = 100
)

// LedgerService is the only way balances change. All mutations go through
// WalletRepository, which locks the wallet row for the read-check-write.
type LedgerService struct {
	wallets  repository.WalletRepository
	vouchers repository.VoucherRepository
	currency string
}

func NewLedgerService(wallets repository.WalletRepository, vouchers repository.VoucherRepository, currency string) *LedgerService {
	return &LedgerService{wallets: wallets, vouchers: vouchers, currency: currency}
}

func (s *LedgerService) apply(ctx context.Context, userID int64, amount decimal.Decimal, kind models.EntryKind, description, reference string) (*models.Wallet, error) {
	if reference == "" {
		reference = fmt.Sprintf("%s:%s", kind, uuid.NewString())
	}
	return s.wallets.Apply(ctx, userID, s.currency, &models.LedgerEntry{
		Amount:      amount,
		Kind:        kind,
		Description: description,
		Reference:   reference,
	})
}

func (s *LedgerService) CreditWallet(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*models.Wallet, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "CreditWallet")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("amount", amount.String()))

	if !amount.IsPositive() {
		span.SetStatus(codes.Error, "non-positive amount")
		return nil, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}
	w, err := s.apply(ctx, userID, amount, models.KindDeposit, description, "")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slog.Info("wallet credited", "user_id", userID, "amount", amount, "balance", w.Balance)
	return w, nil
}

// DebitWallet fails with ErrInsufficientFunds and changes nothing when the
// balance does not cover amount.
func (s *LedgerService) DebitWallet(ctx context.Context, userID int64, amount decimal.Decimal, description, reference string) (*models.Wallet, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "DebitWallet")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("amount", amount.String()))

	if !amount.IsPositive() {
		span.SetStatus(codes.Error, "non-positive amount")
		return nil, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}
	w, err := s.apply(ctx, userID, amount.Neg(), models.KindPayment, description, reference)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	slog.Info("wallet debited", "user_id", userID, "amount", amount, "balance", w.Balance)
	return w, nil
}

func (s *LedgerService) Refund(ctx context.Context, userID int64, amount decimal.Decimal, description, reference string) (*models.Wallet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}
	return s.apply(ctx, userID, amount, models.KindRefund, description, reference)
}

func (s *LedgerService) RedeemVoucher(ctx context.Context, code string, userID int64) (*models.Voucher, *models.Wallet, error) {
	ctx, span := otel.Tracer("ledger-service").Start(ctx, "RedeemVoucher")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	entry := &models.LedgerEntry{
		Description: fmt.Sprintf("Voucher %s", code),
		Reference:   fmt.Sprintf("voucher:%s", code),
	}
	v, w, err := s.wallets.RedeemVoucher(ctx, code, userID, s.currency, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redeem failed")
		return nil, nil, err
	}
	slog.Info("voucher applied", "user_id", userID, "voucher_id", v.ID, "amount", v.Amount, "balance", w.Balance)
	return v, w, nil
}

// GenerateVoucher issues a new recharge code. A code clash is retried once
// with a fresh code.
func (s *LedgerService) GenerateVoucher(ctx context.Context, amount decimal.Decimal, createdBy int64) (*models.Voucher, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", pkgerrors.ErrValidation)
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		v := &models.Voucher{Code: voucherCode(), Amount: amount, CreatedBy: createdBy}
		if err = s.vouchers.Create(ctx, v); err == nil {
			slog.Info("voucher generated", "voucher_id", v.ID, "amount", amount, "created_by", createdBy)
			return v, nil
		}
		if !stderrors.Is(err, pkgerrors.ErrVoucherExists) {
			break
		}
	}
	return nil, fmt.Errorf("failed to generate voucher: %w", err)
}

func (s *LedgerService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	return s.wallets.GetOrCreate(ctx, userID, s.currency)
}

func (s *LedgerService) ListEntries(ctx context.Context, userID int64, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultEntriesLimit
	}
	if limit > maxEntriesLimit {
		limit = maxEntriesLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.wallets.ListEntries(ctx, userID, limit, offset)
}
