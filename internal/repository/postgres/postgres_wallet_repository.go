package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const walletTracer = "wallet-repository"

type PostgresWalletRepository struct {
	db *sql.DB
}

func NewPostgresWalletRepository(db *sql.DB) *PostgresWalletRepository {
	return &PostgresWalletRepository{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureWallet(ctx context.Context, q querier, userID int64, currency string) error {
	query := `INSERT INTO wallets (user_id, currency) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`
	if _, err := q.ExecContext(ctx, query, userID, currency); err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func lockWallet(ctx context.Context, tx *sql.Tx, userID int64) (*models.Wallet, error) {
	var w models.Wallet
	query := `SELECT id, user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id = $1 FOR UPDATE`
	err := tx.QueryRowContext(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return &w, nil
}

// applyLocked writes the new balance and appends the entry. The wallet row
// must already be locked by tx.
func applyLocked(ctx context.Context, tx *sql.Tx, w *models.Wallet, entry *models.LedgerEntry) error {
	balance := w.Balance.Add(entry.Amount)
	if balance.IsNegative() {
		return pkgerrors.ErrInsufficientFunds
	}

	query := `UPDATE wallets SET balance = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at`
	if err := tx.QueryRowContext(ctx, query, balance, w.ID).Scan(&w.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	w.Balance = balance

	entry.WalletID = w.ID
	query = `INSERT INTO ledger_entries (wallet_id, amount, kind, description, reference) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	if err := tx.QueryRowContext(ctx, query, entry.WalletID, entry.Amount, entry.Kind, entry.Description, entry.Reference).
		Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresWalletRepository) GetOrCreate(ctx context.Context, userID int64, currency string) (w *models.Wallet, err error) {
	ctx, span, finish := observability.StartCall(ctx, walletTracer, "GetOrCreateWallet")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("user_id", userID))

	if err = ensureWallet(ctx, r.db, userID, currency); err != nil {
		slog.Error("failed to ensure wallet", "method", "GetOrCreate", "user_id", userID, "error", err)
		return nil, err
	}

	w = &models.Wallet{}
	query := `SELECT id, user_id, balance, currency, created_at, updated_at FROM wallets WHERE user_id = $1`
	err = r.db.QueryRowContext(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		slog.Error("failed to get wallet", "method", "GetOrCreate", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	slog.Info("wallet retrieved", "method", "GetOrCreate", "user_id", userID, "balance", w.Balance)
	return w, nil
}

func (r *PostgresWalletRepository) Apply(ctx context.Context, userID int64, currency string, entry *models.LedgerEntry) (w *models.Wallet, err error) {
	ctx, span, finish := observability.StartCall(ctx, walletTracer, "ApplyLedgerEntry")
	defer func() { finish(err) }()

	if entry == nil || entry.Amount.IsZero() || !entry.Kind.Valid() {
		err = fmt.Errorf("%w: ledger entry needs a non-zero amount and a known kind", pkgerrors.ErrValidation)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.String("amount", entry.Amount.String()),
		attribute.String("kind", string(entry.Kind)),
	)

	err = withTx(ctx, r.db, "Apply", func(tx *sql.Tx) error {
		if err := ensureWallet(ctx, tx, userID, currency); err != nil {
			return err
		}
		locked, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := applyLocked(ctx, tx, locked, entry); err != nil {
			return err
		}
		w = locked
		return nil
	})
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
			slog.Warn("insufficient funds", "method", "Apply", "user_id", userID, "amount", entry.Amount)
		} else {
			slog.Error("failed to apply ledger entry", "method", "Apply", "user_id", userID, "kind", entry.Kind, "error", err)
		}
		return nil, err
	}

	slog.Info("ledger entry applied", "method", "Apply", "user_id", userID, "entry_id", entry.ID, "kind", entry.Kind, "amount", entry.Amount, "balance", w.Balance)
	return w, nil
}

func (r *PostgresWalletRepository) RedeemVoucher(ctx context.Context, code string, userID int64, currency string, entry *models.LedgerEntry) (v *models.Voucher, w *models.Wallet, err error) {
	ctx, span, finish := observability.StartCall(ctx, walletTracer, "RedeemVoucher")
	defer func() { finish(err) }()

	code = strings.TrimSpace(code)
	if code == "" || entry == nil {
		err = fmt.Errorf("%w: voucher code is required", pkgerrors.ErrValidation)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("code", code))

	err = withTx(ctx, r.db, "RedeemVoucher", func(tx *sql.Tx) error {
		if err := ensureWallet(ctx, tx, userID, currency); err != nil {
			return err
		}
		locked, err := lockWallet(ctx, tx, userID)
		if err != nil {
			return err
		}

		var voucher models.Voucher
		query := `SELECT id, code, amount, redeemed, redeemed_by, redeemed_at, created_by, created_at FROM vouchers WHERE code = $1 FOR UPDATE`
		err = tx.QueryRowContext(ctx, query, code).Scan(&voucher.ID, &voucher.Code, &voucher.Amount, &voucher.Redeemed,
			&voucher.RedeemedBy, &voucher.RedeemedAt, &voucher.CreatedBy, &voucher.CreatedAt)
		if stderrors.Is(err, sql.ErrNoRows) {
			return pkgerrors.ErrVoucherNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock voucher: %w", err)
		}
		if voucher.Redeemed {
			return pkgerrors.ErrAlreadyRedeemed
		}

		query = `UPDATE vouchers SET redeemed = TRUE, redeemed_by = $1, redeemed_at = NOW() WHERE id = $2 RETURNING redeemed_at`
		var redeemedAt sql.NullTime
		if err := tx.QueryRowContext(ctx, query, userID, voucher.ID).Scan(&redeemedAt); err != nil {
			return fmt.Errorf("failed to mark voucher redeemed: %w", err)
		}
		voucher.Redeemed = true
		voucher.RedeemedBy = &userID
		if redeemedAt.Valid {
			voucher.RedeemedAt = &redeemedAt.Time
		}

		entry.Amount = voucher.Amount
		entry.Kind = models.KindVoucher
		if err := applyLocked(ctx, tx, locked, entry); err != nil {
			return err
		}
		v, w = &voucher, locked
		return nil
	})
	if err != nil {
		slog.Error("failed to redeem voucher", "method", "RedeemVoucher", "user_id", userID, "code", code, "error", err)
		return nil, nil, err
	}

	slog.Info("voucher redeemed", "method", "RedeemVoucher", "user_id", userID, "voucher_id", v.ID, "amount", v.Amount)
	return v, w, nil
}

func (r *PostgresWalletRepository) ListEntries(ctx context.Context, userID int64, limit, offset int) (entries []models.LedgerEntry, err error) {
	ctx, span, finish := observability.StartCall(ctx, walletTracer, "ListLedgerEntries")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("user_id", userID))

	query := `
		SELECT e.id, e.wallet_id, e.amount, e.kind, e.description, e.reference, e.created_at
		FROM ledger_entries e
		JOIN wallets w ON w.id = e.wallet_id
		WHERE w.user_id = $1
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		slog.Error("failed to list ledger entries", "method", "ListEntries", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries = []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err = rows.Scan(&e.ID, &e.WalletID, &e.Amount, &e.Kind, &e.Description, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	slog.Info("ledger entries listed", "method", "ListEntries", "user_id", userID, "count", len(entries))
	return entries, nil
}

type PostgresVoucherRepository struct {
	db *sql.DB
}

func NewPostgresVoucherRepository(db *sql.DB) *PostgresVoucherRepository {
	return &PostgresVoucherRepository{db: db}
}

func (r *PostgresVoucherRepository) Create(ctx context.Context, v *models.Voucher) (err error) {
	ctx, span, finish := observability.StartCall(ctx, walletTracer, "CreateVoucher")
	defer func() { finish(err) }()

	if v == nil || v.Code == "" || !v.Amount.IsPositive() {
		err = fmt.Errorf("%w: voucher needs a code and a positive amount", pkgerrors.ErrValidation)
		return err
	}
	span.SetAttributes(attribute.String("code", v.Code), attribute.String("amount", v.Amount.String()))

	query := `INSERT INTO vouchers (code, amount, created_by) VALUES ($1, $2, $3) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, v.Code, v.Amount, v.CreatedBy).Scan(&v.ID, &v.CreatedAt)
	if isUniqueViolation(err) {
		err = pkgerrors.ErrVoucherExists
		return err
	}
	if err != nil {
		slog.Error("failed to create voucher", "method", "Create", "code", v.Code, "error", err)
		return fmt.Errorf("failed to create voucher: %w", err)
	}

	slog.Info("voucher created", "method", "Create", "voucher_id", v.ID, "amount", v.Amount, "created_by", v.CreatedBy)
	return nil
}

func (r *PostgresVoucherRepository) GetByCode(ctx context.Context, code string) (v *models.Voucher, err error) {
	ctx, span, finish := observability.StartCall(ctx, walletTracer, "GetVoucherByCode")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("code", code))

	v = &models.Voucher{}
	query := `SELECT id, code, amount, redeemed, redeemed_by, redeemed_at, created_by, created_at FROM vouchers WHERE code = $1`
	err = r.db.QueryRowContext(ctx, query, code).Scan(&v.ID, &v.Code, &v.Amount, &v.Redeemed,
		&v.RedeemedBy, &v.RedeemedAt, &v.CreatedBy, &v.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrVoucherNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get voucher", "method", "GetByCode", "code", code, "error", err)
		return nil, fmt.Errorf("failed to get voucher: %w", err)
	}
	return v, nil
}
