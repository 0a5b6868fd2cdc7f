package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const paymentTracer = "payment-repository"

const paymentColumns = `id, provider_reference, phone, amount, currency, account_reference, source, occurred_at, received_at, linked, linked_order_id, rejected`

type PostgresPaymentRepository struct {
	db *sql.DB
}

func NewPostgresPaymentRepository(db *sql.DB) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

func scanPayment(row rowScanner) (*models.IncomingPayment, error) {
	var p models.IncomingPayment
	err := row.Scan(&p.ID, &p.ProviderReference, &p.Phone, &p.Amount, &p.Currency, &p.AccountReference,
		&p.Source, &p.OccurredAt, &p.ReceivedAt, &p.Linked, &p.LinkedOrderID, &p.Rejected)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresPaymentRepository) Create(ctx context.Context, p *models.IncomingPayment) (err error) {
	ctx, span, finish := observability.StartCall(ctx, paymentTracer, "CreatePayment")
	defer func() { finish(err) }()

	if p == nil {
		err = pkgerrors.ErrNilPayment
		slog.Error("failed to create payment", "method", "Create", "error", err)
		return err
	}
	span.SetAttributes(
		attribute.String("provider_reference", p.ProviderReference),
		attribute.String("amount", p.Amount.String()),
		attribute.String("source", string(p.Source)),
	)

	query := `
		INSERT INTO incoming_payments (provider_reference, phone, amount, currency, account_reference, source, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, received_at
	`
	err = r.db.QueryRowContext(ctx, query, p.ProviderReference, p.Phone, p.Amount, p.Currency, p.AccountReference, p.Source, p.OccurredAt).
		Scan(&p.ID, &p.ReceivedAt)
	if isUniqueViolation(err) {
		slog.Info("duplicate payment reference", "method", "Create", "provider_reference", p.ProviderReference)
		return pkgerrors.ErrDuplicatePayment
	}
	if err != nil {
		slog.Error("failed to create payment", "method", "Create", "provider_reference", p.ProviderReference, "error", err)
		return fmt.Errorf("failed to create payment: %w", err)
	}

	slog.Info("payment created", "method", "Create", "payment_id", p.ID, "provider_reference", p.ProviderReference, "amount", p.Amount, "source", p.Source)
	return nil
}

func (r *PostgresPaymentRepository) GetByID(ctx context.Context, id int64) (p *models.IncomingPayment, err error) {
	ctx, span, finish := observability.StartCall(ctx, paymentTracer, "GetPaymentByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("payment_id", id))

	query := `SELECT ` + paymentColumns + ` FROM incoming_payments WHERE id = $1`
	p, err = scanPayment(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment by id", "method", "GetByID", "payment_id", id, "error", err)
		return nil, fmt.Errorf("failed to get payment by id: %w", err)
	}
	return p, nil
}

func (r *PostgresPaymentRepository) GetByReference(ctx context.Context, reference string) (p *models.IncomingPayment, err error) {
	ctx, span, finish := observability.StartCall(ctx, paymentTracer, "GetPaymentByReference")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("provider_reference", reference))

	query := `SELECT ` + paymentColumns + ` FROM incoming_payments WHERE provider_reference = $1`
	p, err = scanPayment(r.db.QueryRowContext(ctx, query, reference))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPaymentNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get payment by reference", "method", "GetByReference", "provider_reference", reference, "error", err)
		return nil, fmt.Errorf("failed to get payment by reference: %w", err)
	}
	return p, nil
}

func (r *PostgresPaymentRepository) ListUnmatched(ctx context.Context, since time.Time, limit int) (payments []models.IncomingPayment, err error) {
	ctx, _, finish := observability.StartCall(ctx, paymentTracer, "ListUnmatchedPayments")
	defer func() { finish(err) }()

	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM incoming_payments
		WHERE linked = FALSE AND rejected = FALSE AND received_at >= $1
		ORDER BY received_at ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		slog.Error("failed to list unmatched payments", "method", "ListUnmatched", "error", err)
		return nil, fmt.Errorf("failed to list unmatched payments: %w", err)
	}
	defer rows.Close()

	payments = []models.IncomingPayment{}
	for rows.Next() {
		p, scanErr := scanPayment(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan payment: %w", scanErr)
			return nil, err
		}
		payments = append(payments, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}

	slog.Info("unmatched payments listed", "method", "ListUnmatched", "count", len(payments))
	return payments, nil
}

func (r *PostgresPaymentRepository) Reject(ctx context.Context, id int64) (err error) {
	ctx, span, finish := observability.StartCall(ctx, paymentTracer, "RejectPayment")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("payment_id", id))

	query := `UPDATE incoming_payments SET rejected = TRUE WHERE id = $1 AND linked = FALSE AND rejected = FALSE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Error("failed to reject payment", "method", "Reject", "payment_id", id, "error", err)
		return fmt.Errorf("failed to reject payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		slog.Info("payment rejected", "method", "Reject", "payment_id", id)
		return nil
	}

	var linked, rejected bool
	err = r.db.QueryRowContext(ctx, `SELECT linked, rejected FROM incoming_payments WHERE id = $1`, id).Scan(&linked, &rejected)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrPaymentNotFound
		return err
	case err != nil:
		return fmt.Errorf("failed to check payment: %w", err)
	case linked:
		err = pkgerrors.ErrPaymentAlreadyLinked
		return err
	}
	return nil
}
