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
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const orderTracer = "order-repository"

const orderColumns = `id, user_id, listing_id, plan_id, status, expected_phone, expected_amount, provider_tx_id, promotion_code, payment_proof, admin_notes, approved_by, approved_at, expires_at, created_at, updated_at`

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func scanOrder(row rowScanner) (*models.PromotionOrder, error) {
	var o models.PromotionOrder
	err := row.Scan(&o.ID, &o.UserID, &o.ListingID, &o.PlanID, &o.Status, &o.ExpectedPhone, &o.ExpectedAmount,
		&o.ProviderTxID, &o.PromotionCode, &o.PaymentProof, &o.AdminNotes, &o.ApprovedBy, &o.ApprovedAt,
		&o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *PostgresOrderRepository) queryOrders(ctx context.Context, method, query string, args ...any) ([]models.PromotionOrder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("failed to query orders", "method", method, "error", err)
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []models.PromotionOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func insertOrder(ctx context.Context, q querier, o *models.PromotionOrder) error {
	query := `
		INSERT INTO promotion_orders (user_id, listing_id, plan_id, status, expected_phone, expected_amount, provider_tx_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	return q.QueryRowContext(ctx, query, o.UserID, o.ListingID, o.PlanID, o.Status, o.ExpectedPhone, o.ExpectedAmount, o.ProviderTxID).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *PostgresOrderRepository) Create(ctx context.Context, o *models.PromotionOrder) (err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "CreateOrder")
	defer func() { finish(err) }()

	if o == nil {
		err = pkgerrors.ErrNilOrder
		slog.Error("failed to create order", "method", "Create", "error", err)
		return err
	}
	if !o.Status.Valid() {
		err = fmt.Errorf("%w: unknown order status %q", pkgerrors.ErrValidation, o.Status)
		return err
	}
	span.SetAttributes(
		attribute.Int64("user_id", o.UserID),
		attribute.Int64("listing_id", o.ListingID),
		attribute.Int64("plan_id", o.PlanID),
		attribute.String("amount", o.ExpectedAmount.String()),
	)

	if err = insertOrder(ctx, r.db, o); err != nil {
		slog.Error("failed to create order", "method", "Create", "user_id", o.UserID, "listing_id", o.ListingID, "error", err)
		return fmt.Errorf("failed to create order: %w", err)
	}

	slog.Info("order created", "method", "Create", "order_id", o.ID, "listing_id", o.ListingID, "plan_id", o.PlanID, "status", o.Status)
	return nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id int64) (o *models.PromotionOrder, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "GetOrderByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("order_id", id))

	o, err = scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM promotion_orders WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrOrderNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get order by id", "method", "GetByID", "order_id", id, "error", err)
		return nil, fmt.Errorf("failed to get order by id: %w", err)
	}
	return o, nil
}

func (r *PostgresOrderRepository) ListByStatus(ctx context.Context, statuses []models.OrderStatus, limit int) (orders []models.PromotionOrder, err error) {
	ctx, _, finish := observability.StartCall(ctx, orderTracer, "ListOrdersByStatus")
	defer func() { finish(err) }()

	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + ` FROM promotion_orders WHERE status = ANY($1) ORDER BY created_at DESC, id DESC LIMIT $2`
	orders, err = r.queryOrders(ctx, "ListByStatus", query, pq.Array(statusStrings(statuses)), limit)
	return orders, err
}

func (r *PostgresOrderRepository) ListByUser(ctx context.Context, userID int64) (orders []models.PromotionOrder, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "ListOrdersByUser")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("user_id", userID))

	query := `SELECT ` + orderColumns + ` FROM promotion_orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	orders, err = r.queryOrders(ctx, "ListByUser", query, userID)
	return orders, err
}

func (r *PostgresOrderRepository) FindWaitingByProviderTxID(ctx context.Context, txID string) (o *models.PromotionOrder, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "FindWaitingByProviderTxID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("provider_tx_id", txID))

	query := `SELECT ` + orderColumns + ` FROM promotion_orders WHERE provider_tx_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT 1`
	o, err = scanOrder(r.db.QueryRowContext(ctx, query, txID, models.StatusWaitingForPayment))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrOrderNotFound
	}
	if err != nil {
		slog.Error("failed to find order by provider tx id", "method", "FindWaitingByProviderTxID", "provider_tx_id", txID, "error", err)
		return nil, fmt.Errorf("failed to find order by provider tx id: %w", err)
	}
	return o, nil
}

func (r *PostgresOrderRepository) FindWaitingCandidates(ctx context.Context, amount decimal.Decimal, since time.Time) (orders []models.PromotionOrder, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "FindWaitingCandidates")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.String("amount", amount.String()))

	query := `
		SELECT ` + orderColumns + `
		FROM promotion_orders
		WHERE status = $1 AND expected_amount = $2 AND created_at >= $3
		ORDER BY created_at ASC, id ASC
	`
	orders, err = r.queryOrders(ctx, "FindWaitingCandidates", query, models.StatusWaitingForPayment, amount, since)
	return orders, err
}

func (r *PostgresOrderRepository) ListRetryable(ctx context.Context, since time.Time) (orders []models.PromotionOrder, err error) {
	ctx, _, finish := observability.StartCall(ctx, orderTracer, "ListRetryableOrders")
	defer func() { finish(err) }()

	query := `
		SELECT ` + orderColumns + `
		FROM promotion_orders
		WHERE status = $1 AND provider_tx_id IS NULL AND created_at >= $2
		ORDER BY created_at ASC, id ASC
	`
	orders, err = r.queryOrders(ctx, "ListRetryable", query, models.StatusWaitingForPayment, since)
	return orders, err
}

func (r *PostgresOrderRepository) SetProviderTxID(ctx context.Context, id int64, txID string) (updated bool, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "SetProviderTxID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("order_id", id), attribute.String("provider_tx_id", txID))

	query := `
		UPDATE promotion_orders SET provider_tx_id = $1, updated_at = NOW()
		WHERE id = $2 AND provider_tx_id IS NULL AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query, txID, id, models.StatusWaitingForPayment)
	if err != nil {
		slog.Error("failed to set provider tx id", "method", "SetProviderTxID", "order_id", id, "error", err)
		return false, fmt.Errorf("failed to set provider tx id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	slog.Info("provider tx id stored", "method", "SetProviderTxID", "order_id", id, "provider_tx_id", txID, "updated", n == 1)
	return n == 1, nil
}

// transitionError explains why a compare-and-swap on order status matched no rows.
func transitionError(ctx context.Context, q querier, id int64, to models.OrderStatus) error {
	var current models.OrderStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM promotion_orders WHERE id = $1`, id).Scan(&current)
	if stderrors.Is(err, sql.ErrNoRows) {
		return pkgerrors.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read order status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidTransition, current, to)
}

func (r *PostgresOrderRepository) Transition(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus, notes *string) (err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "TransitionOrder")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("order_id", id), attribute.String("to", string(to)))

	query := `
		UPDATE promotion_orders SET status = $1, admin_notes = COALESCE($2, admin_notes), updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)
	`
	res, err := r.db.ExecContext(ctx, query, to, notes, id, pq.Array(statusStrings(from)))
	if err != nil {
		slog.Error("failed to transition order", "method", "Transition", "order_id", id, "to", to, "error", err)
		return fmt.Errorf("failed to transition order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = transitionError(ctx, r.db, id, to)
		return err
	}

	slog.Info("order transitioned", "method", "Transition", "order_id", id, "to", to)
	return nil
}

func (r *PostgresOrderRepository) ExpireStale(ctx context.Context, cutoff time.Time) (ids []int64, err error) {
	ctx, _, finish := observability.StartCall(ctx, orderTracer, "ExpireStaleOrders")
	defer func() { finish(err) }()

	query := `
		UPDATE promotion_orders SET status = $1, updated_at = NOW()
		WHERE status = $2 AND created_at < $3
		RETURNING id
	`
	rows, err := r.db.QueryContext(ctx, query, models.StatusExpired, models.StatusWaitingForPayment, cutoff)
	if err != nil {
		slog.Error("failed to expire stale orders", "method", "ExpireStale", "error", err)
		return nil, fmt.Errorf("failed to expire stale orders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired order id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired orders: %w", err)
	}

	slog.Info("stale orders expired", "method", "ExpireStale", "cutoff", cutoff, "count", len(ids))
	return ids, nil
}

// linkPaymentTx marks the payment as linked to orderID. Relinking to the same
// order is allowed so a finalize after a manual link succeeds.
func linkPaymentTx(ctx context.Context, tx *sql.Tx, orderID, paymentID int64) error {
	query := `
		UPDATE incoming_payments SET linked = TRUE, linked_order_id = $1
		WHERE id = $2 AND rejected = FALSE AND (linked = FALSE OR linked_order_id = $1)
	`
	res, err := tx.ExecContext(ctx, query, orderID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to link payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var rejected bool
	err = tx.QueryRowContext(ctx, `SELECT rejected FROM incoming_payments WHERE id = $1`, paymentID).Scan(&rejected)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return pkgerrors.ErrPaymentNotFound
	case err != nil:
		return fmt.Errorf("failed to check payment: %w", err)
	case rejected:
		return pkgerrors.ErrPaymentRejected
	}
	return pkgerrors.ErrPaymentAlreadyLinked
}

func (r *PostgresOrderRepository) LinkPayment(ctx context.Context, orderID, paymentID int64, proof string) (err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "LinkPayment")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("order_id", orderID), attribute.Int64("payment_id", paymentID))

	err = withTx(ctx, r.db, "LinkPayment", func(tx *sql.Tx) error {
		query := `
			UPDATE promotion_orders SET status = $1, payment_proof = $2, updated_at = NOW()
			WHERE id = $3 AND status = $4
		`
		res, err := tx.ExecContext(ctx, query, models.StatusPending, proof, orderID, models.StatusWaitingForPayment)
		if err != nil {
			return fmt.Errorf("failed to mark order pending: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return transitionError(ctx, tx, orderID, models.StatusPending)
		}
		return linkPaymentTx(ctx, tx, orderID, paymentID)
	})
	if err != nil {
		slog.Error("failed to link payment", "method", "LinkPayment", "order_id", orderID, "payment_id", paymentID, "error", err)
		return err
	}

	slog.Info("payment linked", "method", "LinkPayment", "order_id", orderID, "payment_id", paymentID)
	return nil
}

func (r *PostgresOrderRepository) Activate(ctx context.Context, a *models.Activation) (o *models.PromotionOrder, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "ActivateOrder")
	defer func() { finish(err) }()

	if a == nil || !a.Status.IsSuccess() {
		err = fmt.Errorf("%w: activation needs a success status", pkgerrors.ErrValidation)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("order_id", a.OrderID),
		attribute.Int64("listing_id", a.ListingID),
		attribute.String("status", string(a.Status)),
		attribute.Int("boost_level", a.BoostLevel),
	)

	err = withTx(ctx, r.db, "Activate", func(tx *sql.Tx) error {
		if a.NewOrder != nil {
			if err := insertOrder(ctx, tx, a.NewOrder); err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}
			a.OrderID = a.NewOrder.ID
		}

		query := `
			UPDATE promotion_orders
			SET status = $1, plan_id = $2, promotion_code = $3, payment_proof = COALESCE($4, payment_proof),
				approved_by = $5, approved_at = $6, expires_at = $7, updated_at = NOW()
			WHERE id = $8 AND status = ANY($9)
			RETURNING ` + orderColumns
		updated, err := scanOrder(tx.QueryRowContext(ctx, query, a.Status, a.PlanID, a.Code, a.Proof,
			a.ApproverID, a.ApprovedAt, a.ExpiresAt, a.OrderID, pq.Array(statusStrings(a.From))))
		if stderrors.Is(err, sql.ErrNoRows) {
			return transitionError(ctx, tx, a.OrderID, a.Status)
		}
		if err != nil {
			return fmt.Errorf("failed to activate order: %w", err)
		}

		if a.PaymentID != nil {
			if err := linkPaymentTx(ctx, tx, a.OrderID, *a.PaymentID); err != nil {
				return err
			}
		}

		query = `
			UPDATE listings
			SET boost_level = $1, boost_expires_at = $2,
				status = CASE WHEN status = $3 THEN $4 ELSE status END
			WHERE id = $5
		`
		res, err := tx.ExecContext(ctx, query, a.BoostLevel, a.ExpiresAt, models.ListingStatusPending, models.ListingStatusActive, a.ListingID)
		if err != nil {
			return fmt.Errorf("failed to boost listing: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return pkgerrors.ErrListingNotFound
		}

		o = updated
		return nil
	})
	if err != nil {
		slog.Error("failed to activate order", "method", "Activate", "order_id", a.OrderID, "listing_id", a.ListingID, "error", err)
		return nil, err
	}

	slog.Info("order activated", "method", "Activate", "order_id", o.ID, "status", o.Status, "listing_id", a.ListingID, "boost_level", a.BoostLevel, "expires_at", a.ExpiresAt)
	return o, nil
}

func (r *PostgresOrderRepository) CountCodesWithPrefix(ctx context.Context, prefix string) (n int, err error) {
	ctx, _, finish := observability.StartCall(ctx, orderTracer, "CountCodesWithPrefix")
	defer func() { finish(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM promotion_orders WHERE promotion_code LIKE $1`, prefix+"%").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count promotion codes: %w", err)
	}
	return n, nil
}

func (r *PostgresOrderRepository) CodeExists(ctx context.Context, code string) (exists bool, err error) {
	ctx, _, finish := observability.StartCall(ctx, orderTracer, "CodeExists")
	defer func() { finish(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM promotion_orders WHERE promotion_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check promotion code: %w", err)
	}
	return exists, nil
}

type PostgresPlanRepository struct {
	db *sql.DB
}

func NewPostgresPlanRepository(db *sql.DB) *PostgresPlanRepository {
	return &PostgresPlanRepository{db: db}
}

func (r *PostgresPlanRepository) GetByID(ctx context.Context, id int64) (p *models.Plan, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "GetPlanByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("plan_id", id))

	p = &models.Plan{}
	query := `SELECT id, name, price, duration_days, boost_level, description FROM promotion_plans WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.BoostLevel, &p.Description)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPlanNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get plan", "method", "GetByID", "plan_id", id, "error", err)
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (r *PostgresPlanRepository) List(ctx context.Context) (plans []models.Plan, err error) {
	ctx, _, finish := observability.StartCall(ctx, orderTracer, "ListPlans")
	defer func() { finish(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, price, duration_days, boost_level, description FROM promotion_plans ORDER BY price ASC, id ASC`)
	if err != nil {
		slog.Error("failed to list plans", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans = []models.Plan{}
	for rows.Next() {
		var p models.Plan
		if err = rows.Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.BoostLevel, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

type PostgresListingRepository struct {
	db *sql.DB
}

func NewPostgresListingRepository(db *sql.DB) *PostgresListingRepository {
	return &PostgresListingRepository{db: db}
}

func (r *PostgresListingRepository) GetByID(ctx context.Context, id int64) (l *models.Listing, err error) {
	ctx, span, finish := observability.StartCall(ctx, orderTracer, "GetListingByID")
	defer func() { finish(err) }()
	span.SetAttributes(attribute.Int64("listing_id", id))

	l = &models.Listing{}
	query := `SELECT id, owner_id, title, status, boost_level, boost_expires_at FROM listings WHERE id = $1`
	err = r.db.QueryRowContext(ctx, query, id).Scan(&l.ID, &l.OwnerID, &l.Title, &l.Status, &l.BoostLevel, &l.BoostExpiresAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrListingNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get listing", "method", "GetByID", "listing_id", id, "error", err)
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return l, nil
}
