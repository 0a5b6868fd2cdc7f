package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pushes and stores provider tx id", func(t *testing.T) {
		e := newTestEnv(t, "")

		o, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "0712 345 678")
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaitingForPayment, o.Status)
		assert.True(t, o.ExpectedAmount.Equal(decimal.NewFromInt(15)))
		require.NotNil(t, o.ProviderTxID)

		calls := e.gateway.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "254712345678", calls[0].Phone)
		assert.Equal(t, fmt.Sprintf("Promo %d", o.ID), calls[0].Reference)

		stored, err := e.orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, *o.ProviderTxID, *stored.ProviderTxID)
	})

	t.Run("gateway failure keeps the order", func(t *testing.T) {
		e := newTestEnv(t, "")
		e.gateway.setFailures(-1)

		o, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "0712345678")
		assert.ErrorIs(t, err, pkgerrors.ErrGatewayFailure)
		require.NotNil(t, o)
		assert.Nil(t, o.ProviderTxID)
		assert.Len(t, e.gateway.calls(), 2)

		stored, err := e.orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaitingForPayment, stored.Status)
	})

	t.Run("retries a transient failure", func(t *testing.T) {
		e := newTestEnv(t, "")
		e.gateway.setFailures(1)

		o, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "0712345678")
		require.NoError(t, err)
		require.NotNil(t, o.ProviderTxID)
		assert.Len(t, e.gateway.calls(), 2)
	})

	t.Run("rejects foreign listing and bad input", func(t *testing.T) {
		e := newTestEnv(t, "")

		_, err := e.orderSvc.CreateOrder(ctx, 1, listingOf2, planBasic, "0712345678")
		assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
		_, err = e.orderSvc.CreateOrder(ctx, 1, listingOf1, 404, "0712345678")
		assert.ErrorIs(t, err, pkgerrors.ErrPlanNotFound)
		_, err = e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "12")
		assert.ErrorIs(t, err, pkgerrors.ErrValidation)
		assert.Empty(t, e.gateway.calls())
	})
}

func TestOrderService_GetOrder(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")

	_, err := e.orderSvc.GetOrder(ctx, Actor{UserID: 1, Role: RoleUser}, o.ID)
	assert.NoError(t, err)
	_, err = e.orderSvc.GetOrder(ctx, Actor{UserID: 2, Role: RoleUser}, o.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrForbidden)
	_, err = e.orderSvc.GetOrder(ctx, staff(50), o.ID)
	assert.NoError(t, err)
	_, err = e.orderSvc.GetOrder(ctx, staff(50), 999)
	assert.ErrorIs(t, err, pkgerrors.ErrOrderNotFound)
}

func TestOrderService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("approve under a different plan", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")

		approved, err := e.orderSvc.Approve(ctx, staff(50), o.ID, planDiamond)
		require.NoError(t, err)
		assert.Equal(t, models.StatusApproved, approved.Status)
		assert.Equal(t, planDiamond, approved.PlanID)
		require.NotNil(t, approved.ApprovedBy)
		assert.Equal(t, int64(50), *approved.ApprovedBy)

		listing, err := e.listings.GetByID(ctx, listingOf1)
		require.NoError(t, err)
		assert.Equal(t, 3, listing.BoostLevel)

		_, err = e.orderSvc.Approve(ctx, staff(51), o.ID, 0)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyApproved)
	})

	t.Run("rejected order cannot be approved", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
		_, err := e.orderSvc.Reject(ctx, staff(50), o.ID, "fake receipt")
		require.NoError(t, err)

		_, err = e.orderSvc.Approve(ctx, staff(50), o.ID, 0)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyTerminal)
	})
}

func TestOrderService_Reject(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")

	rejected, err := e.orderSvc.Reject(ctx, staff(50), o.ID, " duplicate ")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.AdminNotes)
	assert.Equal(t, "duplicate", *rejected.AdminNotes)

	again, err := e.orderSvc.Reject(ctx, staff(50), o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, again.Status)
	assert.Equal(t, []string{EventPromotionRejected}, e.publisher.types())

	paid := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
	_, err = e.activator.Activate(ctx, ActivationInput{OrderID: paid.ID, Status: models.StatusPaid})
	require.NoError(t, err)
	_, err = e.orderSvc.Reject(ctx, staff(50), paid.ID, "")
	assert.ErrorIs(t, err, pkgerrors.ErrAlreadyTerminal)
}

func TestOrderService_LinkAndFinalize(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
	other := e.waitingOrder(t, 2, listingOf2, planBasic, "0799999999", "15.00")
	p := e.ingest(t, "QK-MANUAL", "0788888888", "15.00", "")

	pending, err := e.orderSvc.LinkPayment(ctx, staff(50), o.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, pending.Status)
	require.NotNil(t, pending.PaymentProof)
	assert.Equal(t, "QK-MANUAL", *pending.PaymentProof)

	_, err = e.orderSvc.LinkPayment(ctx, staff(50), other.ID, p.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrPaymentAlreadyLinked)
	assert.ErrorIs(t, e.orderSvc.RejectPayment(ctx, staff(50), p.ID), pkgerrors.ErrPaymentAlreadyLinked)

	_, err = e.orderSvc.Finalize(ctx, staff(50), other.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransition)

	done, err := e.orderSvc.Finalize(ctx, staff(50), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, done.Status)
	assert.NotNil(t, done.PromotionCode)
	assert.Equal(t, "QK-MANUAL", *done.PaymentProof)
}

func TestOrderService_AgentQueues(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	open := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
	closed := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
	_, err := e.orderSvc.Reject(ctx, staff(50), closed.ID, "")
	require.NoError(t, err)

	queue, err := e.orderSvc.ListOrders(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, open.ID, queue[0].ID)

	history, err := e.orderSvc.ListOrders(ctx, []models.OrderStatus{models.StatusRejected}, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, closed.ID, history[0].ID)

	mine, err := e.orderSvc.ListUserOrders(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	p := e.ingest(t, "QK-STRAY", "0700000000", "3.00", "")
	require.NoError(t, e.orderSvc.RejectPayment(ctx, staff(50), p.ID))
	require.NoError(t, e.orderSvc.RejectPayment(ctx, staff(50), p.ID))
	unmatched, err := e.orderSvc.ListUnmatchedPayments(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unmatched)

	plans, err := e.orderSvc.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, "Basic", plans[0].Name)
}

func TestOrderService_DirectPromote(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	o, err := e.orderSvc.DirectPromote(ctx, Actor{UserID: 99, Role: RoleAdmin}, listingOf2, planGold)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, o.Status)
	assert.Equal(t, int64(2), o.UserID)
	require.NotNil(t, o.ApprovedBy)
	assert.Equal(t, int64(99), *o.ApprovedBy)

	listing, err := e.listings.GetByID(ctx, listingOf2)
	require.NoError(t, err)
	assert.Equal(t, 2, listing.BoostLevel)
}

func TestOrderService_PurchaseWithWallet(t *testing.T) {
	ctx := context.Background()

	t.Run("debits and activates", func(t *testing.T) {
		e := newTestEnv(t, "")
		_, err := e.ledger.CreditWallet(ctx, 1, decimal.NewFromInt(100), "top up")
		require.NoError(t, err)

		o, w, err := e.orderSvc.PurchaseWithWallet(ctx, 1, listingOf1, planGold)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaid, o.Status)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(50)))
		assert.Empty(t, e.gateway.calls())
	})

	t.Run("insufficient funds creates nothing", func(t *testing.T) {
		e := newTestEnv(t, "")
		_, err := e.ledger.CreditWallet(ctx, 1, decimal.NewFromInt(10), "top up")
		require.NoError(t, err)

		_, _, err = e.orderSvc.PurchaseWithWallet(ctx, 1, listingOf1, planGold)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

		mine, err := e.orderSvc.ListUserOrders(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, mine)
	})

	t.Run("failed activation is refunded", func(t *testing.T) {
		e := newTestEnv(t, "")
		_, err := e.ledger.CreditWallet(ctx, 1, decimal.NewFromInt(100), "top up")
		require.NoError(t, err)
		e.store.FailNextActivate(assert.AnError)

		_, _, err = e.orderSvc.PurchaseWithWallet(ctx, 1, listingOf1, planGold)
		assert.ErrorIs(t, err, assert.AnError)

		w, err := e.ledger.GetWallet(ctx, 1)
		require.NoError(t, err)
		assert.True(t, w.Balance.Equal(decimal.NewFromInt(100)))

		entries, err := e.ledger.ListEntries(ctx, 1, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, models.KindRefund, entries[0].Kind)
		assert.Equal(t, models.KindPayment, entries[1].Kind)
	})
}
