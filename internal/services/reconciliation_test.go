package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_EndToEnd(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	order, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "0712345678")
	require.NoError(t, err)
	require.NotNil(t, order.ProviderTxID)

	e.clock.Advance(2 * time.Minute)
	n := Notification{
		ProviderReference: *order.ProviderTxID,
		Phone:             "254712345678",
		Amount:            decimal.RequireFromString("15.00"),
	}
	res, err := e.reconciler.ProcessNotification(ctx, n, nil)
	require.NoError(t, err)
	assert.Equal(t, IngestCreated, res.Ingest.Outcome)
	require.True(t, res.Matched())
	assert.Equal(t, priorityExact, res.Match.Priority)

	got, err := e.orderSvc.GetOrder(ctx, Actor{UserID: 1, Role: RoleUser}, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(e.clock.Now().Add(7*24*time.Hour)))

	listing, err := e.listings.GetByID(ctx, listingOf1)
	require.NoError(t, err)
	assert.Equal(t, 1, listing.BoostLevel)

	dup, err := e.reconciler.ProcessNotification(ctx, n, nil)
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, dup.Ingest.Outcome)
	assert.False(t, dup.Matched())

	assert.Equal(t, []string{EventPaymentReceived, EventPromotionActivated, EventPaymentMatched}, e.publisher.types())
}

func TestReconciler_UnmatchedPaymentStillIngested(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	res, err := e.reconciler.ProcessNotification(ctx, Notification{
		ProviderReference: "QK-ORPHAN",
		Phone:             "0712345678",
		Amount:            decimal.NewFromInt(15),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, IngestCreated, res.Ingest.Outcome)
	require.NotNil(t, res.Match)
	assert.Equal(t, MatchUnmatched, res.Match.Outcome)

	_, err = e.reconciler.ProcessNotification(ctx, Notification{ProviderReference: "", Amount: decimal.NewFromInt(1)}, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrValidation)
}

func TestReconciler_ExpireStale(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	stale := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
	e.clock.Advance(150 * time.Minute)
	fresh := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
	e.clock.Advance(30 * time.Minute)

	n, err := e.reconciler.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.orders.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	got, err = e.orders.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForPayment, got.Status)

	n, err = e.reconciler.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{EventPromotionExpired}, e.publisher.types())
}

func TestReconciler_RetryPushes(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	e.gateway.setFailures(-1)
	old, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "0712345678")
	require.ErrorIs(t, err, pkgerrors.ErrGatewayFailure)
	e.clock.Advance(40 * time.Minute)
	recent, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planBasic, "0712345678")
	require.ErrorIs(t, err, pkgerrors.ErrGatewayFailure)
	e.clock.Advance(10 * time.Minute)

	e.gateway.setFailures(0)
	pushed, err := e.reconciler.RetryPushes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)

	calls := e.gateway.calls()
	assert.Equal(t, fmt.Sprintf("Promo %d (retry)", recent.ID), calls[len(calls)-1].Reference)

	got, err := e.orders.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ProviderTxID)
	got, err = e.orders.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ProviderTxID)

	pushed, err = e.reconciler.RetryPushes(ctx)
	require.NoError(t, err)
	assert.Zero(t, pushed)
}

func TestReconciler_RematchPaymentBeforeOrder(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	res, err := e.reconciler.ProcessNotification(ctx, Notification{
		ProviderReference: "QK-EARLY",
		Phone:             "0712345678",
		Amount:            decimal.NewFromInt(50),
	}, nil)
	require.NoError(t, err)
	require.False(t, res.Matched())

	e.clock.Advance(3 * time.Minute)
	e.gateway.setFailures(-1)
	o, err := e.orderSvc.CreateOrder(ctx, 1, listingOf1, planGold, "+254712345678")
	require.ErrorIs(t, err, pkgerrors.ErrGatewayFailure)

	matched, err := e.reconciler.Rematch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	got, err := e.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)

	matched, err = e.reconciler.Rematch(ctx)
	require.NoError(t, err)
	assert.Zero(t, matched)
}

func TestPusher_StopsAfterAttempts(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()
	o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")

	e.gateway.setFailures(-1)
	pusher := NewPusher(e.gateway, e.orders, 3)
	pusher.newBackOff = e.pusher.newBackOff

	_, err := pusher.Push(ctx, o, pushReference(o.ID), "boost")
	assert.ErrorIs(t, err, pkgerrors.ErrGatewayFailure)
	assert.Len(t, e.gateway.calls(), 3)

	e.gateway.setFailures(0)
	txID, err := pusher.Push(ctx, o, pushReference(o.ID), "boost")
	require.NoError(t, err)
	assert.Equal(t, txID, *o.ProviderTxID)

	// a second id is never stored over the first
	again, err := pusher.Push(ctx, o, pushReference(o.ID), "boost")
	require.NoError(t, err)
	stored, err := e.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.NotEqual(t, again, *stored.ProviderTxID)
	assert.Equal(t, txID, *stored.ProviderTxID)
}
