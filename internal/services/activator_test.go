package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var promoCodeFormat = regexp.MustCompile(`^\d{8}-\d{4}-[0-9A-F]{4}$`)

func TestActivator_Activate(t *testing.T) {
	ctx := context.Background()

	t.Run("sets code expiry and boost", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planGold, "0712345678", "50.00")

		res, err := e.activator.Activate(ctx, ActivationInput{OrderID: o.ID, Status: models.StatusPaid})
		require.NoError(t, err)
		assert.True(t, res.Activated)
		assert.Equal(t, models.StatusPaid, res.Order.Status)
		require.NotNil(t, res.Order.PromotionCode)
		assert.Regexp(t, promoCodeFormat, *res.Order.PromotionCode)
		assert.Equal(t, "20261017-0001", (*res.Order.PromotionCode)[:13])
		require.NotNil(t, res.Order.ExpiresAt)
		assert.True(t, res.Order.ExpiresAt.Equal(testStart.Add(14*24*time.Hour)))

		listing, err := e.listings.GetByID(ctx, listingOf1)
		require.NoError(t, err)
		assert.Equal(t, 2, listing.BoostLevel)
		assert.Equal(t, models.ListingStatusActive, listing.Status)
	})

	t.Run("second activation is a no-op", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")

		first, err := e.activator.Activate(ctx, ActivationInput{OrderID: o.ID, Status: models.StatusPaid})
		require.NoError(t, err)

		e.clock.Advance(time.Hour)
		second, err := e.activator.Activate(ctx, ActivationInput{OrderID: o.ID, Status: models.StatusApproved})
		require.NoError(t, err)
		assert.False(t, second.Activated)
		assert.Equal(t, models.StatusPaid, second.Order.Status)
		assert.Equal(t, *first.Order.PromotionCode, *second.Order.PromotionCode)
		assert.True(t, first.Order.ExpiresAt.Equal(*second.Order.ExpiresAt))
		assert.Len(t, e.publisher.types(), 1)
	})

	t.Run("concurrent activations apply once", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")

		var wg sync.WaitGroup
		results := make(chan *ActivationResult, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.activator.Activate(ctx, ActivationInput{OrderID: o.ID, Status: models.StatusPaid})
				if err == nil {
					results <- res
				}
			}()
		}
		wg.Wait()
		close(results)

		activated := 0
		for res := range results {
			if res.Activated {
				activated++
			}
		}
		assert.Equal(t, 1, activated)
		assert.Equal(t, []string{EventPromotionActivated}, e.publisher.types())
	})

	t.Run("terminal order is refused", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
		require.NoError(t, e.orders.Transition(ctx, o.ID, []models.OrderStatus{models.StatusWaitingForPayment}, models.StatusExpired, nil))

		_, err := e.activator.Activate(ctx, ActivationInput{OrderID: o.ID, Status: models.StatusApproved})
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyTerminal)
	})

	t.Run("storage failure leaves order open", func(t *testing.T) {
		e := newTestEnv(t, "")
		o := e.waitingOrder(t, 1, listingOf1, planBasic, "0712345678", "15.00")
		e.store.FailNextActivate(assert.AnError)

		_, err := e.activator.Activate(ctx, ActivationInput{OrderID: o.ID, Status: models.StatusPaid})
		require.ErrorIs(t, err, assert.AnError)

		got, err := e.orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaitingForPayment, got.Status)
		assert.Nil(t, got.PromotionCode)
	})
}

func TestCodeGenerator_RegeneratesOnCollision(t *testing.T) {
	e := newTestEnv(t, "")
	ctx := context.Background()

	taken := "20261017-0002-AAAA"
	require.NoError(t, e.orders.Create(ctx, &models.PromotionOrder{Status: models.StatusApproved, PromotionCode: &taken}))
	e.codes.random = func() string { return "AAAA" }

	code, err := e.codes.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "20261017-0003-AAAA", code)
}
