package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/models"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletRepository_ConcurrentDebits(t *testing.T) {
	s := NewStore()
	wallets := NewWalletRepository(s)
	ctx := context.Background()

	_, err := wallets.Apply(ctx, 1, "KES", &models.LedgerEntry{Amount: decimal.NewFromInt(100), Kind: models.KindDeposit})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := wallets.Apply(ctx, 1, "KES", &models.LedgerEntry{Amount: decimal.NewFromInt(-60), Kind: models.KindPayment})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, pkgerrors.ErrInsufficientFunds):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)

	w, err := wallets.GetOrCreate(ctx, 1, "KES")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(40)))
	assert.True(t, wallets.LedgerSum(1).Equal(w.Balance))
}

func TestWalletRepository_ListEntriesPaging(t *testing.T) {
	s := NewStore()
	wallets := NewWalletRepository(s)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := wallets.Apply(ctx, 1, "KES", &models.LedgerEntry{Amount: decimal.NewFromInt(int64(i)), Kind: models.KindDeposit})
		require.NoError(t, err)
	}

	page, err := wallets.ListEntries(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(3)))

	page, err = wallets.ListEntries(ctx, 1, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)

	page, err = wallets.ListEntries(ctx, 99, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestPaymentRepository_DuplicateAndReject(t *testing.T) {
	s := NewStore()
	payments := NewPaymentRepository(s)
	ctx := context.Background()

	p := &models.IncomingPayment{ProviderReference: "TX1", Amount: decimal.NewFromInt(15)}
	require.NoError(t, payments.Create(ctx, p))
	assert.ErrorIs(t, payments.Create(ctx, &models.IncomingPayment{ProviderReference: "TX1"}), pkgerrors.ErrDuplicatePayment)

	require.NoError(t, payments.Reject(ctx, p.ID))
	require.NoError(t, payments.Reject(ctx, p.ID))

	unmatched, err := payments.ListUnmatched(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, unmatched)
	assert.ErrorIs(t, payments.Reject(ctx, 404), pkgerrors.ErrPaymentNotFound)
}

func TestOrderRepository_ActivateFailureLeavesStateUntouched(t *testing.T) {
	s := NewStore()
	orders := NewOrderRepository(s)
	payments := NewPaymentRepository(s)
	listing := s.AddListing(models.Listing{OwnerID: 1, Title: "Bike"})
	ctx := context.Background()

	o := &models.PromotionOrder{UserID: 1, ListingID: listing.ID, PlanID: 1, Status: models.StatusWaitingForPayment, ExpectedAmount: decimal.NewFromInt(15)}
	require.NoError(t, orders.Create(ctx, o))
	p := &models.IncomingPayment{ProviderReference: "TX1", Amount: decimal.NewFromInt(15)}
	require.NoError(t, payments.Create(ctx, p))

	s.FailNextActivate(errors.New("disk full"))
	_, err := orders.Activate(ctx, &models.Activation{
		OrderID:    o.ID,
		From:       []models.OrderStatus{models.StatusWaitingForPayment},
		Status:     models.StatusPaid,
		Code:       "X",
		PaymentID:  &p.ID,
		ListingID:  listing.ID,
		BoostLevel: 2,
		ExpiresAt:  time.Now().Add(time.Hour),
	})
	require.Error(t, err)

	got, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitingForPayment, got.Status)
	gotPayment, err := payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, gotPayment.Linked)
	gotListing, err := NewListingRepository(s).GetByID(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, gotListing.BoostLevel)
	assert.Equal(t, models.ListingStatusPending, gotListing.Status)
}

func TestOrderRepository_TransitionIsCompareAndSwap(t *testing.T) {
	s := NewStore()
	orders := NewOrderRepository(s)
	ctx := context.Background()
	o := &models.PromotionOrder{Status: models.StatusWaitingForPayment}
	require.NoError(t, orders.Create(ctx, o))

	from := []models.OrderStatus{models.StatusWaitingForPayment}
	require.NoError(t, orders.Transition(ctx, o.ID, from, models.StatusRejected, nil))
	err := orders.Transition(ctx, o.ID, from, models.StatusExpired, nil)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransition)
	assert.ErrorIs(t, orders.Transition(ctx, 999, from, models.StatusRejected, nil), pkgerrors.ErrOrderNotFound)
}
