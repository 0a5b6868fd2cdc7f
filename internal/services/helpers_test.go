package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/gateway"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/redis"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository/memory"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Seeded ids: plans get 1..3, demo listings 4..6 owned by users 1..3.
const (
	planBasic   int64 = 1
	planGold    int64 = 2
	planDiamond int64 = 3
	listingOf1  int64 = 4
	listingOf2  int64 = 5
)

var testStart = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeGateway struct {
	mu       sync.Mutex
	failures int // remaining failing calls; negative fails forever
	requests []gateway.Request
}

func (g *fakeGateway) Push(_ context.Context, req gateway.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.failures != 0 {
		if g.failures > 0 {
			g.failures--
		}
		return "", fmt.Errorf("%w: status 503", pkgerrors.ErrGatewayFailure)
	}
	return fmt.Sprintf("ws_CO_%d", len(g.requests)), nil
}

func (g *fakeGateway) setFailures(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = n
}

func (g *fakeGateway) calls() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Request(nil), g.requests...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, _, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := event.(Event); ok {
		p.events = append(p.events, e)
	}
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	clock     *fakeClock
	store     *memory.Store
	orders    *memory.OrderRepository
	payments  *memory.PaymentRepository
	wallets   *memory.WalletRepository
	listings  *memory.ListingRepository
	cache     *redis.LocalClient
	gateway   *fakeGateway
	publisher *recordingPublisher

	codes      *CodeGenerator
	inbox      *Inbox
	activator  *Activator
	matcher    *Matcher
	pusher     *Pusher
	ledger     *LedgerService
	orderSvc   *OrderService
	reconciler *Reconciler
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()

	clock := &fakeClock{t: testStart}
	store := memory.NewStore(memory.WithClock(clock.Now))
	store.Seed()

	e := &testEnv{
		clock:     clock,
		store:     store,
		orders:    memory.NewOrderRepository(store),
		payments:  memory.NewPaymentRepository(store),
		wallets:   memory.NewWalletRepository(store),
		listings:  memory.NewListingRepository(store),
		cache:     redis.NewLocalClient().WithClock(clock.Now),
		gateway:   &fakeGateway{},
		publisher: &recordingPublisher{},
	}
	plans := memory.NewPlanRepository(store)

	e.codes = NewCodeGenerator(e.orders, clock.Now)
	e.inbox = NewInbox(e.payments, e.cache, secret, "KES", 24*time.Hour, clock.Now)
	e.activator = NewActivator(e.orders, plans, e.codes, e.publisher, clock.Now)
	e.matcher = NewMatcher(e.orders, e.payments, e.activator, e.publisher, time.Hour, clock.Now)
	e.pusher = NewPusher(e.gateway, e.orders, 2)
	e.pusher.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	e.ledger = NewLedgerService(e.wallets, memory.NewVoucherRepository(store), "KES")
	e.orderSvc = NewOrderService(e.orders, plans, e.listings, e.payments, e.pusher, e.activator, e.matcher, e.ledger, e.publisher, clock.Now)
	e.reconciler = NewReconciler(e.inbox, e.matcher, e.pusher, e.orders, e.payments, e.publisher, ReconcilerConfig{
		OrderTTL:    2 * time.Hour,
		RetryWindow: 30 * time.Minute,
		MatchWindow: time.Hour,
	}, clock.Now)
	return e
}

// waitingOrder stores an order directly, bypassing the payment prompt.
func (e *testEnv) waitingOrder(t *testing.T, userID, listingID, planID int64, phone, amount string) *models.PromotionOrder {
	t.Helper()
	o := &models.PromotionOrder{
		UserID:         userID,
		ListingID:      listingID,
		PlanID:         planID,
		Status:         models.StatusWaitingForPayment,
		ExpectedPhone:  phone,
		ExpectedAmount: decimal.RequireFromString(amount),
	}
	require.NoError(t, e.orders.Create(context.Background(), o))
	return o
}

func (e *testEnv) ingest(t *testing.T, ref, phone, amount, account string) *models.IncomingPayment {
	t.Helper()
	res, err := e.inbox.Ingest(context.Background(), Notification{
		ProviderReference: ref,
		Phone:             phone,
		Amount:            decimal.RequireFromString(amount),
		AccountReference:  account,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, IngestCreated, res.Outcome)
	return res.Payment
}

func staff(id int64) Actor { return Actor{UserID: id, Role: RoleAgent} }
