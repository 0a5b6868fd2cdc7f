package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/PromoPaymentService/internal/api"
	"github.com/honeynil/PromoPaymentService/internal/config"
	"github.com/honeynil/PromoPaymentService/internal/handler"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/gateway"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/kafka"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/redis"
	"github.com/honeynil/PromoPaymentService/internal/observability"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	"github.com/honeynil/PromoPaymentService/internal/repository/memory"
	core "github.com/honeynil/PromoPaymentService/internal/repository/postgres"
	service "github.com/honeynil/PromoPaymentService/internal/services"
	"github.com/honeynil/PromoPaymentService/internal/worker"
	_ "github.com/lib/pq"
)

const serviceName = "promo-payment-service"

type repositories struct {
	orders   repository.OrderRepository
	plans    repository.PlanRepository
	listings repository.ListingRepository
	payments repository.PaymentRepository
	wallets  repository.WalletRepository
	vouchers repository.VoucherRepository
}

func main() {
	cfg := config.Load()

	shutdownTracing := observability.Setup(serviceName, cfg)
	defer shutdownTracing(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repos     repositories
		cache     redis.RedisClient
		publisher service.EventPublisher
		producer  *kafka.Producer
	)

	switch cfg.StorageDriver {
	case "memory":
		store := memory.NewStore()
		store.Seed()
		repos = repositories{
			orders:   memory.NewOrderRepository(store),
			plans:    memory.NewPlanRepository(store),
			listings: memory.NewListingRepository(store),
			payments: memory.NewPaymentRepository(store),
			wallets:  memory.NewWalletRepository(store),
			vouchers: memory.NewVoucherRepository(store),
		}
		cache = redis.NewLocalClient()
		slog.Info("running on in-memory storage")
	default:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open Postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		repos = repositories{
			orders:   core.NewPostgresOrderRepository(db),
			plans:    core.NewPostgresPlanRepository(db),
			listings: core.NewPostgresListingRepository(db),
			payments: core.NewPostgresPaymentRepository(db),
			wallets:  core.NewPostgresWalletRepository(db),
			vouchers: core.NewPostgresVoucherRepository(db),
		}

		redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Warn("Redis unavailable, dedup falls back to process memory", "error", err)
			cache = redis.NewLocalClient()
		} else {
			cache = redisClient
		}

		producer = kafka.NewProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = producer
	}
	defer cache.Close()

	now := time.Now
	codes := service.NewCodeGenerator(repos.orders, now)
	inbox := service.NewInbox(repos.payments, cache, cfg.WebhookSecret, cfg.Currency, cfg.DedupTTL, now)
	activator := service.NewActivator(repos.orders, repos.plans, codes, publisher, now)
	matcher := service.NewMatcher(repos.orders, repos.payments, activator, publisher, cfg.MatchWindow, now)
	pusher := service.NewPusher(gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, cfg.GatewayTimeout), repos.orders, cfg.GatewayAttempts)
	ledger := service.NewLedgerService(repos.wallets, repos.vouchers, cfg.Currency)
	orders := service.NewOrderService(repos.orders, repos.plans, repos.listings, repos.payments, pusher, activator, matcher, ledger, publisher, now)
	reconciler := service.NewReconciler(inbox, matcher, pusher, repos.orders, repos.payments, publisher, service.ReconcilerConfig{
		OrderTTL:    cfg.OrderTTL,
		RetryWindow: cfg.RetryWindow,
		MatchWindow: cfg.MatchWindow,
	}, now)

	if cfg.WebhookSecret == "" {
		slog.Warn("WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	if producer != nil {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, kafka.TopicNotifications, serviceName, reconciler).
			WithDeadLetter(producer, kafka.TopicNotificationsDLQ)
		go consumer.Consume(ctx)
		defer consumer.Close()
	}

	scheduler := worker.NewScheduler(worker.ReconciliationJobs(reconciler, worker.Intervals{
		Expiry:  cfg.ExpiryInterval,
		Retry:   cfg.RetryInterval,
		Rematch: cfg.RematchInterval,
	})...)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(handler.NewHandler(orders, ledger, reconciler), cfg.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}
