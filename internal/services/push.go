package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/gateway"
	"github.com/honeynil/PromoPaymentService/internal/models"
	"github.com/honeynil/PromoPaymentService/internal/repository"
	pkgerrors "github.com/honeynil/PromoPaymentService/pkg/errors"
)

type PushGateway interface {
	Push(ctx context.Context, req gateway.Request) (string, error)
}

// Pusher prompts the payer for an order and stores the provider transaction
// id it gets back.
type Pusher struct {
	gateway    PushGateway
	orders     repository.OrderRepository
	attempts   int
	newBackOff func() backoff.BackOff
}

func NewPusher(gw PushGateway, orders repository.OrderRepository, attempts int) *Pusher {
	if attempts < 1 {
		attempts = 1
	}
	return &Pusher{
		gateway:  gw,
		orders:   orders,
		attempts: attempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

func pushReference(orderID int64) string {
	return fmt.Sprintf("Promo %d", orderID)
}

// Push makes up to attempts calls to the gateway. The returned error always
// wraps ErrGatewayFailure when the gateway is at fault.
func (p *Pusher) Push(ctx context.Context, o *models.PromotionOrder, reference, description string) (string, error) {
	req := gateway.Request{
		Phone:       NormalizePhone(o.ExpectedPhone),
		Amount:      o.ExpectedAmount,
		Reference:   reference,
		Description: description,
	}

	var txID string
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(p.attempts-1)), ctx)
	err := backoff.Retry(func() error {
		id, err := p.gateway.Push(ctx, req)
		if err != nil {
			slog.Warn("push attempt failed", "order_id", o.ID, "reference", reference, "error", err)
			return err
		}
		txID = id
		return nil
	}, policy)
	if err != nil {
		if !stderrors.Is(err, pkgerrors.ErrGatewayFailure) {
			err = fmt.Errorf("%w: %v", pkgerrors.ErrGatewayFailure, err)
		}
		return "", err
	}

	updated, err := p.orders.SetProviderTxID(ctx, o.ID, txID)
	if err != nil {
		return "", fmt.Errorf("failed to store provider tx id: %w", err)
	}
	if !updated {
		slog.Warn("provider tx id not stored, order moved on or already has one", "order_id", o.ID, "provider_tx_id", txID)
		return txID, nil
	}
	o.ProviderTxID = &txID
	return txID, nil
}
