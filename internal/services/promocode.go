package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/PromoPaymentService/internal/repository"
)

// CodeGenerator issues promotion codes of the form YYYYMMDD-SEQ-RND.
type CodeGenerator struct {
	orders repository.OrderRepository
	now    func() time.Time
	random func() string
}

func NewCodeGenerator(orders repository.OrderRepository, now func() time.Time) *CodeGenerator {
	return &CodeGenerator{orders: orders, now: now, random: randomSuffix}
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
}

// Generate checks the candidate against existing codes and regenerates once on
// collision. The second candidate is accepted without another check.
func (g *CodeGenerator) Generate(ctx context.Context) (string, error) {
	prefix := g.now().UTC().Format("20060102") + "-"
	n, err := g.orders.CountCodesWithPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to count promotion codes: %w", err)
	}

	code := fmt.Sprintf("%s%04d-%s", prefix, n+1, g.random())
	exists, err := g.orders.CodeExists(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to check promotion code: %w", err)
	}
	if exists {
		slog.Warn("promotion code collision, regenerating", "code", code)
		code = fmt.Sprintf("%s%04d-%s", prefix, n+2, g.random())
	}
	return code, nil
}

// voucherCode returns a recharge code such as RC-9F2A61C0.
func voucherCode() string {
	return "RC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
