package observability

import (
	"context"

	"github.com/honeynil/PromoPaymentService/internal/config"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/observability"
)

// Setup initialises logs, metrics and traces and returns the tracer shutdown.
func Setup(serviceName string, cfg *config.Config) func(context.Context) error {
	observability.InitLogger(cfg.LogLevel)
	observability.InitMetrics(cfg.MetricsAddr)
	return observability.InitTracing(serviceName, cfg.OTLPEndpoint)
}
