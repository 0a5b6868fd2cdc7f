package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartCall opens a span for a repository method. The returned func ends the
// span and records call count and duration; pass it the method's final error.
func StartCall(ctx context.Context, tracerName, method string) (context.Context, trace.Span, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	start := time.Now()
	return ctx, span, func(err error) {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		RepositoryCalls.WithLabelValues(method, status).Inc()
		RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		span.End()
	}
}
