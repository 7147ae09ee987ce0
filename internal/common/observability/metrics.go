// internal/common/observability/metrics.go
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Observability records lender call latency through an OpenTelemetry meter
// exported on the default Prometheus registry.
type Observability struct {
	meterProvider  *metric.MeterProvider
	meter          otelmetric.Meter
	lenderCalls    otelmetric.Int64Counter
	lenderDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	lenderCalls, _ := meter.Int64Counter(
		"lender.calls",
		otelmetric.WithDescription("Number of outbound lender calls"),
	)

	lenderDuration, _ := meter.Float64Histogram(
		"lender.call.duration",
		otelmetric.WithDescription("Outbound lender call duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:  provider,
		meter:          meter,
		lenderCalls:    lenderCalls,
		lenderDuration: lenderDuration,
	}
}

// Noop returns an Observability whose recorders do nothing.
func Noop() *Observability {
	return &Observability{}
}

func (o *Observability) RecordLenderCall(ctx context.Context, lenderType, operation, result string, duration time.Duration) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("lender_type", lenderType),
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	if o.lenderCalls != nil {
		o.lenderCalls.Add(ctx, 1, attrs)
	}
	if o.lenderDuration != nil {
		o.lenderDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) Shutdown() {
	if o != nil && o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.meterProvider.Shutdown(ctx)
	}
}
