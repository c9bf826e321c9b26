package tracer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/FACorreiaa/person-registry/app/observability/metrics"
)

// Telemetry holds the installed providers.
type Telemetry struct {
	// MetricsHandler serves the Prometheus exposition of the otel meters.
	MetricsHandler http.Handler
	shutdown       []func(context.Context) error
}

// Shutdown flushes pending spans and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// InitTracingAndMetrics installs the global tracer and meter providers.
// Spans are exported over OTLP/HTTP only when otlpEndpoint is set; metrics
// are always collected into a dedicated Prometheus registry.
func InitTracingAndMetrics(ctx context.Context, serviceName, otlpEndpoint string) (*Telemetry, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	t := &Telemetry{}

	tpOpts := []trace.TracerProviderOption{trace.WithResource(res)}
	if otlpEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(otlpEndpoint))
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		tpOpts = append(tpOpts, trace.WithBatcher(exporter), trace.WithSampler(trace.AlwaysSample()))
	}
	tp := trace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.shutdown = append(t.shutdown, tp.Shutdown)

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(mp)
	t.shutdown = append(t.shutdown, mp.Shutdown)
	t.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	// Instruments bind to the provider that is global when first created.
	metrics.InitAppMetrics()
	return t, nil
}
