package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	UpstreamRequestsTotal   metric.Int64Counter
	UpstreamDurationSeconds metric.Float64Histogram
	UpstreamErrorsTotal     metric.Int64Counter
	SessionEventsTotal      metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metrics instruments ONLY ONCE.
// It gets the Meter from the globally configured MeterProvider, so it must run
// after the provider is installed to export anything.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("PersonRegistry")
		var err error
		m := &AppMetrics{}

		m.UpstreamRequestsTotal, err = meter.Int64Counter(
			"upstream_requests_total",
			metric.WithDescription("Total number of requests sent to the hosted backend"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create upstream_requests_total: %v", err)
		}

		m.UpstreamDurationSeconds, err = meter.Float64Histogram(
			"upstream_request_duration_seconds",
			metric.WithDescription("Duration of hosted backend requests in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create upstream_request_duration_seconds: %v", err)
		}

		m.UpstreamErrorsTotal, err = meter.Int64Counter(
			"upstream_errors_total",
			metric.WithDescription("Total number of failed hosted backend requests"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create upstream_errors_total: %v", err)
		}

		m.SessionEventsTotal, err = meter.Int64Counter(
			"session_events_total",
			metric.WithDescription("Session lifecycle events (login, logout, invalidated)"),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create session_events_total: %v", err)
		}

		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance, initializing it
// against the current provider on first use.
func Get() *AppMetrics {
	InitAppMetrics()
	return appMetrics
}
