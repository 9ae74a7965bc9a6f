package observability

import (
	"context"
	"errors"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the metrics of one invocation. A CLI run is short-lived, so
// instead of serving /metrics the registry is written once to a Prometheus
// textfile when the command exits:
// - Latency: step and API request durations
// - Traffic: step runs, API requests, uploads
// - Errors: failed steps, failed requests, rejected uploads
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// Step runner metrics
	StepDuration    metric.Float64Histogram
	StepsTotal      metric.Int64Counter
	StepErrorsTotal metric.Int64Counter

	// API client metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestsTotal   metric.Int64Counter
	APIErrorsTotal     metric.Int64Counter

	// Contest upload metrics
	UploadsTotal      metric.Int64Counter
	UploadErrorsTotal metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter
// backed by a private registry.
func NewMetrics(ctx context.Context) (*Metrics, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("domctl")
	m := &Metrics{meter: meter, provider: provider, registry: registry}

	// Step runner metrics
	m.StepDuration, err = meter.Float64Histogram(
		"domctl_step_duration_seconds",
		metric.WithDescription("Operation step duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	m.StepsTotal, err = meter.Int64Counter(
		"domctl_steps_total",
		metric.WithDescription("Total number of operation steps run"),
	)
	if err != nil {
		return nil, err
	}

	m.StepErrorsTotal, err = meter.Int64Counter(
		"domctl_step_errors_total",
		metric.WithDescription("Total number of failed operation steps"),
	)
	if err != nil {
		return nil, err
	}

	// API client metrics
	m.APIRequestDuration, err = meter.Float64Histogram(
		"domctl_api_request_duration_seconds",
		metric.WithDescription("DOMjudge API request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, err
	}

	m.APIRequestsTotal, err = meter.Int64Counter(
		"domctl_api_requests_total",
		metric.WithDescription("Total number of DOMjudge API requests"),
	)
	if err != nil {
		return nil, err
	}

	m.APIErrorsTotal, err = meter.Int64Counter(
		"domctl_api_errors_total",
		metric.WithDescription("Total number of DOMjudge API errors (transport, 4xx and 5xx)"),
	)
	if err != nil {
		return nil, err
	}

	// Contest upload metrics
	m.UploadsTotal, err = meter.Int64Counter(
		"domctl_uploads_total",
		metric.WithDescription("Total number of problem and team uploads"),
	)
	if err != nil {
		return nil, err
	}

	m.UploadErrorsTotal, err = meter.Int64Counter(
		"domctl_upload_errors_total",
		metric.WithDescription("Total number of failed problem and team uploads"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStep records one step run of an operation.
func (m *Metrics) RecordStep(ctx context.Context, operation, step string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(operationAttr(operation), stepAttr(step), successAttr(success))

	m.StepDuration.Record(ctx, durationSeconds, attrs)
	m.StepsTotal.Add(ctx, 1, attrs)

	if !success {
		m.StepErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRequest records one DOMjudge API request. A zero status means the
// request failed before a response arrived.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		routeAttr(route),
		statusAttr(statusCode),
	)

	m.APIRequestDuration.Record(ctx, durationSeconds, attrs)
	m.APIRequestsTotal.Add(ctx, 1, attrs)

	if statusCode == 0 || statusCode >= 400 {
		m.APIErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordUpload records a problem or team upload.
func (m *Metrics) RecordUpload(ctx context.Context, kind string, success bool) {
	attrs := metric.WithAttributes(kindAttr(kind), successAttr(success))
	m.UploadsTotal.Add(ctx, 1, attrs)

	if !success {
		m.UploadErrorsTotal.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
	}
}

// WriteTextfile writes the current metric values in the Prometheus text
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return promclient.WriteToTextfile(path, m.registry)
}

// Close writes the textfile when path is non-empty, then shuts the meter
// provider down.
func (m *Metrics) Close(ctx context.Context, path string) error {
	var errs []error
	if path != "" {
		errs = append(errs, m.WriteTextfile(path))
	}
	errs = append(errs, m.provider.Shutdown(ctx))
	return errors.Join(errs...)
}
