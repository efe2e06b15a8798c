package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

const (
	attrHTTPMethod = "http.request.method"
	attrHTTPRoute  = "http.route"
	attrHTTPStatus = "http.response.status_code"
	attrSourceID   = "source.id"
	attrDialect    = "source.dialect"
	attrRunStatus  = "run.status"
)

type instruments struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	runsTotal           metric.Int64Counter
	runDuration         metric.Float64Histogram
	engineQueriesTotal  metric.Int64Counter
	engineQueryDuration metric.Float64Histogram
}

var (
	instrumentsOnce sync.Once
	inst            instruments
)

func buildMeterProvider(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	if !cfg.Enabled || !cfg.MetricsEnabled {
		return sdkmetric.NewMeterProvider(), nil
	}

	exporter, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter),
		),
	), nil
}

// Instruments bind to the global meter lazily, so recording works whether or
// not Setup has run yet.
func initInstruments() {
	instrumentsOnce.Do(func() {
		meter := otel.Meter("querymend/runtime")
		inst.httpRequestsTotal, _ = meter.Int64Counter("querymend.http.server.requests_total")
		inst.httpRequestDuration, _ = meter.Float64Histogram("querymend.http.server.request_duration_ms")
		inst.runsTotal, _ = meter.Int64Counter("querymend.pipeline.runs_total")
		inst.runDuration, _ = meter.Float64Histogram("querymend.pipeline.run_duration_ms")
		inst.engineQueriesTotal, _ = meter.Int64Counter("querymend.engine.queries_total")
		inst.engineQueryDuration, _ = meter.Float64Histogram("querymend.engine.query_duration_ms")
	})
}

// RecordHTTPRequest counts one served HTTP request.
func RecordHTTPRequest(ctx context.Context, method, route string, status int, durationMS float64) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String(attrHTTPMethod, method),
		attribute.String(attrHTTPRoute, route),
		attribute.Int(attrHTTPStatus, status),
	)
	inst.httpRequestsTotal.Add(ctx, 1, attrs)
	inst.httpRequestDuration.Record(ctx, durationMS, attrs)
}

// RecordRun counts one finished pipeline run.
func RecordRun(ctx context.Context, source, status string, durationMS float64) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String(attrSourceID, source),
		attribute.String(attrRunStatus, status),
	)
	inst.runsTotal.Add(ctx, 1, attrs)
	inst.runDuration.Record(ctx, durationMS, attrs)
}

// RecordEngineQuery counts one statement executed against a data source.
func RecordEngineQuery(ctx context.Context, source, dialect string, success bool, durationMS float64) {
	initInstruments()
	attrs := metric.WithAttributes(
		attribute.String(attrSourceID, source),
		attribute.String(attrDialect, dialect),
		attribute.Bool("success", success),
	)
	inst.engineQueriesTotal.Add(ctx, 1, attrs)
	inst.engineQueryDuration.Record(ctx, durationMS, attrs)
}
