package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// Tracing wraps the handler chain in an otelhttp server span. Spans are
// inert until the OTLP providers are installed.
func Tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		next,
		"querymend.http",
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
	)
}
