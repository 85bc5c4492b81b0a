package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TracingMiddlewareConfig customizes TracingMiddlewareWithConfig.
type TracingMiddlewareConfig struct {
	// ExcludedPaths are not traced — typically health/readiness probes.
	ExcludedPaths []string

	// SpanNameFormatter overrides the default "HTTP {method} {path}" name.
	SpanNameFormatter func(operation string, r *http.Request) string
}

// TracingMiddlewareWithConfig wraps an http.Handler with OpenTelemetry
// request tracing, extracting W3C traceparent headers from the incoming
// request and creating a span per request. Safe to use before
// Initialize — otelhttp falls back to a no-op tracer.
func TracingMiddlewareWithConfig(serviceName string, config *TracingMiddlewareConfig) func(http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return "HTTP " + r.Method + " " + r.URL.Path
		}),
	}
	if config != nil {
		if len(config.ExcludedPaths) > 0 {
			excluded := make(map[string]bool, len(config.ExcludedPaths))
			for _, p := range config.ExcludedPaths {
				excluded[p] = true
			}
			opts = append(opts, otelhttp.WithFilter(func(r *http.Request) bool {
				return !excluded[r.URL.Path]
			}))
		}
		if config.SpanNameFormatter != nil {
			opts[0] = otelhttp.WithSpanNameFormatter(config.SpanNameFormatter)
		}
	}

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, opts...)
	}
}
