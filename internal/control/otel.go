// SPDX-License-Identifier: MIT

package control

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// otelMiddleware wraps the control surface with OpenTelemetry HTTP
// instrumentation: one span per request, named by method and path.
// The SSE event feed is excluded; a span spanning an open-ended
// stream never ends and only skews duration histograms.
func otelMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(
		next,
		"control",
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/api/events"
		}),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
