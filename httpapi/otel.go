package httpapi

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// tracingMiddleware wraps every request in an otel span named after its
// route pattern. The otel stack already arrives transitively through
// github.com/docker/docker's own instrumentation; the facade is the one
// place in the daemon with a natural per-request boundary to exercise it.
func tracingMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "httpapi")
}
