package metrics

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Middleware collects HTTP request metrics of a chi router.
type Middleware struct {
	buckets  []float64
	registry prometheus.Registerer
}

// NewMiddleware creates a Middleware registering its collectors in registry.
func NewMiddleware(registry prometheus.Registerer) *Middleware {
	return &Middleware{
		// API calls only touch in memory state. Max of 10.24.
		buckets:  prometheus.ExponentialBuckets(0.005, 2, 12),
		registry: registry,
	}
}

// Monitor returns a chi middleware instrumenting every request handled by the router it is used on.
// Requests are labelled by their route pattern, so that path parameters do not create new series.
//
// It panics if the collectors of handlerName are already registered.
func (m *Middleware) Monitor(handlerName string) func(http.Handler) http.Handler {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)
	labels := []string{"method", "code", "path"}

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, labels,
	)
	requestDuration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Tracks the latencies for HTTP requests.",
			Buckets: m.buckets,
		},
		labels,
	)

	return func(next http.Handler) http.Handler {
		return promhttp.InstrumentHandlerCounter(
			requestsTotal,
			promhttp.InstrumentHandlerDuration(
				requestDuration,
				next,
				promhttp.WithLabelFromCtx("path", routePattern),
			),
			promhttp.WithLabelFromCtx("path", routePattern),
		)
	}
}

// routePattern returns the chi pattern matched by the request. The routing context is filled while
// the wrapped handler runs, so this is only meaningful once it returned.
func routePattern(ctx context.Context) string {
	rctx := chi.RouteContext(ctx)
	if rctx == nil {
		return "unknown"
	}
	if p := rctx.RoutePattern(); p != "" {
		return p
	}
	return "unknown"
}
