package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	QueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_queue_length",
			Help: "Ready-queue depth per engine track",
		},
		[]string{"track"},
	)
	Inflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_inflight",
			Help: "Items currently submitted and not yet terminal, per engine track",
		},
		[]string{"track"},
	)
	ItemsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_items_submitted_total",
			Help: "Total item submissions to platforms",
		},
		[]string{"track", "platform"},
	)
	ItemsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_items_completed_total",
			Help: "Total items completed",
		},
		[]string{"track"},
	)
	ItemsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_items_failed_total",
			Help: "Total items failed permanently",
		},
		[]string{"track"},
	)
	ItemsRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_items_retried_total",
			Help: "Total item retries scheduled",
		},
		[]string{"track"},
	)

	PlatformRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "platform_request_duration_seconds",
			Help:    "Platform call duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"platform", "operation"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(QueueLength)
	prometheus.MustRegister(Inflight)
	prometheus.MustRegister(ItemsSubmittedTotal)
	prometheus.MustRegister(ItemsCompletedTotal)
	prometheus.MustRegister(ItemsFailedTotal)
	prometheus.MustRegister(ItemsRetriedTotal)
	prometheus.MustRegister(PlatformRequestDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObservePlatformCall records the duration of one provider round trip.
func ObservePlatformCall(platform, operation string, d time.Duration) {
	PlatformRequestDuration.WithLabelValues(platform, operation).Observe(d.Seconds())
}
