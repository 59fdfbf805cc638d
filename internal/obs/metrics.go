package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	publishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_publish_attempts_total",
			Help: "Publish attempts by platform, trigger and outcome.",
		},
		[]string{"platform", "trigger", "outcome"},
	)

	oauthExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_oauth_exchanges_total",
			Help: "OAuth code exchanges by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "social_sweep_duration_seconds",
		Help:    "Wall time of scheduled publishing sweeps.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})

	sweepBatch = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "social_sweep_batch_size",
		Help:    "Number of due posts picked up per sweep.",
		Buckets: []float64{0, 1, 5, 10, 25, 50},
	})
)

// Init registers all metrics in the default registry. Safe to call repeatedly.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			publishAttempts, oauthExchanges, sweepDuration, sweepBatch,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePublish counts one publish attempt.
func ObservePublish(platform, trigger, outcome string) {
	publishAttempts.WithLabelValues(platform, trigger, outcome).Inc()
}

// ObserveOAuth counts one authorization code exchange.
func ObserveOAuth(platform, outcome string) {
	oauthExchanges.WithLabelValues(platform, outcome).Inc()
}

// ObserveSweep records the duration and batch size of a sweep.
func ObserveSweep(d time.Duration, batch int) {
	sweepDuration.Observe(d.Seconds())
	sweepBatch.Observe(float64(batch))
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses path parameters so metric cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	const accounts = "/v1/social/accounts/"
	if strings.HasPrefix(raw, accounts) {
		rest := strings.Trim(strings.TrimPrefix(raw, accounts), "/")
		if rest != "" && !strings.Contains(rest, "/") {
			return accounts + ":platform"
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
