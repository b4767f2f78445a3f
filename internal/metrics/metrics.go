package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: how many times we served a settled generation from the
	// result cache.
	ResultCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "result_cache_hits_total",
			Help: "Total number of generation result cache hits.",
		},
	)

	// Counter: classifier verdicts by outcome (safe, unsafe, error).
	SafetyVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "safety_verdicts_total",
			Help: "Content safety verdicts by outcome.",
		},
		[]string{"outcome"},
	)

	// Counter: requests refused by the admission policy.
	AdmissionBlockedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_blocked_total",
			Help: "Requests blocked by the violation-ratio policy.",
		},
	)

	// Counter: prompts rewritten because of a denylisted referrer.
	PromptsTransformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prompts_transformed_total",
			Help: "Prompts rewritten due to a denylisted referrer.",
		},
	)

	// Counter: placeholder resolution cache activity.
	PlaceholderUploadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "placeholder_uploads_total",
			Help: "Placeholder images synthesized and uploaded.",
		},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		ResultCacheHitsTotal,
		SafetyVerdictsTotal,
		AdmissionBlockedTotal,
		PromptsTransformedTotal,
		PlaceholderUploadsTotal,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		GatewayLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
