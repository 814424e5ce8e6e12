package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors of one Server. Each server owns a
// registry so several servers (tests, embedded use) never collide.
type metrics struct {
	// inferenceTotal counts engine and graph calls by mode and outcome
	inferenceTotal *prometheus.CounterVec

	// inferenceDuration tracks engine and graph latency
	inferenceDuration *prometheus.HistogramVec

	// httpRequests counts requests by route pattern and status
	httpRequests *prometheus.CounterVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		inferenceTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rulechain_inference_total",
			Help: "Total inference and graph calls by mode and outcome",
		}, []string{"mode", "outcome"}),

		inferenceDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rulechain_inference_duration_seconds",
			Help:    "Inference and graph call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		}, []string{"mode"}),

		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rulechain_http_requests_total",
			Help: "Total HTTP requests by route and status",
		}, []string{"path", "status"}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "rulechain_cache_hits_total",
			Help: "Responses served from the result cache",
		}),

		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "rulechain_cache_misses_total",
			Help: "Cacheable requests that had to be computed",
		}),
	}
}

func (m *metrics) observeInference(mode, outcome string, d time.Duration) {
	m.inferenceTotal.WithLabelValues(mode, outcome).Inc()
	m.inferenceDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *metrics) observeRequest(path string, status int) {
	m.httpRequests.WithLabelValues(path, strconv.Itoa(status)).Inc()
}
