// Package metrics 业务与 HTTP 指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "genpix"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	imagesGenerated  prometheus.Counter
	upstreamFailures *prometheus.CounterVec
	creditsGranted   *prometheus.CounterVec
}

// New 每个实例使用独立的 Registry，测试里可并行创建
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms ~ 40s，覆盖生图耗时
		}, []string{"method", "path"}),
		imagesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "image",
			Name:      "generated_total",
			Help:      "Images generated and charged.",
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "image",
			Name:      "upstream_failures_total",
			Help:      "Image generator failures by kind.",
		}, []string{"kind"}),
		creditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "credits_granted_total",
			Help:      "Credits granted by verified payments.",
		}, []string{"plan"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.imagesGenerated,
		m.upstreamFailures,
		m.creditsGranted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func (m *Metrics) ImageGenerated() {
	m.imagesGenerated.Inc()
}

func (m *Metrics) UpstreamFailure(kind string) {
	m.upstreamFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) CreditsGranted(plan string, credits int64) {
	m.creditsGranted.WithLabelValues(plan).Add(float64(credits))
}
