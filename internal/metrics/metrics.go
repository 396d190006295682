package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 是各组件上报指标的最小接口；组件只依赖它，不直接依赖 prometheus。
type Metrics interface {
	// IncBackendAttempt 记录一次解析后端尝试；outcome 取 ok/fetch/parse/validate。
	IncBackendAttempt(backend, outcome string)
	// IncFetch 记录一次媒体下载的结果（ok 或错误分类）。
	IncFetch(outcome string)
	AddFetchedBytes(n int64)
	IncRateLimited(route string)
	IncPurged(n int)
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop 丢弃所有指标。
type Noop struct{}

func (Noop) IncBackendAttempt(string, string)               {}
func (Noop) IncFetch(string)                                {}
func (Noop) AddFetchedBytes(int64)                          {}
func (Noop) IncRateLimited(string)                          {}
func (Noop) IncPurged(int)                                  {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// OrNoop 让调用方可以把 nil 当作“不上报”。
func OrNoop(m Metrics) Metrics {
	if m == nil {
		return Noop{}
	}
	return m
}

// Prom 以 Prometheus counter/histogram 实现 Metrics。
type Prom struct {
	backendAttempts *prometheus.CounterVec
	fetches         *prometheus.CounterVec
	fetchedBytes    prometheus.Counter
	rateLimited     *prometheus.CounterVec
	purged          prometheus.Counter
	requests        *prometheus.CounterVec
	latency         *prometheus.HistogramVec
}

// NewProm 创建并注册全部指标。reg 为 nil 时使用 prometheus.DefaultRegisterer。
// 同一个 Registerer 上重复注册会返回错误（而不是 panic）。
func NewProm(namespace string, reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		backendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Resolution backend attempts by backend and outcome",
		}, []string{"backend", "outcome"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_fetches_total",
			Help:      "Media fetches by outcome",
		}, []string{"outcome"}),
		fetchedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_fetched_bytes_total",
			Help:      "Bytes committed to the content store",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter by route",
		}, []string{"route"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_purged_total",
			Help:      "Stored artifacts removed by the retention sweep",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	for _, c := range []prometheus.Collector{p.backendAttempts, p.fetches, p.fetchedBytes, p.rateLimited, p.purged, p.requests, p.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prom) IncBackendAttempt(backend, outcome string) {
	p.backendAttempts.WithLabelValues(backend, outcome).Inc()
}

func (p *Prom) IncFetch(outcome string) {
	p.fetches.WithLabelValues(outcome).Inc()
}

func (p *Prom) AddFetchedBytes(n int64) {
	if n > 0 {
		p.fetchedBytes.Add(float64(n))
	}
}

func (p *Prom) IncRateLimited(route string) {
	p.rateLimited.WithLabelValues(route).Inc()
}

func (p *Prom) IncPurged(n int) {
	if n > 0 {
		p.purged.Add(float64(n))
	}
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler 返回 /metrics 的 HTTP handler。g 为 nil 时使用 prometheus.DefaultGatherer。
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
