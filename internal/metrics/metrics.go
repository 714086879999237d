package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 远端快照处理结果
const (
	RemoteApplied   = "applied"
	RemoteDiscarded = "discarded"
	RemoteInvalid   = "invalid"
)

// Metrics 服务指标（注册到注入的 Registry，避免全局状态）
// 所有方法对 nil 接收者安全
type Metrics struct {
	registry *prometheus.Registry

	mutationsTotal       *prometheus.CounterVec
	remoteSnapshotsTotal *prometheus.CounterVec
	publishFailuresTotal *prometheus.CounterVec
	localSaveFailures    prometheus.Counter
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	patientsGauge        *prometheus.GaugeVec
}

// New 创建指标并注册到 registry（nil 时新建）
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_mutations_total",
				Help: "Total number of tracker state changes",
			},
			[]string{"kind"},
		),
		remoteSnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_remote_snapshots_total",
				Help: "Remote snapshots received, by reconciliation result",
			},
			[]string{"result"},
		),
		publishFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_remote_publish_failures_total",
				Help: "Failed remote snapshot publishes",
			},
			[]string{"backend"},
		),
		localSaveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_local_save_failures_total",
				Help: "Failed local snapshot saves",
			},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		patientsGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tracker_patients",
				Help: "Number of patients per cohort",
			},
			[]string{"cohort"},
		),
	}
	registry.MustRegister(
		m.mutationsTotal,
		m.remoteSnapshotsTotal,
		m.publishFailuresTotal,
		m.localSaveFailures,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.patientsGauge,
	)
	return m
}

// Registry 底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordMutation(kind string) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRemoteSnapshot(result string) {
	if m == nil {
		return
	}
	m.remoteSnapshotsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPublishFailure(backend string) {
	if m == nil {
		return
	}
	m.publishFailuresTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) RecordLocalSaveFailure() {
	if m == nil {
		return
	}
	m.localSaveFailures.Inc()
}

func (m *Metrics) SetPatients(cohort string, n int) {
	if m == nil {
		return
	}
	m.patientsGauge.WithLabelValues(cohort).Set(float64(n))
}

// RecordHTTPRequest 记录请求次数与耗时
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
