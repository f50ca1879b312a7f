// Package metrics holds the Prometheus collectors exposed on the admin
// listener. Every recording method is nil-safe so callers can run without
// metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "offline_hub"

// Precache 结果标签。
const (
	ResultStored = "stored"
	ResultFailed = "failed"
)

// Metrics 聚合缓存生命周期与请求路由相关的指标。
type Metrics struct {
	precacheTotal    *prometheus.CounterVec
	installDuration  prometheus.Histogram
	reapedTotal      *prometheus.CounterVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	fontPersistTotal *prometheus.CounterVec
	connectedClients prometheus.Gauge
	broadcastsTotal  prometheus.Counter
}

// New 在 reg 上注册全部指标；reg 为 nil 时使用 prometheus.DefaultRegisterer。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		precacheTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precache_total",
			Help:      "Manifest resources processed during install, by result",
		}, []string{"result"}),

		installDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Wall time of a full precache install",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),

		reapedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaped_groups_total",
			Help:      "Obsolete cache groups handled during activation, by result",
		}, []string{"result"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Routed requests by strategy and response source",
		}, []string{"strategy", "source"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Routing latency by strategy",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),

		fontPersistTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "font_persist_total",
			Help:      "Background font cache writes, by result",
		}, []string{"result"}),

		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Clients currently attached to the message channel",
		}),

		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to all connected clients",
		}),
	}
}

// ObservePrecache 记录单个资源的预缓存结果。
func (m *Metrics) ObservePrecache(stored bool) {
	if m == nil {
		return
	}
	m.precacheTotal.WithLabelValues(result(stored)).Inc()
}

func (m *Metrics) ObserveInstall(d time.Duration) {
	if m == nil {
		return
	}
	m.installDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveReap(deleted bool) {
	if m == nil {
		return
	}
	label := "deleted"
	if !deleted {
		label = ResultFailed
	}
	m.reapedTotal.WithLabelValues(label).Inc()
}

// ObserveRequest 记录一次路由结果与耗时。
func (m *Metrics) ObserveRequest(strategy, source string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(strategy, source).Inc()
	m.requestDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

func (m *Metrics) ObserveFontPersist(stored bool) {
	if m == nil {
		return
	}
	m.fontPersistTotal.WithLabelValues(result(stored)).Inc()
}

// SetConnectedClients 更新在线客户端数量。
func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.connectedClients.Set(float64(n))
}

func (m *Metrics) IncBroadcast() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func result(ok bool) string {
	if ok {
		return ResultStored
	}
	return ResultFailed
}
