// Package metrics exposes Prometheus collectors for the icon refresh workers.
// Collectors are registered on an injected registry so tests and the HTTP
// surface can share one instance without touching the global default.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh 汇总刷新结果、耗时、下载字节数与队列积压。
type Refresh struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    prometheus.Counter
	pending  *prometheus.GaugeVec
}

// NewRefresh 在 reg 上注册刷新相关指标；reg 为 nil 时返回 nil，调用方按零开销处理。
func NewRefresh(reg prometheus.Registerer) *Refresh {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)

	return &Refresh{
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iconcache_refresh_total",
				Help: "Icon refresh attempts by outcome",
			},
			[]string{"outcome"}, // skipped, not_modified, updated, failed
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iconcache_refresh_duration_seconds",
				Help:    "Duration of icon refreshes by outcome",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
			},
			[]string{"outcome"},
		),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "iconcache_downloaded_bytes_total",
			Help: "Bytes written into the icon cache",
		}),
		pending: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iconcache_queue_pending",
				Help: "Queued refresh requests by priority",
			},
			[]string{"priority"}, // vital, idle
		),
	}
}

// ObserveRefresh 记录一次刷新的结果与耗时。
func (m *Refresh) ObserveRefresh(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// AddBytes 累加写入缓存的字节数。
func (m *Refresh) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.Add(float64(n))
}

// SetPending 更新两个队列的积压数量。
func (m *Refresh) SetPending(vital, idle int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues("vital").Set(float64(vital))
	m.pending.WithLabelValues("idle").Set(float64(idle))
}
