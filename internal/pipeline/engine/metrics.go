// Package engine Prometheus 指标导出
package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 包含所有调度引擎指标
//
// 指针为 nil 时所有记录方法都是空操作，测试里可以直接传 nil
// 避免重复注册到默认 registry。
type Metrics struct {
	// 调度循环指标
	TicksTotal   prometheus.Counter
	TickErrors   prometheus.Counter
	TickDuration prometheus.Histogram

	// 流水线指标
	PipesRunning prometheus.Gauge

	// 节点指标
	ElementsTotal   *prometheus.CounterVec
	ElementDuration *prometheus.HistogramVec
}

// NewMetrics 创建调度引擎指标实例
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TicksTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_ticks_total",
				Help:      "Total scheduler ticks",
			},
		),
		TickErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_tick_errors_total",
				Help:      "Total scheduler tick errors",
			},
		),
		TickDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_tick_duration_seconds",
				Help:      "Scheduler tick duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		PipesRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pipes_running",
				Help:      "Number of currently running pipelines",
			},
		),
		ElementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "elements_total",
				Help:      "Total element transitions by type and status",
			},
			[]string{"type", "status"},
		),
		ElementDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "element_duration_seconds",
				Help:      "Element wall time from creation to completion in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 300, 1800, 3600, 86400},
			},
			[]string{"type"},
		),
	}
}

// RecordTick 记录一次调度循环
func (m *Metrics) RecordTick(duration time.Duration, pipesRunning int, failed bool) {
	if m == nil {
		return
	}
	m.TicksTotal.Inc()
	m.TickDuration.Observe(duration.Seconds())
	m.PipesRunning.Set(float64(pipesRunning))
	if failed {
		m.TickErrors.Inc()
	}
}

// RecordElement 记录节点状态流转
func (m *Metrics) RecordElement(elementType, status string) {
	if m == nil {
		return
	}
	m.ElementsTotal.WithLabelValues(elementType, status).Inc()
}

// RecordElementDuration 记录节点完成耗时
func (m *Metrics) RecordElementDuration(elementType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ElementDuration.WithLabelValues(elementType).Observe(duration.Seconds())
}

// MetricsHandler 返回 Prometheus HTTP Handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
