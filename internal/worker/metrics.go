// Package worker Prometheus 指标导出
package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsProvisionedTotal 供给成功的会话总数
	sessionsProvisionedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "anno",
			Name:      "worker_sessions_provisioned_total",
			Help:      "Total worker sessions provisioned",
		},
	)

	// sessionsReclaimedTotal 回收的会话总数（登出 + 清扫）
	sessionsReclaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "anno",
			Name:      "worker_sessions_reclaimed_total",
			Help:      "Total worker sessions reclaimed on logout or sweep",
		},
	)

	// sessionsLive 当前存活的会话数
	sessionsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "anno",
			Name:      "worker_sessions_live",
			Help:      "Worker sessions currently live",
		},
	)
)
