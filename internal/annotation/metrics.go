// Package annotation Prometheus 指标导出
package annotation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// itemsAssignedTotal 发出的条目租约总数
	itemsAssignedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "anno",
			Name:      "items_assigned_total",
			Help:      "Total item leases handed out to annotators",
		},
	)

	// itemsSubmittedTotal 提交的标注总数
	itemsSubmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "anno",
			Name:      "items_submitted_total",
			Help:      "Total annotation submissions",
		},
	)

	// reviewDecisionsTotal 审核决定总数，按结论分
	reviewDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "anno",
			Name:      "review_decisions_total",
			Help:      "Total review decisions by verdict",
		},
		[]string{"decision"},
	)
)
