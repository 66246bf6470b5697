// Package executor 节点变体的执行器
//
// 每个变体一个执行器，统一两段式接口：Start 启动作业并立即返回，
// Poll 在每个调度 tick 查询进度。状态流转（pending/running/finished/
// error 的落库）由引擎负责，执行器只报告事实。
package executor

import (
	"context"

	"anno-admin/internal/shared/model"
)

// Status 作业进度
//
// Done 与 FailureMsg 互斥：失败的作业 Done 为 false 且
// FailureMsg 非空，引擎据此把节点转入 error。
type Status struct {
	Done       bool   // 作业已成功完成
	FailureMsg string // 作业失败原因（空 = 未失败）
}

// Executor 节点执行器接口
//
// Poll 返回的 error 表示基础设施故障（下个 tick 重试），
// 作业本身的失败通过 Status.FailureMsg 报告。
type Executor interface {
	// Type 返回执行器服务的节点变体
	Type() model.ElementType

	// Start 启动节点的作业
	// 对脚本/导出是提交后台作业；对标注任务是物化条目池
	Start(ctx context.Context, pe *model.PipeElement) error

	// Poll 查询作业进度
	Poll(ctx context.Context, pe *model.PipeElement) (*Status, error)
}

// Registry 按变体注册的执行器表
type Registry struct {
	executors map[model.ElementType]Executor
}

// NewRegistry 创建执行器注册表
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[model.ElementType]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Type()] = e
	}
	return r
}

// Get 获取变体对应的执行器
func (r *Registry) Get(t model.ElementType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}
