// Package model 定义核心数据模型
//
// pipe.go 包含流水线相关的数据模型定义：
//   - Pipe：一次流水线实例（处理步骤组成的 DAG）
//   - PipeState：流水线生命周期状态枚举
package model

import "time"

// ============================================================================
// PipeState - 流水线状态
// ============================================================================

// PipeState 表示流水线实例的生命周期状态
//
// 典型生命周期：
//
//	created → running → finished
//	              ⇅
//	           paused
//
// 状态说明：
//   - created：已创建，DAG 已落库但调度器尚未驱动
//   - running：运行中，调度器每个 tick 都会推进该流水线
//   - paused：已暂停，调度器跳过（人工恢复后继续）
//   - finished：已完成，所有元素都到达 finished
//   - deleted：已删除（软删除，调度器永不再访问）
type PipeState string

const (
	// PipeStateCreated 已创建：等待启动
	PipeStateCreated PipeState = "created"

	// PipeStateRunning 运行中：调度器正在推进
	PipeStateRunning PipeState = "running"

	// PipeStatePaused 已暂停：调度器跳过
	PipeStatePaused PipeState = "paused"

	// PipeStateFinished 已完成：所有元素执行完毕
	PipeStateFinished PipeState = "finished"

	// PipeStateDeleted 已删除：软删除标记
	PipeStateDeleted PipeState = "deleted"
)

// ============================================================================
// Pipe - 流水线实例
// ============================================================================

// Pipe 表示一次流水线实例
//
// Pipe 独占其 PipeElement 及它们之间的 ResultLink（级联删除）。
// DAG 在创建时一次性构建并校验无环，运行期不再做环检测。
//
// 字段说明：
//   - ID：唯一标识符，格式如 "pipe-a1b2c3d4"
//   - OwnerID：创建者（Designer）的用户 ID，脚本元素使用其工作集群执行
//   - State：生命周期状态
//   - StartedAt / FinishedAt：调度器首次驱动 / 全部完成的时间
type Pipe struct {
	ID         string     `json:"id" db:"id"`                             // 流水线唯一标识
	Name       string     `json:"name" db:"name"`                         // 名称
	OwnerID    string     `json:"owner_id" db:"owner_id"`                 // 创建者用户 ID
	State      PipeState  `json:"state" db:"state"`                       // 生命周期状态
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`   // 开始时间
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"` // 完成时间
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`             // 创建时间
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`             // 更新时间
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsActive 判断流水线是否需要调度器驱动
func (p *Pipe) IsActive() bool {
	return p.State == PipeStateRunning
}

// IsTerminal 判断流水线是否处于终止状态
func (p *Pipe) IsTerminal() bool {
	return p.State == PipeStateFinished || p.State == PipeStateDeleted
}
