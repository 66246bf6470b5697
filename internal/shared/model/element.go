// Package model 定义核心数据模型
//
// element.go 包含 DAG 节点相关的数据模型定义：
//   - PipeElement：一个 DAG 节点（脚本 / 标注任务 / 数据导出）
//   - ElementType / ElementState：节点变体与状态枚举
//   - Result / ResultLink：节点之间的数据交接点与有向边
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// ElementType - 节点变体
// ============================================================================

// ElementType 表示 DAG 节点的变体
//
// 变体是一个封闭小集合（本系统不是通用工作流引擎）：
//   - script：自动脚本步骤，提交到用户的工作集群执行
//   - anno_task：人工标注步骤，向 AssignmentLedger 投放条目后保持 open
//   - data_export：数据导出步骤，后台导出已接受的标注
type ElementType string

const (
	// ElementTypeScript 脚本步骤
	ElementTypeScript ElementType = "script"

	// ElementTypeAnnoTask 人工标注步骤
	ElementTypeAnnoTask ElementType = "anno_task"

	// ElementTypeDataExport 数据导出步骤
	ElementTypeDataExport ElementType = "data_export"
)

// ============================================================================
// ElementState - 节点状态
// ============================================================================

// ElementState 表示单个 DAG 节点的执行状态
//
// 状态流转：
//
//	pending → running → finished
//	              ↓
//	            error →（人工 re-run）→ pending
//
// error 对单次尝试是终止态；调度器不自动重试，
// 只有显式的 re-run 操作才能把节点重置回 pending。
type ElementState string

const (
	// ElementStatePending 等待中：上游结果尚未全部就绪，或已就绪等待启动
	ElementStatePending ElementState = "pending"

	// ElementStateRunning 运行中：脚本/导出作业在跑，或标注任务开放中
	ElementStateRunning ElementState = "running"

	// ElementStateFinished 已完成：出边结果已标记就绪
	ElementStateFinished ElementState = "finished"

	// ElementStateError 已出错：失败原因记录在 ErrorMsg，等待人工处理
	ElementStateError ElementState = "error"
)

// ============================================================================
// PipeElement - DAG 节点
// ============================================================================

// ScriptSpec 脚本步骤的描述
//
// Path 是集群内可执行脚本的路径，Args 以 --key value 形式传入。
type ScriptSpec struct {
	Path string            `json:"path"`
	Args map[string]string `json:"args,omitempty"`
	Envs []string          `json:"envs,omitempty"`
}

// ExportSpec 数据导出步骤的描述
//
// Key 是导出对象在对象存储中的键；为空时默认 exports/<element_id>.jsonl。
type ExportSpec struct {
	Key string `json:"key,omitempty"`
}

// PipeElement 表示一个 DAG 节点
//
// 变体专属的负载通过 Spec（JSON）携带：
//   - script 变体：ScriptSpec
//   - data_export 变体：ExportSpec
//   - anno_task 变体：负载是独立的 AnnoTask 行（以 ElementID 关联）
//
// 字段说明：
//   - JobRef：脚本/导出作业句柄（提交后填充，Poll 时查询）
//   - ErrorMsg：失败原因（error 状态时填充，展示给操作员）
type PipeElement struct {
	ID        string          `json:"id" db:"id"`                         // 节点唯一标识
	PipeID    string          `json:"pipe_id" db:"pipe_id"`               // 所属流水线 ID
	Type      ElementType     `json:"type" db:"type"`                     // 节点变体
	State     ElementState    `json:"state" db:"state"`                   // 执行状态
	Spec      json.RawMessage `json:"spec,omitempty" db:"spec"`           // 变体专属负载
	JobRef    *string         `json:"job_ref,omitempty" db:"job_ref"`     // 作业句柄
	ErrorMsg  *string         `json:"error_msg,omitempty" db:"error_msg"` // 失败原因
	CreatedAt time.Time       `json:"created_at" db:"created_at"`         // 创建时间
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`         // 更新时间
}

// IsTerminal 判断节点是否不再需要调度（error 仍可被人工 re-run）
func (e *PipeElement) IsTerminal() bool {
	return e.State == ElementStateFinished
}

// ScriptSpec 解析脚本负载
func (e *PipeElement) ScriptSpec() (*ScriptSpec, error) {
	var spec ScriptSpec
	if err := json.Unmarshal(e.Spec, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ExportSpec 解析导出负载
func (e *PipeElement) ExportSpec() (*ExportSpec, error) {
	var spec ExportSpec
	if len(e.Spec) == 0 {
		return &spec, nil
	}
	if err := json.Unmarshal(e.Spec, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ============================================================================
// Result / ResultLink - 数据交接点与有向边
// ============================================================================

// Result 表示一个节点产出的数据交接点
//
// Satisfied 翻转为 true 后不会再回退（MarkSatisfied 幂等），
// 唯一的例外是节点被显式 re-run，此时产出结果随之重置。
type Result struct {
	ID        string    `json:"id" db:"id"`                 // 结果唯一标识
	PipeID    string    `json:"pipe_id" db:"pipe_id"`       // 所属流水线 ID
	Satisfied bool      `json:"satisfied" db:"satisfied"`   // 是否就绪
	CreatedAt time.Time `json:"created_at" db:"created_at"` // 创建时间
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"` // 更新时间
}

// ResultLink 表示 DAG 中的一条有向边
//
// 把 Result 与产出节点（PeN）和可选的消费节点（PeOut）关联起来。
// PeOut 为 nil 表示该结果是分支的终端（sink），没有下游消费者。
//
// 不变式：一个节点 ready，当且仅当所有以它为 PeOut 的边
// 对应的 Result 都已 Satisfied（没有入边即默认 ready，源节点）。
type ResultLink struct {
	ID       string  `json:"id" db:"id"`                   // 边唯一标识
	PipeID   string  `json:"pipe_id" db:"pipe_id"`         // 所属流水线 ID
	ResultID string  `json:"result_id" db:"result_id"`     // 携带的结果 ID
	PeN      string  `json:"pe_n" db:"pe_n"`               // 产出节点 ID
	PeOut    *string `json:"pe_out,omitempty" db:"pe_out"` // 消费节点 ID（nil = 终端）
}

// IsSink 判断该边是否为分支终端
func (l *ResultLink) IsSink() bool {
	return l.PeOut == nil
}
