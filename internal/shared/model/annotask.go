// Package model 定义核心数据模型
//
// annotask.go 包含人工标注相关的数据模型定义：
//   - AnnoTask：一个人工标注阶段（多名标注员共享一个条目池）
//   - Item：一个标注工作单元（通常是一张图片）
//   - ItemState：条目的标注生命周期枚举
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// AnnoTaskState - 标注任务状态
// ============================================================================

// AnnoTaskState 表示标注任务的状态
//
//	pending → in_progress → finished
//
// pending 在元素启动（条目物化）时转入 in_progress；
// 所有条目到达终止接受态后转入 finished。
type AnnoTaskState string

const (
	// AnnoTaskStatePending 等待中：条目尚未物化
	AnnoTaskStatePending AnnoTaskState = "pending"

	// AnnoTaskStateInProgress 进行中：条目池开放，标注员可领取
	AnnoTaskStateInProgress AnnoTaskState = "in_progress"

	// AnnoTaskStateFinished 已完成：所有条目终止
	AnnoTaskStateFinished AnnoTaskState = "finished"
)

// ============================================================================
// AnnoTask - 标注任务
// ============================================================================

// AnnoTask 表示一个人工标注阶段
//
// AnnoTask 挂在 anno_task 变体的 PipeElement 背后，独占其 Item。
// 多名标注员并发工作在同一个条目池上，互斥由 AssignmentLedger 保证。
//
// 字段说明：
//   - ElementID：所属 PipeElement
//   - SourcePrefix：条目来源（对象存储中的前缀，物化时列举）
//   - ReviewEnabled：是否启用 Designer 审核环节
type AnnoTask struct {
	ID            string        `json:"id" db:"id"`                               // 任务唯一标识
	ElementID     string        `json:"element_id" db:"element_id"`               // 所属节点 ID
	Name          string        `json:"name" db:"name"`                           // 名称
	State         AnnoTaskState `json:"state" db:"state"`                         // 任务状态
	SourcePrefix  string        `json:"source_prefix" db:"source_prefix"`         // 条目来源前缀
	ReviewEnabled bool          `json:"review_enabled" db:"review_enabled"`       // 是否启用审核
	Instructions  string        `json:"instructions,omitempty" db:"instructions"` // 给标注员的说明
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`               // 创建时间
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`               // 更新时间
}

// IsOpen 判断任务是否开放领取
func (t *AnnoTask) IsOpen() bool {
	return t.State == AnnoTaskStateInProgress
}

// ============================================================================
// ItemState - 条目标注状态
// ============================================================================

// ItemState 表示单个条目的标注生命周期
//
// 状态机：
//
//	untouched → in_progress → annotated → [in_review → accepted|rejected] → accepted
//	                  ↑                                        |
//	                  └──────────── rejected ──────────────────┘
//
// 审核关闭时 Submit 直接落到 accepted；accepted 是汇点，不可再被锁定。
// 锁状态与标注状态正交：LockedBy 记录当前租约持有人（可空）。
type ItemState string

const (
	// ItemStateUntouched 未触碰：尚未分配给任何标注员
	ItemStateUntouched ItemState = "untouched"

	// ItemStateInProgress 标注中：已被领取过（含被拒绝返工）
	ItemStateInProgress ItemState = "in_progress"

	// ItemStateAnnotated 已标注：等待审核（审核开启时）
	ItemStateAnnotated ItemState = "annotated"

	// ItemStateInReview 审核中：Designer 已打开查看
	ItemStateInReview ItemState = "in_review"

	// ItemStateAccepted 已接受：终止态，不可再锁定
	ItemStateAccepted ItemState = "accepted"

	// ItemStateRejected 已拒绝：瞬时态，落库时即回到 in_progress
	ItemStateRejected ItemState = "rejected"
)

// ============================================================================
// Item - 标注工作单元
// ============================================================================

// Item 表示一个标注工作单元（例如一张图片）
//
// 租约不变式：同一时刻 LockedBy 至多一个非空持有人；
// 租约是关系不是所有权，系统可在超时或登出时收回。
//
// 字段说明：
//   - Seq：物化时的插入序号，领取顺序稳定按 Seq 升序
//   - MediaPath：媒体的逻辑路径（经 FileAccess 读取，核心不碰物理路径）
//   - LastTouchedBy：最近操作过该条目的标注员（PrevItem 的历史依据）
//   - RejectReason：审核拒绝原因（下次分配时展示给标注员）
type Item struct {
	ID            string          `json:"id" db:"id"`                                     // 条目唯一标识
	AnnoTaskID    string          `json:"anno_task_id" db:"anno_task_id"`                 // 所属任务 ID
	Seq           int             `json:"seq" db:"seq"`                                   // 插入序号
	MediaPath     string          `json:"media_path" db:"media_path"`                     // 媒体逻辑路径
	State         ItemState       `json:"state" db:"state"`                               // 标注状态
	LockedBy      *string         `json:"locked_by,omitempty" db:"locked_by"`             // 租约持有人
	LastTouchedBy *string         `json:"last_touched_by,omitempty" db:"last_touched_by"` // 最近操作人
	Annotation    json.RawMessage `json:"annotation,omitempty" db:"annotation"`           // 标注负载
	RejectReason  *string         `json:"reject_reason,omitempty" db:"reject_reason"`     // 拒绝原因
	LastActivity  *time.Time      `json:"last_activity,omitempty" db:"last_activity"`     // 最近触碰时间
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`                     // 创建时间
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`                     // 更新时间
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断条目是否到达终止接受态
//
// 审核关闭时 annotated 也计为终止（Submit 正常会直接写 accepted，
// 这里同时兜住历史数据）。
func (i *Item) IsTerminal(reviewEnabled bool) bool {
	if i.State == ItemStateAccepted {
		return true
	}
	return !reviewEnabled && i.State == ItemStateAnnotated
}

// IsLocked 判断条目是否被持有租约
func (i *Item) IsLocked() bool {
	return i.LockedBy != nil
}

// Assignable 判断条目是否可被领取
//
// 可领取 = 未锁定且处于 untouched / in_progress（被拒绝返工后即 in_progress）。
// annotated / in_review 的条目在审核流转中，不可重新分配。
func (i *Item) Assignable() bool {
	if i.IsLocked() {
		return false
	}
	return i.State == ItemStateUntouched || i.State == ItemStateInProgress
}
