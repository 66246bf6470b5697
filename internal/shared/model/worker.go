// Package model 定义核心数据模型
//
// worker.go 包含计算资源相关的数据模型定义：
//   - WorkerSession：某个用户的专属工作集群
//   - WorkerState：集群生命周期状态枚举
package model

import "time"

// ============================================================================
// WorkerState - 集群状态
// ============================================================================

// WorkerState 表示用户工作集群的生命周期状态
//
//	provisioning → active ⇄ idle
//	                  ↓
//	             terminated
//
// 状态说明：
//   - provisioning：容器创建中
//   - active：集群可用，可提交脚本作业
//   - idle：心跳过期但尚未清理（清扫器下个周期处理）
//   - terminated：已回收，容器删除、条目租约释放
type WorkerState string

const (
	// WorkerStateProvisioning 创建中
	WorkerStateProvisioning WorkerState = "provisioning"

	// WorkerStateActive 可用
	WorkerStateActive WorkerState = "active"

	// WorkerStateIdle 心跳过期
	WorkerStateIdle WorkerState = "idle"

	// WorkerStateTerminated 已回收
	WorkerStateTerminated WorkerState = "terminated"
)

// ============================================================================
// WorkerSession - 用户工作集群
// ============================================================================

// WorkerSession 表示某个用户的专属工作集群
//
// 每个用户至多一个非 terminated 的会话（CreateUserCluster 幂等）。
// 心跳由 token 刷新驱动写入缓存；清扫器比对 LastHeartbeat 与配置
// 的超时，过期会话被强制回收，并通过 AssignmentLedger.ReleaseAll
// 释放该用户持有的所有条目租约 —— 被遗忘的浏览器标签页不能永久
// 饿死一个条目。
type WorkerSession struct {
	ID            string      `json:"id" db:"id"`                                   // 会话唯一标识
	UserID        string      `json:"user_id" db:"user_id"`                         // 所属用户 ID
	ContainerID   *string     `json:"container_id,omitempty" db:"container_id"`     // 集群容器 ID
	State         WorkerState `json:"state" db:"state"`                             // 生命周期状态
	LastHeartbeat *time.Time  `json:"last_heartbeat,omitempty" db:"last_heartbeat"` // 最后心跳
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`                   // 创建时间
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`                   // 更新时间
}

// IsLive 判断会话是否存活（可提交作业）
func (w *WorkerSession) IsLive() bool {
	return w.State == WorkerStateActive || w.State == WorkerStateProvisioning
}

// HeartbeatExpired 判断心跳是否超过给定超时
func (w *WorkerSession) HeartbeatExpired(timeout time.Duration, now time.Time) bool {
	if w.LastHeartbeat == nil {
		return now.Sub(w.CreatedAt) > timeout
	}
	return now.Sub(*w.LastHeartbeat) > timeout
}
