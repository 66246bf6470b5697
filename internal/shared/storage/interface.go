// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在 repository/ 中，按方言适配 PostgreSQL / SQLite
//   - 初始化时通过依赖注入传入实现
//
// 一致性域：锁表、AnnoTask 状态与 DAG 状态都在同一个数据库里，
// 不做跨组件分布式事务；单个操作内保证读己之写。
package storage

import (
	"context"
	"encoding/json"
	"time"

	"anno-admin/internal/shared/model"
)

// ============================================================================
// 流水线存储
// ============================================================================

// PipeStore 流水线存储接口
type PipeStore interface {
	CreatePipe(ctx context.Context, pipe *model.Pipe) error
	GetPipe(ctx context.Context, id string) (*model.Pipe, error)
	ListPipesByState(ctx context.Context, state model.PipeState) ([]*model.Pipe, error)
	UpdatePipeState(ctx context.Context, id string, state model.PipeState) error
	// DeletePipe 级联删除流水线及其元素、结果和边
	DeletePipe(ctx context.Context, id string) error
}

// ElementStore DAG 节点存储接口
type ElementStore interface {
	CreateElement(ctx context.Context, pe *model.PipeElement) error
	GetElement(ctx context.Context, id string) (*model.PipeElement, error)
	ListElementsByPipe(ctx context.Context, pipeID string) ([]*model.PipeElement, error)
	UpdateElementState(ctx context.Context, id string, state model.ElementState, errMsg *string) error
	UpdateElementJobRef(ctx context.Context, id string, jobRef string) error
	DeleteElement(ctx context.Context, id string) error
}

// ResultStore 结果与边存储接口
type ResultStore interface {
	CreateResult(ctx context.Context, r *model.Result) error
	CreateResultLink(ctx context.Context, l *model.ResultLink) error
	ListResultsByPipe(ctx context.Context, pipeID string) ([]*model.Result, error)
	ListResultLinksByPipe(ctx context.Context, pipeID string) ([]*model.ResultLink, error)
	// MarkResultSatisfied 幂等：重复标记不改变图状态
	MarkResultSatisfied(ctx context.Context, id string) error
	// ResetResult 仅供显式 re-run 使用
	ResetResult(ctx context.Context, id string) error
}

// ============================================================================
// 标注存储
// ============================================================================

// AnnoTaskStore 标注任务存储接口
type AnnoTaskStore interface {
	CreateAnnoTask(ctx context.Context, task *model.AnnoTask) error
	GetAnnoTask(ctx context.Context, id string) (*model.AnnoTask, error)
	GetAnnoTaskByElement(ctx context.Context, elementID string) (*model.AnnoTask, error)
	UpdateAnnoTaskState(ctx context.Context, id string, state model.AnnoTaskState) error
}

// ItemStore 条目存储接口
//
// 领取顺序依赖 ListItemsByTask 的稳定排序（seq 升序，即物化时的
// 插入顺序）。SubmitItem 在单个事务里同时持久化负载并释放租约，
// 两者要么都发生要么都不发生。
type ItemStore interface {
	CreateItems(ctx context.Context, items []*model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItemsByTask(ctx context.Context, taskID string) ([]*model.Item, error)
	ListItemsByTaskAndState(ctx context.Context, taskID string, state model.ItemState) ([]*model.Item, error)
	// UpdateItemLock 设置/清除租约持有人；lockedBy 为 nil 即解锁
	UpdateItemLock(ctx context.Context, id string, lockedBy *string, touchedBy *string) error
	UpdateItemState(ctx context.Context, id string, state model.ItemState, rejectReason *string) error
	// SubmitItem 原子提交：写入标注负载、流转状态、释放租约、清除拒绝原因
	SubmitItem(ctx context.Context, id string, annotation json.RawMessage, state model.ItemState) error
	// ReleaseItemsLockedBy 释放某用户持有的全部租约，不改变标注状态；幂等
	ReleaseItemsLockedBy(ctx context.Context, userID string) (int64, error)
	// ReleaseOrphanItemLocks 释放持有人没有存活集群会话的全部租约；幂等
	ReleaseOrphanItemLocks(ctx context.Context) (int64, error)
	// MarkUserFinished 个人完成标记（非全局任务完成信号）
	MarkUserFinished(ctx context.Context, taskID, userID string) error
	IsUserFinished(ctx context.Context, taskID, userID string) (bool, error)
}

// ============================================================================
// 用户与集群存储
// ============================================================================

// UserStore 用户存储接口
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	// AddUserRole 追加式授予；重复授予幂等
	AddUserRole(ctx context.Context, userID string, role model.Role) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
}

// WorkerStore 工作集群会话存储接口
type WorkerStore interface {
	CreateWorkerSession(ctx context.Context, ws *model.WorkerSession) error
	GetWorkerSessionByUser(ctx context.Context, userID string) (*model.WorkerSession, error)
	ListLiveWorkerSessions(ctx context.Context) ([]*model.WorkerSession, error)
	UpdateWorkerSessionState(ctx context.Context, id string, state model.WorkerState) error
	UpdateWorkerSessionContainer(ctx context.Context, id string, containerID string) error
	UpdateWorkerHeartbeat(ctx context.Context, id string, at time.Time) error
	// ListStaleWorkerSessions 列出心跳早于 cutoff 的存活会话
	ListStaleWorkerSessions(ctx context.Context, cutoff time.Time) ([]*model.WorkerSession, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// PersistentStore 持久化存储组合接口
type PersistentStore interface {
	PipeStore
	ElementStore
	ResultStore
	AnnoTaskStore
	ItemStore
	UserStore
	WorkerStore
	Close() error
}
