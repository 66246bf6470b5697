// Package annotation 条目分配账本
package annotation

import (
	"context"
	"encoding/json"

	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// Ledger 条目分配账本
//
// 多名标注员共享一个条目池时的唯一发牌人：
//   - 同一条目同一时刻至多一个租约持有人
//   - 领取顺序稳定（物化序号升序）
//   - 提交是原子的：负载落库、状态流转、租约释放一步完成
//
// 所有读改写序列都在任务级互斥内执行，见 locks.go。
type Ledger struct {
	store  storage.PersistentStore
	logger *logging.Logger
	locks  *lockTable
}

// NewLedger 创建分配账本
func NewLedger(store storage.PersistentStore, logger *logging.Logger) *Ledger {
	if logger == nil {
		logger = logging.Default("annotation")
	}
	return &Ledger{store: store, logger: logger, locks: newLockTable()}
}

// getOpenTask 读取任务并校验开放状态
func (l *Ledger) getOpenTask(ctx context.Context, taskID string) (*model.AnnoTask, error) {
	task, err := l.store.GetAnnoTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperr.ErrNotFound
	}
	if !task.IsOpen() {
		return nil, apperr.Conflictf("anno task %s is not open", taskID)
	}
	return task, nil
}

// NextItem 领取下一个条目
//
// 规则：
//  1. 用户在该任务内已持有租约时，返回持有的条目（刷新页面不换牌）
//  2. 否则按物化序号取第一个可领取条目，上锁并流转到 in_progress
//  3. 没有可领取条目时返回 (nil, nil)，不是错误
func (l *Ledger) NextItem(ctx context.Context, taskID, userID string) (*model.Item, error) {
	mu := l.locks.get(taskID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := l.getOpenTask(ctx, taskID); err != nil {
		return nil, err
	}

	items, err := l.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	// 已持有的租约优先
	for _, item := range items {
		if item.LockedBy != nil && *item.LockedBy == userID {
			return item, nil
		}
	}

	for _, item := range items {
		if !item.Assignable() {
			continue
		}
		if err := l.store.UpdateItemLock(ctx, item.ID, &userID, &userID); err != nil {
			return nil, err
		}
		if item.State == model.ItemStateUntouched {
			if err := l.store.UpdateItemState(ctx, item.ID, model.ItemStateInProgress, item.RejectReason); err != nil {
				return nil, err
			}
		}
		l.logger.AssignmentLog("assign", taskID, item.ID, userID)
		itemsAssignedTotal.Inc()
		return l.store.GetItem(ctx, item.ID)
	}

	return nil, nil
}

// FirstItem 返回用户在任务内操作过的第一个条目
//
// 没有历史时等价于 NextItem。
func (l *Ledger) FirstItem(ctx context.Context, taskID, userID string) (*model.Item, error) {
	items, err := l.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.LastTouchedBy != nil && *item.LastTouchedBy == userID {
			return item, nil
		}
	}
	return l.NextItem(ctx, taskID, userID)
}

// PrevItem 返回用户操作历史中当前条目之前的条目
//
// 只回看自己触碰过的条目；没有更早的历史时返回 (nil, nil)。
func (l *Ledger) PrevItem(ctx context.Context, taskID, userID, itemID string) (*model.Item, error) {
	current, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperr.ErrNotFound
	}

	items, err := l.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var prev *model.Item
	for _, item := range items {
		if item.Seq >= current.Seq {
			break
		}
		if item.LastTouchedBy != nil && *item.LastTouchedBy == userID {
			prev = item
		}
	}
	return prev, nil
}

// LastEdited 返回用户最近操作过的条目
func (l *Ledger) LastEdited(ctx context.Context, taskID, userID string) (*model.Item, error) {
	items, err := l.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var latest *model.Item
	for _, item := range items {
		if item.LastTouchedBy == nil || *item.LastTouchedBy != userID || item.LastActivity == nil {
			continue
		}
		if latest == nil || item.LastActivity.After(*latest.LastActivity) {
			latest = item
		}
	}
	return latest, nil
}

// Submit 提交标注
//
// 校验：提交者必须是租约持有人（否则 ErrAuthorization），
// 条目必须在 in_progress（否则 ErrConflict）。
// 审核开启时流转到 annotated 等待审核；关闭时直接 accepted。
func (l *Ledger) Submit(ctx context.Context, taskID, itemID, userID string, annotation json.RawMessage) (*model.Item, error) {
	mu := l.locks.get(taskID)
	mu.Lock()
	defer mu.Unlock()

	task, err := l.getOpenTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.AnnoTaskID != taskID {
		return nil, apperr.ErrNotFound
	}
	if item.LockedBy == nil || *item.LockedBy != userID {
		return nil, apperr.Authorizationf("user %s does not hold the lease on item %s", userID, itemID)
	}
	if item.State != model.ItemStateInProgress {
		return nil, apperr.Conflictf("item %s is in state %s, expected in_progress", itemID, item.State)
	}

	target := model.ItemStateAccepted
	if task.ReviewEnabled {
		target = model.ItemStateAnnotated
	}
	if err := l.store.SubmitItem(ctx, itemID, annotation, target); err != nil {
		return nil, err
	}

	l.logger.AssignmentLog("submit", taskID, itemID, userID, "state", string(target))
	itemsSubmittedTotal.Inc()
	return l.store.GetItem(ctx, itemID)
}

// ReleaseAll 释放某用户持有的全部租约
//
// 登出和心跳超时回收时调用。不改变任何条目的标注状态，
// 幂等，返回实际释放的条目数。
func (l *Ledger) ReleaseAll(ctx context.Context, userID string) (int64, error) {
	n, err := l.store.ReleaseItemsLockedBy(ctx, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.WithUserID(userID).Info("Released item leases", "count", n)
	}
	return n, nil
}

// MarkFinished 用户声明在该任务上完成
//
// 个人标记，不是全局任务完成信号；同时释放该用户的租约。
func (l *Ledger) MarkFinished(ctx context.Context, taskID, userID string) error {
	mu := l.locks.get(taskID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := l.store.ReleaseItemsLockedBy(ctx, userID); err != nil {
		return err
	}
	return l.store.MarkUserFinished(ctx, taskID, userID)
}

// Progress 任务进度快照
type Progress struct {
	Total      int `json:"total"`
	Untouched  int `json:"untouched"`
	InProgress int `json:"in_progress"`
	Annotated  int `json:"annotated"`
	InReview   int `json:"in_review"`
	Accepted   int `json:"accepted"`
	Locked     int `json:"locked"`
}

// TaskProgress 统计任务的条目进度
func (l *Ledger) TaskProgress(ctx context.Context, taskID string) (*Progress, error) {
	items, err := l.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	p := &Progress{Total: len(items)}
	for _, item := range items {
		switch item.State {
		case model.ItemStateUntouched:
			p.Untouched++
		case model.ItemStateInProgress:
			p.InProgress++
		case model.ItemStateAnnotated:
			p.Annotated++
		case model.ItemStateInReview:
			p.InReview++
		case model.ItemStateAccepted:
			p.Accepted++
		}
		if item.IsLocked() {
			p.Locked++
		}
	}
	return p, nil
}

// Complete 判断任务的所有条目是否都已到达终止接受态
func (p *Progress) Complete(reviewEnabled bool) bool {
	if p.Total == 0 {
		return false
	}
	if reviewEnabled {
		return p.Accepted == p.Total
	}
	return p.Accepted+p.Annotated == p.Total
}
