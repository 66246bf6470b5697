// Package annotation 审核协调
package annotation

import (
	"context"

	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// Reviewer 审核协调器
//
// 与 Ledger 共用任务级互斥表：审核决定和标注员的领取/提交
// 在同一个串行化域内，过期决定不会覆盖新到达的状态。
type Reviewer struct {
	store  storage.PersistentStore
	logger *logging.Logger
	locks  *lockTable
}

// NewReviewer 创建审核协调器（与账本共享互斥表）
func NewReviewer(ledger *Ledger) *Reviewer {
	return &Reviewer{store: ledger.store, logger: ledger.logger, locks: ledger.locks}
}

// getReviewableTask 读取任务并校验审核开启
func (r *Reviewer) getReviewableTask(ctx context.Context, taskID string) (*model.AnnoTask, error) {
	task, err := r.store.GetAnnoTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, apperr.ErrNotFound
	}
	if !task.ReviewEnabled {
		return nil, apperr.Conflictf("anno task %s has review disabled", taskID)
	}
	return task, nil
}

// NextReview 取下一个待审核条目
//
// 按物化序号取第一个 annotated 条目并标记 in_review；
// 已在 in_review 的条目（审核者刷新页面）优先返回。
// 没有待审核条目时返回 (nil, nil)。
func (r *Reviewer) NextReview(ctx context.Context, taskID, reviewerID string) (*model.Item, error) {
	mu := r.locks.get(taskID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.getReviewableTask(ctx, taskID); err != nil {
		return nil, err
	}

	items, err := r.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if item.State == model.ItemStateInReview {
			return item, nil
		}
	}
	for _, item := range items {
		if item.State != model.ItemStateAnnotated {
			continue
		}
		if err := r.store.UpdateItemState(ctx, item.ID, model.ItemStateInReview, item.RejectReason); err != nil {
			return nil, err
		}
		r.logger.AssignmentLog("review_open", taskID, item.ID, reviewerID)
		return r.store.GetItem(ctx, item.ID)
	}

	return nil, nil
}

// ListForReview 列出任务内全部待审核条目
//
// 只读：按物化序号返回 annotated / in_review 的条目，不做任何
// 状态流转。标注员并发改动由 Decide 的状态重读兜底。
func (r *Reviewer) ListForReview(ctx context.Context, taskID string) ([]*model.Item, error) {
	if _, err := r.getReviewableTask(ctx, taskID); err != nil {
		return nil, err
	}
	items, err := r.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	pending := make([]*model.Item, 0)
	for _, item := range items {
		if item.State == model.ItemStateAnnotated || item.State == model.ItemStateInReview {
			pending = append(pending, item)
		}
	}
	return pending, nil
}

// Decision 审核决定
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

// Decide 落一个审核决定
//
// 在任务级互斥内重读条目：只有仍处于 annotated / in_review 的
// 条目才接受决定，过期决定返回 ErrConflict，绝不自动重试。
//   - accept：条目到达终止态 accepted，不可再被锁定
//   - reject：条目回到 in_progress、记录拒绝原因，重新进入分配池
func (r *Reviewer) Decide(ctx context.Context, taskID, itemID, reviewerID string, decision Decision, reason string) (*model.Item, error) {
	mu := r.locks.get(taskID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.getReviewableTask(ctx, taskID); err != nil {
		return nil, err
	}

	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.AnnoTaskID != taskID {
		return nil, apperr.ErrNotFound
	}
	if item.State != model.ItemStateAnnotated && item.State != model.ItemStateInReview {
		return nil, apperr.Conflictf("item %s is in state %s, decision is stale", itemID, item.State)
	}

	switch decision {
	case DecisionAccept:
		if err := r.store.UpdateItemState(ctx, itemID, model.ItemStateAccepted, nil); err != nil {
			return nil, err
		}
	case DecisionReject:
		var rejectReason *string
		if reason != "" {
			rejectReason = &reason
		}
		// rejected 是瞬时态：落库即回到 in_progress 重新进入分配池
		if err := r.store.UpdateItemState(ctx, itemID, model.ItemStateInProgress, rejectReason); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.Conflictf("unknown review decision %q", decision)
	}

	r.logger.AssignmentLog("review_decide", taskID, itemID, reviewerID, "decision", string(decision))
	reviewDecisionsTotal.WithLabelValues(string(decision)).Inc()
	return r.store.GetItem(ctx, itemID)
}

// ReviewOptions 当前条目可用的审核动作
type ReviewOptions struct {
	CanAccept bool `json:"can_accept"`
	CanReject bool `json:"can_reject"`
	Pending   int  `json:"pending"` // 剩余待审核条目数
}

// Options 查询任务的审核选项
func (r *Reviewer) Options(ctx context.Context, taskID string) (*ReviewOptions, error) {
	if _, err := r.getReviewableTask(ctx, taskID); err != nil {
		return nil, err
	}
	items, err := r.store.ListItemsByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	opts := &ReviewOptions{}
	for _, item := range items {
		switch item.State {
		case model.ItemStateAnnotated, model.ItemStateInReview:
			opts.Pending++
			opts.CanAccept = true
			opts.CanReject = true
		}
	}
	return opts, nil
}
