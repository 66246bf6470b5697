// Package executor 标注任务节点执行器
package executor

import (
	"context"
	"fmt"

	"anno-admin/internal/annotation"
	"anno-admin/internal/shared/apperr"
	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/objstore"
	"anno-admin/internal/shared/storage"
	"anno-admin/pkg/logging"
)

// AnnoTaskExecutor 标注任务节点执行器
//
// Start 物化条目池：按来源前缀列举对象存储，每个对象一个条目，
// 物化顺序即列举顺序（键名升序）。节点随后保持 running，
// 直到账本报告所有条目到达终止接受态。
type AnnoTaskExecutor struct {
	store  storage.PersistentStore
	files  objstore.FileAccess
	ledger *annotation.Ledger
	logger *logging.Logger
	genID  func(prefix string) string
}

// NewAnnoTaskExecutor 创建标注任务执行器
func NewAnnoTaskExecutor(store storage.PersistentStore, files objstore.FileAccess, ledger *annotation.Ledger, genID func(string) string, logger *logging.Logger) *AnnoTaskExecutor {
	if logger == nil {
		logger = logging.Default("executor.annotask")
	}
	return &AnnoTaskExecutor{store: store, files: files, ledger: ledger, logger: logger, genID: genID}
}

func (e *AnnoTaskExecutor) Type() model.ElementType {
	return model.ElementTypeAnnoTask
}

// Start 物化条目池并开放任务
//
// 幂等：条目已存在时（重启后的重复 Start）不重复物化。
func (e *AnnoTaskExecutor) Start(ctx context.Context, pe *model.PipeElement) error {
	task, err := e.store.GetAnnoTaskByElement(ctx, pe.ID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: element %s has no anno task row", apperr.ErrJobFailure, pe.ID)
	}

	existing, err := e.store.ListItemsByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		keys, err := e.files.ListByPrefix(ctx, task.SourcePrefix)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return fmt.Errorf("%w: no items under prefix %q", apperr.ErrJobFailure, task.SourcePrefix)
		}
		items := make([]*model.Item, 0, len(keys))
		for i, key := range keys {
			items = append(items, &model.Item{
				ID:         e.genID("item"),
				AnnoTaskID: task.ID,
				Seq:        i,
				MediaPath:  key,
				State:      model.ItemStateUntouched,
			})
		}
		if err := e.store.CreateItems(ctx, items); err != nil {
			return err
		}
		e.logger.ElementLog("items_materialized", pe.PipeID, pe.ID, "count", len(items))
	}

	if task.State == model.AnnoTaskStatePending {
		if err := e.store.UpdateAnnoTaskState(ctx, task.ID, model.AnnoTaskStateInProgress); err != nil {
			return err
		}
	}
	return nil
}

// Poll 检查条目池是否全部终止
//
// 完成判定用全局条目状态，与个人完成标记无关：最后一个条目
// 被接受的那个 tick，任务关闭、节点完成。
func (e *AnnoTaskExecutor) Poll(ctx context.Context, pe *model.PipeElement) (*Status, error) {
	task, err := e.store.GetAnnoTaskByElement(ctx, pe.ID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return &Status{FailureMsg: "anno task row lost"}, nil
	}

	p, err := e.ledger.TaskProgress(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if !p.Complete(task.ReviewEnabled) {
		return &Status{}, nil
	}

	if task.State != model.AnnoTaskStateFinished {
		if err := e.store.UpdateAnnoTaskState(ctx, task.ID, model.AnnoTaskStateFinished); err != nil {
			return nil, err
		}
		e.logger.ElementLog("anno_task_finished", pe.PipeID, pe.ID, "items", p.Total)
	}
	return &Status{Done: true}, nil
}
