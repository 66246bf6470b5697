// Package repository Item 相关的存储操作
//
// 条目的锁表、状态流转和个人完成标记都落在同一个数据库里，
// SubmitItem 用单条 UPDATE 保证"写负载 + 流转状态 + 释放租约 + 清除拒绝原因"的原子性。
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage/dbutil"
)

// CreateItems 批量物化条目
// 在单个事务里插入，要么全部可见要么全部不可见
func (s *Store) CreateItems(ctx context.Context, items []*model.Item) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO items (id, anno_task_id, seq, media_path, state, locked_by, last_touched_by, annotation, reject_reason, last_activity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		var anno interface{}
		if len(item.Annotation) > 0 {
			anno = []byte(item.Annotation)
		}
		_, err := stmt.ExecContext(ctx,
			item.ID, item.AnnoTaskID, item.Seq, item.MediaPath, item.State,
			item.LockedBy, item.LastTouchedBy, anno, item.RejectReason,
			item.LastActivity, item.CreatedAt, item.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// scanItem 辅助函数
func scanItem(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Item, error) {
	item := &model.Item{}
	var anno *[]byte
	err := scanner.Scan(
		&item.ID, &item.AnnoTaskID, &item.Seq, &item.MediaPath, &item.State,
		&item.LockedBy, &item.LastTouchedBy, &anno, &item.RejectReason,
		&item.LastActivity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if anno != nil {
		item.Annotation = *anno
	}
	return item, nil
}

// scanItems 批量扫描
func scanItems(rows *sql.Rows) ([]*model.Item, error) {
	var items []*model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem 获取条目
func (s *Store) GetItem(ctx context.Context, id string) (*model.Item, error) {
	query := s.rebind(`SELECT id, anno_task_id, seq, media_path, state, locked_by, last_touched_by, annotation, reject_reason, last_activity, created_at, updated_at
			  FROM items WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// ListItemsByTask 列出任务的所有条目
// 稳定按物化插入序号升序，领取顺序依赖这一点
func (s *Store) ListItemsByTask(ctx context.Context, taskID string) ([]*model.Item, error) {
	query := s.rebind(`SELECT id, anno_task_id, seq, media_path, state, locked_by, last_touched_by, annotation, reject_reason, last_activity, created_at, updated_at
			  FROM items WHERE anno_task_id = $1 ORDER BY seq ASC`)
	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// ListItemsByTaskAndState 列出任务中指定状态的条目
func (s *Store) ListItemsByTaskAndState(ctx context.Context, taskID string, state model.ItemState) ([]*model.Item, error) {
	query := s.rebind(`SELECT id, anno_task_id, seq, media_path, state, locked_by, last_touched_by, annotation, reject_reason, last_activity, created_at, updated_at
			  FROM items WHERE anno_task_id = $1 AND state = $2 ORDER BY seq ASC`)
	rows, err := s.db.QueryContext(ctx, query, taskID, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

// UpdateItemLock 设置/清除租约持有人
// lockedBy 为 nil 即解锁；touchedBy 非 nil 时同时更新最近操作人和触碰时间
func (s *Store) UpdateItemLock(ctx context.Context, id string, lockedBy *string, touchedBy *string) error {
	now := time.Now()
	if touchedBy != nil {
		query := s.rebind(`UPDATE items SET locked_by = $1, last_touched_by = $2, last_activity = $3, updated_at = $4 WHERE id = $5`)
		_, err := s.db.ExecContext(ctx, query, lockedBy, touchedBy, now, now, id)
		return err
	}
	query := s.rebind(`UPDATE items SET locked_by = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, lockedBy, now, id)
	return err
}

// UpdateItemState 更新条目标注状态
// rejectReason 在接受/重新领取时传 nil 以清除历史原因
func (s *Store) UpdateItemState(ctx context.Context, id string, state model.ItemState, rejectReason *string) error {
	query := s.rebind(`UPDATE items SET state = $1, reject_reason = $2, updated_at = $3 WHERE id = $4`)
	_, err := s.db.ExecContext(ctx, query, state, rejectReason, time.Now(), id)
	return err
}

// SubmitItem 原子提交标注
// 单条 UPDATE 同时写入负载、流转状态、释放租约、清除历史拒绝原因；
// 要么都发生要么都不发生
func (s *Store) SubmitItem(ctx context.Context, id string, annotation json.RawMessage, state model.ItemState) error {
	var anno interface{}
	if len(annotation) > 0 {
		anno = []byte(annotation)
	}
	now := time.Now()
	query := s.rebind(`UPDATE items SET annotation = $1, state = $2, locked_by = NULL, reject_reason = NULL, last_activity = $3, updated_at = $4 WHERE id = $5`)
	_, err := s.db.ExecContext(ctx, query, anno, state, now, now, id)
	return err
}

// ReleaseItemsLockedBy 释放某用户持有的全部租约
// 不改变标注状态；幂等，返回实际释放的条目数
func (s *Store) ReleaseItemsLockedBy(ctx context.Context, userID string) (int64, error) {
	query := s.rebind(`UPDATE items SET locked_by = NULL, updated_at = $1 WHERE locked_by = $2`)
	res, err := s.db.ExecContext(ctx, query, time.Now(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseOrphanItemLocks 释放持有人没有存活集群会话的全部租约
//
// 兜底回收：登出回收（ReleaseAll → terminated）和领取（NextItem）
// 之间没有共同的互斥，竞态窗口里落下的租约持有人已经离线，
// 这些孤儿租约由清扫器统一收回。幂等，返回实际释放的条目数。
func (s *Store) ReleaseOrphanItemLocks(ctx context.Context) (int64, error) {
	query := s.rebind(`UPDATE items SET locked_by = NULL, updated_at = $1
			  WHERE locked_by IS NOT NULL
			    AND locked_by NOT IN (
			      SELECT user_id FROM worker_sessions
			      WHERE state IN ('provisioning', 'active', 'idle'))`)
	res, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkUserFinished 记录某用户在某任务上的个人完成标记
// 幂等：重复标记不报错
func (s *Store) MarkUserFinished(ctx context.Context, taskID, userID string) error {
	var query string
	if s.dialect.DriverType() == dbutil.DriverPostgres {
		query = s.rebind(`INSERT INTO anno_task_user (anno_task_id, user_id, finished)
				  VALUES ($1, $2, ` + s.dialect.BooleanLiteral(true) + `)
				  ON CONFLICT (anno_task_id, user_id) DO UPDATE SET finished = ` + s.dialect.BooleanLiteral(true))
	} else {
		query = s.rebind(`INSERT OR REPLACE INTO anno_task_user (anno_task_id, user_id, finished)
				  VALUES ($1, $2, 1)`)
	}
	_, err := s.db.ExecContext(ctx, query, taskID, userID)
	return err
}

// IsUserFinished 查询个人完成标记
func (s *Store) IsUserFinished(ctx context.Context, taskID, userID string) (bool, error) {
	query := s.rebind(`SELECT finished FROM anno_task_user WHERE anno_task_id = $1 AND user_id = $2`)
	var finished bool
	err := s.db.QueryRowContext(ctx, query, taskID, userID).Scan(&finished)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return finished, nil
}
