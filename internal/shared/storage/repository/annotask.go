// Package repository AnnoTask 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"anno-admin/internal/shared/model"
)

// CreateAnnoTask 创建标注任务
func (s *Store) CreateAnnoTask(ctx context.Context, task *model.AnnoTask) error {
	query := s.rebind(`
		INSERT INTO anno_tasks (id, element_id, name, state, source_prefix, review_enabled, instructions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.ElementID, task.Name, task.State, task.SourcePrefix,
		task.ReviewEnabled, task.Instructions, task.CreatedAt, task.UpdatedAt)
	return err
}

// scanAnnoTask 辅助函数
func scanAnnoTask(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.AnnoTask, error) {
	task := &model.AnnoTask{}
	err := scanner.Scan(
		&task.ID, &task.ElementID, &task.Name, &task.State, &task.SourcePrefix,
		&task.ReviewEnabled, &task.Instructions, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetAnnoTask 获取标注任务
func (s *Store) GetAnnoTask(ctx context.Context, id string) (*model.AnnoTask, error) {
	query := s.rebind(`SELECT id, element_id, name, state, source_prefix, review_enabled, instructions, created_at, updated_at
			  FROM anno_tasks WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	task, err := scanAnnoTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// GetAnnoTaskByElement 通过所属节点获取标注任务
func (s *Store) GetAnnoTaskByElement(ctx context.Context, elementID string) (*model.AnnoTask, error) {
	query := s.rebind(`SELECT id, element_id, name, state, source_prefix, review_enabled, instructions, created_at, updated_at
			  FROM anno_tasks WHERE element_id = $1`)
	row := s.db.QueryRowContext(ctx, query, elementID)
	task, err := scanAnnoTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// UpdateAnnoTaskState 更新标注任务状态
func (s *Store) UpdateAnnoTaskState(ctx context.Context, id string, state model.AnnoTaskState) error {
	query := s.rebind(`UPDATE anno_tasks SET state = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, state, time.Now(), id)
	return err
}
