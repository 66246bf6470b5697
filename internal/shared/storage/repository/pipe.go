// Package repository Pipe 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"anno-admin/internal/shared/model"
)

// CreatePipe 创建流水线
func (s *Store) CreatePipe(ctx context.Context, pipe *model.Pipe) error {
	query := s.rebind(`
		INSERT INTO pipes (id, name, owner_id, state, started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err := s.db.ExecContext(ctx, query,
		pipe.ID, pipe.Name, pipe.OwnerID, pipe.State, pipe.StartedAt, pipe.FinishedAt,
		pipe.CreatedAt, pipe.UpdatedAt)
	return err
}

// GetPipe 获取流水线
func (s *Store) GetPipe(ctx context.Context, id string) (*model.Pipe, error) {
	query := s.rebind(`SELECT id, name, owner_id, state, started_at, finished_at, created_at, updated_at
			  FROM pipes WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	pipe, err := scanPipe(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pipe, err
}

// scanPipe 辅助函数
func scanPipe(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Pipe, error) {
	pipe := &model.Pipe{}
	err := scanner.Scan(
		&pipe.ID, &pipe.Name, &pipe.OwnerID, &pipe.State, &pipe.StartedAt,
		&pipe.FinishedAt, &pipe.CreatedAt, &pipe.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return pipe, nil
}

// scanPipes 批量扫描
func scanPipes(rows *sql.Rows) ([]*model.Pipe, error) {
	var pipes []*model.Pipe
	for rows.Next() {
		pipe, err := scanPipe(rows)
		if err != nil {
			return nil, err
		}
		pipes = append(pipes, pipe)
	}
	return pipes, rows.Err()
}

// ListPipesByState 列出指定状态的流水线
func (s *Store) ListPipesByState(ctx context.Context, state model.PipeState) ([]*model.Pipe, error) {
	query := s.rebind(`SELECT id, name, owner_id, state, started_at, finished_at, created_at, updated_at
			  FROM pipes WHERE state = $1 ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPipes(rows)
}

// UpdatePipeState 更新流水线状态
// running / finished 同时写入 started_at / finished_at
func (s *Store) UpdatePipeState(ctx context.Context, id string, state model.PipeState) error {
	var query string
	var args []interface{}
	now := time.Now()
	switch state {
	case model.PipeStateRunning:
		query = s.rebind(`UPDATE pipes SET state = $1, started_at = COALESCE(started_at, $2), updated_at = $3 WHERE id = $4`)
		args = []interface{}{state, now, now, id}
	case model.PipeStateFinished:
		query = s.rebind(`UPDATE pipes SET state = $1, finished_at = $2, updated_at = $3 WHERE id = $4`)
		args = []interface{}{state, now, now, id}
	default:
		query = s.rebind(`UPDATE pipes SET state = $1, updated_at = $2 WHERE id = $3`)
		args = []interface{}{state, now, id}
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// DeletePipe 级联删除流水线
// 元素、结果和边由外键 ON DELETE CASCADE 一并清理
func (s *Store) DeletePipe(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM pipes WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
