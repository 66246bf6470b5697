// Package repository PipeElement 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"anno-admin/internal/shared/model"
)

// CreateElement 创建 DAG 节点
func (s *Store) CreateElement(ctx context.Context, pe *model.PipeElement) error {
	query := s.rebind(`
		INSERT INTO pipe_elements (id, pipe_id, type, state, spec, job_ref, error_msg, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	var spec interface{}
	if len(pe.Spec) > 0 {
		spec = []byte(pe.Spec)
	}
	_, err := s.db.ExecContext(ctx, query,
		pe.ID, pe.PipeID, pe.Type, pe.State, spec, pe.JobRef, pe.ErrorMsg,
		pe.CreatedAt, pe.UpdatedAt)
	return err
}

// GetElement 获取 DAG 节点
func (s *Store) GetElement(ctx context.Context, id string) (*model.PipeElement, error) {
	query := s.rebind(`SELECT id, pipe_id, type, state, spec, job_ref, error_msg, created_at, updated_at
			  FROM pipe_elements WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	pe, err := scanElement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pe, err
}

// scanElement 辅助函数
func scanElement(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.PipeElement, error) {
	pe := &model.PipeElement{}
	var spec *[]byte
	err := scanner.Scan(
		&pe.ID, &pe.PipeID, &pe.Type, &pe.State, &spec, &pe.JobRef,
		&pe.ErrorMsg, &pe.CreatedAt, &pe.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if spec != nil {
		pe.Spec = *spec
	}
	return pe, nil
}

// scanElements 批量扫描
func scanElements(rows *sql.Rows) ([]*model.PipeElement, error) {
	var elements []*model.PipeElement
	for rows.Next() {
		pe, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, pe)
	}
	return elements, rows.Err()
}

// ListElementsByPipe 列出流水线的所有节点
func (s *Store) ListElementsByPipe(ctx context.Context, pipeID string) ([]*model.PipeElement, error) {
	query := s.rebind(`SELECT id, pipe_id, type, state, spec, job_ref, error_msg, created_at, updated_at
			  FROM pipe_elements WHERE pipe_id = $1 ORDER BY created_at ASC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, pipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanElements(rows)
}

// UpdateElementState 更新节点状态
// errMsg 为 nil 时清除历史错误信息（re-run 场景）
func (s *Store) UpdateElementState(ctx context.Context, id string, state model.ElementState, errMsg *string) error {
	query := s.rebind(`UPDATE pipe_elements SET state = $1, error_msg = $2, updated_at = $3 WHERE id = $4`)
	_, err := s.db.ExecContext(ctx, query, state, errMsg, time.Now(), id)
	return err
}

// UpdateElementJobRef 记录作业句柄
func (s *Store) UpdateElementJobRef(ctx context.Context, id string, jobRef string) error {
	query := s.rebind(`UPDATE pipe_elements SET job_ref = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, jobRef, time.Now(), id)
	return err
}

// DeleteElement 删除节点
func (s *Store) DeleteElement(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM pipe_elements WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
