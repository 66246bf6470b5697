// Package repository Result / ResultLink 相关的存储操作
package repository

import (
	"context"
	"time"

	"anno-admin/internal/shared/model"
)

// CreateResult 创建数据交接点
func (s *Store) CreateResult(ctx context.Context, r *model.Result) error {
	query := s.rebind(`
		INSERT INTO results (id, pipe_id, satisfied, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.PipeID, r.Satisfied, r.CreatedAt, r.UpdatedAt)
	return err
}

// CreateResultLink 创建 DAG 有向边
func (s *Store) CreateResultLink(ctx context.Context, l *model.ResultLink) error {
	query := s.rebind(`
		INSERT INTO result_links (id, pipe_id, result_id, pe_n, pe_out)
		VALUES ($1, $2, $3, $4, $5)
	`)
	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.PipeID, l.ResultID, l.PeN, l.PeOut)
	return err
}

// scanResult 辅助函数
func scanResult(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Result, error) {
	r := &model.Result{}
	err := scanner.Scan(&r.ID, &r.PipeID, &r.Satisfied, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListResultsByPipe 列出流水线的所有交接点
func (s *Store) ListResultsByPipe(ctx context.Context, pipeID string) ([]*model.Result, error) {
	query := s.rebind(`SELECT id, pipe_id, satisfied, created_at, updated_at
			  FROM results WHERE pipe_id = $1 ORDER BY created_at ASC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, pipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*model.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListResultLinksByPipe 列出流水线的所有边
func (s *Store) ListResultLinksByPipe(ctx context.Context, pipeID string) ([]*model.ResultLink, error) {
	query := s.rebind(`SELECT id, pipe_id, result_id, pe_n, pe_out
			  FROM result_links WHERE pipe_id = $1 ORDER BY id ASC`)
	rows, err := s.db.QueryContext(ctx, query, pipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []*model.ResultLink
	for rows.Next() {
		l := &model.ResultLink{}
		if err := rows.Scan(&l.ID, &l.PipeID, &l.ResultID, &l.PeN, &l.PeOut); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// MarkResultSatisfied 标记结果就绪
// 幂等：重复标记不报错也不改变图状态
func (s *Store) MarkResultSatisfied(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE results SET satisfied = ` + s.dialect.BooleanLiteral(true) + `, updated_at = $1 WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

// ResetResult 重置结果为未就绪
// 仅供显式 re-run 使用，运行期永不回退
func (s *Store) ResetResult(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE results SET satisfied = ` + s.dialect.BooleanLiteral(false) + `, updated_at = $1 WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, time.Now(), id)
	return err
}
