// Package repository WorkerSession 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"anno-admin/internal/shared/model"
)

// CreateWorkerSession 创建工作集群会话
func (s *Store) CreateWorkerSession(ctx context.Context, ws *model.WorkerSession) error {
	query := s.rebind(`
		INSERT INTO worker_sessions (id, user_id, container_id, state, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err := s.db.ExecContext(ctx, query,
		ws.ID, ws.UserID, ws.ContainerID, ws.State, ws.LastHeartbeat,
		ws.CreatedAt, ws.UpdatedAt)
	return err
}

// scanWorkerSession 辅助函数
func scanWorkerSession(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.WorkerSession, error) {
	ws := &model.WorkerSession{}
	err := scanner.Scan(
		&ws.ID, &ws.UserID, &ws.ContainerID, &ws.State, &ws.LastHeartbeat,
		&ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// scanWorkerSessions 批量扫描
func scanWorkerSessions(rows *sql.Rows) ([]*model.WorkerSession, error) {
	var sessions []*model.WorkerSession
	for rows.Next() {
		ws, err := scanWorkerSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

// GetWorkerSessionByUser 获取用户当前的非 terminated 会话
// 每个用户至多一个，按创建时间取最新
func (s *Store) GetWorkerSessionByUser(ctx context.Context, userID string) (*model.WorkerSession, error) {
	query := s.rebind(`SELECT id, user_id, container_id, state, last_heartbeat, created_at, updated_at
			  FROM worker_sessions
			  WHERE user_id = $1 AND state != 'terminated'
			  ORDER BY created_at DESC LIMIT 1`)
	row := s.db.QueryRowContext(ctx, query, userID)
	ws, err := scanWorkerSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ws, err
}

// ListLiveWorkerSessions 列出所有存活会话
func (s *Store) ListLiveWorkerSessions(ctx context.Context) ([]*model.WorkerSession, error) {
	query := s.rebind(`SELECT id, user_id, container_id, state, last_heartbeat, created_at, updated_at
			  FROM worker_sessions
			  WHERE state IN ('provisioning', 'active', 'idle')
			  ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkerSessions(rows)
}

// UpdateWorkerSessionState 更新会话状态
func (s *Store) UpdateWorkerSessionState(ctx context.Context, id string, state model.WorkerState) error {
	query := s.rebind(`UPDATE worker_sessions SET state = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, state, time.Now(), id)
	return err
}

// UpdateWorkerSessionContainer 供给完成后记录容器引用
func (s *Store) UpdateWorkerSessionContainer(ctx context.Context, id string, containerID string) error {
	query := s.rebind(`UPDATE worker_sessions SET container_id = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, containerID, time.Now(), id)
	return err
}

// UpdateWorkerHeartbeat 落库心跳时间
func (s *Store) UpdateWorkerHeartbeat(ctx context.Context, id string, at time.Time) error {
	query := s.rebind(`UPDATE worker_sessions SET last_heartbeat = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, at, time.Now(), id)
	return err
}

// ListStaleWorkerSessions 列出心跳早于 cutoff 的存活会话
// 从未写过心跳的会话按创建时间判定，防止刚创建就被回收
func (s *Store) ListStaleWorkerSessions(ctx context.Context, cutoff time.Time) ([]*model.WorkerSession, error) {
	query := s.rebind(`SELECT id, user_id, container_id, state, last_heartbeat, created_at, updated_at
			  FROM worker_sessions
			  WHERE state IN ('provisioning', 'active', 'idle')
			    AND ((last_heartbeat IS NOT NULL AND last_heartbeat < $1)
			      OR (last_heartbeat IS NULL AND created_at < $2))
			  ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, cutoff, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkerSessions(rows)
}
