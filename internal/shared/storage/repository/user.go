// Package repository User 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"anno-admin/internal/shared/model"
	"anno-admin/internal/shared/storage/dbutil"
)

// CreateUser 创建用户
// 角色集合随用户一起写入 user_roles 表
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := s.rebind(`
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if _, err := tx.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.CreatedAt, user.UpdatedAt); err != nil {
		return err
	}

	roleQuery := s.roleInsertQuery()
	for _, role := range user.Roles {
		if _, err := tx.ExecContext(ctx, roleQuery, user.ID, role); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// roleInsertQuery 幂等的角色授予语句
func (s *Store) roleInsertQuery() string {
	if s.dialect.DriverType() == dbutil.DriverPostgres {
		return s.rebind(`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`)
	}
	return s.rebind(`INSERT OR IGNORE INTO user_roles (user_id, role) VALUES ($1, $2)`)
}

// scanUser 辅助函数（不含角色，角色由 loadRoles 单独填充）
func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.User, error) {
	user := &model.User{}
	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// loadRoles 填充用户的角色集合
func (s *Store) loadRoles(ctx context.Context, user *model.User) error {
	query := s.rebind(`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role ASC`)
	rows, err := s.db.QueryContext(ctx, query, user.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var role model.Role
		if err := rows.Scan(&role); err != nil {
			return err
		}
		user.Roles = append(user.Roles, role)
	}
	return rows.Err()
}

// GetUser 获取用户
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	query := s.rebind(`SELECT id, username, email, password_hash, created_at, updated_at
			  FROM users WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByUsername 通过登录名获取用户
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	query := s.rebind(`SELECT id, username, email, password_hash, created_at, updated_at
			  FROM users WHERE username = $1`)
	row := s.db.QueryRowContext(ctx, query, username)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadRoles(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers 列出所有用户
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	query := s.rebind(`SELECT id, username, email, password_hash, created_at, updated_at
			  FROM users ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, user := range users {
		if err := s.loadRoles(ctx, user); err != nil {
			return nil, err
		}
	}
	return users, nil
}

// AddUserRole 追加式授予角色
// 重复授予幂等
func (s *Store) AddUserRole(ctx context.Context, userID string, role model.Role) error {
	_, err := s.db.ExecContext(ctx, s.roleInsertQuery(), userID, role)
	return err
}

// UpdateUserPassword 更新口令哈希
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	query := s.rebind(`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, passwordHash, time.Now(), id)
	return err
}

// DeleteUser 删除用户
// 角色由外键级联清理
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM users WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
