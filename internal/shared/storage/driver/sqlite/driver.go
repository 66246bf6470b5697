// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和轻量级单机部署场景。
package sqlite

import (
	"database/sql"
	"fmt"

	"anno-admin/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:anno.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- pipes
CREATE TABLE IF NOT EXISTS pipes (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    owner_id VARCHAR(64) NOT NULL,
    state VARCHAR(32) DEFAULT 'created',
    started_at DATETIME,
    finished_at DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- pipe_elements
CREATE TABLE IF NOT EXISTS pipe_elements (
    id VARCHAR(64) PRIMARY KEY,
    pipe_id VARCHAR(64) NOT NULL REFERENCES pipes(id) ON DELETE CASCADE,
    type VARCHAR(32) NOT NULL,
    state VARCHAR(32) DEFAULT 'pending',
    spec TEXT,
    job_ref VARCHAR(128),
    error_msg TEXT,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- results
CREATE TABLE IF NOT EXISTS results (
    id VARCHAR(64) PRIMARY KEY,
    pipe_id VARCHAR(64) NOT NULL REFERENCES pipes(id) ON DELETE CASCADE,
    satisfied INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- result_links
CREATE TABLE IF NOT EXISTS result_links (
    id VARCHAR(64) PRIMARY KEY,
    pipe_id VARCHAR(64) NOT NULL REFERENCES pipes(id) ON DELETE CASCADE,
    result_id VARCHAR(64) NOT NULL REFERENCES results(id) ON DELETE CASCADE,
    pe_n VARCHAR(64) NOT NULL,
    pe_out VARCHAR(64)
);

-- anno_tasks
CREATE TABLE IF NOT EXISTS anno_tasks (
    id VARCHAR(64) PRIMARY KEY,
    element_id VARCHAR(64) NOT NULL REFERENCES pipe_elements(id) ON DELETE CASCADE,
    name VARCHAR(200),
    state VARCHAR(32) DEFAULT 'pending',
    source_prefix TEXT,
    review_enabled INTEGER DEFAULT 0,
    instructions TEXT,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- items
CREATE TABLE IF NOT EXISTS items (
    id VARCHAR(64) PRIMARY KEY,
    anno_task_id VARCHAR(64) NOT NULL REFERENCES anno_tasks(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    media_path TEXT,
    state VARCHAR(32) DEFAULT 'untouched',
    locked_by VARCHAR(64),
    last_touched_by VARCHAR(64),
    annotation TEXT,
    reject_reason TEXT,
    last_activity DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_items_task_seq ON items(anno_task_id, seq);
CREATE INDEX IF NOT EXISTS idx_items_locked_by ON items(locked_by);

-- anno_task_user 个人完成标记
CREATE TABLE IF NOT EXISTS anno_task_user (
    anno_task_id VARCHAR(64) NOT NULL REFERENCES anno_tasks(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    finished INTEGER DEFAULT 0,
    PRIMARY KEY (anno_task_id, user_id)
);

-- users
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    username VARCHAR(100) NOT NULL UNIQUE,
    email VARCHAR(200),
    password_hash VARCHAR(200) NOT NULL,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- user_roles 追加式角色授予
CREATE TABLE IF NOT EXISTS user_roles (
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role VARCHAR(32) NOT NULL,
    PRIMARY KEY (user_id, role)
);

-- worker_sessions
CREATE TABLE IF NOT EXISTS worker_sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL,
    container_id VARCHAR(128),
    state VARCHAR(32) DEFAULT 'provisioning',
    last_heartbeat DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_worker_sessions_user ON worker_sessions(user_id);
`
