// Package cache 缓存层类型定义
package cache

import (
	"time"
)

// ============================================================================
// 缓存数据类型
// ============================================================================

// SessionStatus 用户会话状态
type SessionStatus struct {
	WorkerSessionID string    `json:"worker_session_id"`
	State           string    `json:"state"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ============================================================================
// Key 前缀和 TTL 常量
// ============================================================================

const (
	// Key 前缀
	KeySessionHeartbeat = "session_heartbeat:"
	KeyRevokedToken     = "revoked_token:"

	// TTL 常量
	TTLSessionHeartbeat = 60 * time.Second
)
