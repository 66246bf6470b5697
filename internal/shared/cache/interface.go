// Package cache 缓存层抽象接口
//
// 提供临时状态和缓存的存取能力，当前由 Redis 实现。
// 心跳缓存是快路径（token 刷新即心跳），落库版本由清扫器周期对账。
package cache

import (
	"context"
)

// ============================================================================
// 缓存接口定义
// ============================================================================

// SessionHeartbeatCache 用户会话心跳缓存接口
//
// TTL 键方案：键存在即在线，过期即离线，无需显式清理。
type SessionHeartbeatCache interface {
	UpdateSessionHeartbeat(ctx context.Context, userID string, status *SessionStatus) error
	GetSessionHeartbeat(ctx context.Context, userID string) (*SessionStatus, error)
	DeleteSessionHeartbeat(ctx context.Context, userID string) error
	ListOnlineUsers(ctx context.Context) ([]string, error)
}

// TokenRevocationCache 令牌撤销缓存接口
//
// 登出时按 JWT ID 写入撤销标记，TTL 对齐令牌剩余有效期；
// 校验侧命中即拒绝。撤销状态注入持有者，不做全局可变状态。
type TokenRevocationCache interface {
	RevokeToken(ctx context.Context, jti string, ttlSeconds int64) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// ============================================================================
// 组合接口
// ============================================================================

// Cache 缓存组合接口
type Cache interface {
	SessionHeartbeatCache
	TokenRevocationCache
	Close() error
}
