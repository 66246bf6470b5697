// Package cache 缓存层内存实现（用于测试和单机部署）
package cache

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// MemoryCache - 进程内 Cache 实现
// ============================================================================

// MemoryCache 是一个进程内的 Cache 实现
//
// 心跳过期采用惰性判定：读取时比对 UpdatedAt 与 TTL。
type MemoryCache struct {
	mu         sync.RWMutex
	heartbeats map[string]*SessionStatus
	revoked    map[string]time.Time // jti -> 撤销标记过期时间
}

// NewMemoryCache 创建 MemoryCache 实例
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		heartbeats: make(map[string]*SessionStatus),
		revoked:    make(map[string]time.Time),
	}
}

// Close 关闭缓存
func (c *MemoryCache) Close() error {
	return nil
}

// SessionHeartbeatCache 方法

func (c *MemoryCache) UpdateSessionHeartbeat(ctx context.Context, userID string, status *SessionStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	status.UpdatedAt = time.Now()
	c.heartbeats[userID] = status
	return nil
}

func (c *MemoryCache) GetSessionHeartbeat(ctx context.Context, userID string) (*SessionStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.heartbeats[userID]
	if !ok {
		return nil, nil
	}
	if time.Since(status.UpdatedAt) > TTLSessionHeartbeat {
		return nil, nil
	}
	return status, nil
}

func (c *MemoryCache) DeleteSessionHeartbeat(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.heartbeats, userID)
	return nil
}

func (c *MemoryCache) ListOnlineUsers(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := []string{}
	for userID, status := range c.heartbeats {
		if time.Since(status.UpdatedAt) <= TTLSessionHeartbeat {
			users = append(users, userID)
		}
	}
	return users, nil
}

// TokenRevocationCache 方法

func (c *MemoryCache) RevokeToken(ctx context.Context, jti string, ttlSeconds int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[jti] = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	return nil
}

func (c *MemoryCache) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	expiry, ok := c.revoked[jti]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

// 确保 MemoryCache 实现了 Cache 接口
var _ Cache = (*MemoryCache)(nil)
