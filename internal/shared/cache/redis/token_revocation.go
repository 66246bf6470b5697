// Package redis 令牌撤销缓存操作
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"anno-admin/internal/shared/cache"
)

// RevokeToken 按 JWT ID 写入撤销标记
//
// TTL 对齐令牌剩余有效期：令牌自然过期后标记随之消失，
// 撤销集不会无限增长。
func (s *Store) RevokeToken(ctx context.Context, jti string, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		// 令牌已过期，无需标记
		return nil
	}
	key := cache.KeyRevokedToken + jti
	return s.client.Set(ctx, key, "1", time.Duration(ttlSeconds)*time.Second).Err()
}

// IsTokenRevoked 查询令牌是否已被撤销
func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	key := cache.KeyRevokedToken + jti
	_, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// 确保 Store 实现了 Cache 接口
var _ cache.Cache = (*Store)(nil)
