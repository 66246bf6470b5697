// Package redis 会话心跳缓存操作
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"anno-admin/internal/shared/cache"
)

// UpdateSessionHeartbeat 更新用户会话心跳
func (s *Store) UpdateSessionHeartbeat(ctx context.Context, userID string, status *cache.SessionStatus) error {
	key := cache.KeySessionHeartbeat + userID

	status.UpdatedAt = time.Now()
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, cache.TTLSessionHeartbeat).Err()
}

// GetSessionHeartbeat 获取用户会话心跳
func (s *Store) GetSessionHeartbeat(ctx context.Context, userID string) (*cache.SessionStatus, error) {
	key := cache.KeySessionHeartbeat + userID

	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var status cache.SessionStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// DeleteSessionHeartbeat 删除用户会话心跳缓存
func (s *Store) DeleteSessionHeartbeat(ctx context.Context, userID string) error {
	key := cache.KeySessionHeartbeat + userID
	return s.client.Del(ctx, key).Err()
}

// ListOnlineUsers 列出在线用户
//
// 使用 SCAN 替代 KEYS，避免在用户数量大时阻塞 Redis
func (s *Store) ListOnlineUsers(ctx context.Context) ([]string, error) {
	pattern := cache.KeySessionHeartbeat + "*"
	var userIDs []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := key[len(cache.KeySessionHeartbeat):]
		userIDs = append(userIDs, userID)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return userIDs, nil
}
