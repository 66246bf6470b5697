// Package redis 缓存层的 Redis 实现
//
// 承载两类易失状态：
//   - 会话心跳：TTL 键，键存在即用户在线，是清扫器落库对账的快路径
//   - 令牌吊销：登出后 JWT 剩余有效期内的黑名单
//
// 两者丢了都能安全重建（心跳靠下一次刷新，吊销靠令牌自然过期），
// 所以不做持久化要求。
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 基于 Redis 的会话缓存
type Store struct {
	client *redis.Client
}

// NewStore 按地址连接 Redis
func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	log.Printf("[Redis/SessionCache] Connected to %s", addr)
	return &Store{client: client}, nil
}

// NewStoreFromURL 按连接 URL 连接 Redis
func NewStoreFromURL(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	log.Printf("[Redis/SessionCache] Connected to %s", opts.Addr)
	return &Store{client: client}, nil
}

// NewStoreFromClient 复用现有 Redis 客户端
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *Store) Client() *redis.Client {
	return s.client
}
