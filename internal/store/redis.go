package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisをバックエンドとするストアです
type RedisStore struct {
	rdb       *redis.Client
	namespace string
}

// NewRedisStore は既存の Redis クライアントから RedisStore を作成します
func NewRedisStore(rdb *redis.Client, namespace string) *RedisStore {
	return &RedisStore{rdb: rdb, namespace: namespace}
}

// OpenRedisStore は Redis に接続し、疎通確認をしてから RedisStore を返します
func OpenRedisStore(ctx context.Context, addr, namespace string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     4,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	log.Infof("connected to redis addr=%s", addr)
	return NewRedisStore(rdb, namespace), nil
}

func (rs *RedisStore) key(k string) string {
	if rs.namespace == "" {
		return fmt.Sprintf("chat:%s", k)
	}
	return fmt.Sprintf("chat:%s:%s", rs.namespace, k)
}

func (rs *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := rs.rdb.Get(ctx, rs.key(key)).Result()
	if errors.Is(err, redis.Nil) { // データがない
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set は有効期限なしで保存します
func (rs *RedisStore) Set(ctx context.Context, key, value string) error {
	return rs.rdb.Set(ctx, rs.key(key), value, 0).Err()
}

func (rs *RedisStore) Remove(ctx context.Context, key string) error {
	return rs.rdb.Del(ctx, rs.key(key)).Err()
}

func (rs *RedisStore) Close() error {
	return rs.rdb.Close()
}
