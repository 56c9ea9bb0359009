// Package store はセッショントークンやDM一覧などを永続化するキーバリューストアを提供します
// 値はすべて文字列（JSONシリアライズ済み）として扱います
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("store")

// ErrNotFound はキーが存在しない場合に返されます
var ErrNotFound = errors.New("key not found")

// KV は永続化されたキーバリュー文字列ストアのインターフェースです
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// Kind はストアのバックエンド種別です
type Kind string

const (
	KindMemory Kind = "memory"
	KindRedis  Kind = "redis"
	KindSQLite Kind = "sqlite"
	KindMySQL  Kind = "mysql"
)

// Options は Open に渡す接続設定です
type Options struct {
	Kind      Kind
	RedisAddr string
	DSN       string // sqlite のファイルパス、または mysql のDSN
	Namespace string // キーの接頭辞（複数アカウントの分離用）
}

// Open は Options に従ってストアを作成します
func Open(ctx context.Context, opts Options) (KV, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryStore(), nil
	case KindRedis:
		return OpenRedisStore(ctx, opts.RedisAddr, opts.Namespace)
	case KindSQLite, KindMySQL:
		return OpenSQLStore(opts.Kind, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}
}

// MemoryStore はプロセス内だけで保持するストアです
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore は空の MemoryStore を作成します
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
