package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

// 永続化キー
const (
	KeyAccessToken = "access_token"
	KeyRecentDMs   = "recent_dms"
	KeyDMMetadata  = "dm_metadata"
)

// Local は KV の上に型付きのアクセサを提供します
// 所有権は持たず、書き込みの判断は呼び出し側（Reconciler）が行います
type Local struct {
	kv KV
}

// NewLocal は KV をラップした Local を作成します
func NewLocal(kv KV) *Local {
	return &Local{kv: kv}
}

// Token は保存済みのセッショントークンを返します
// 未保存の場合は ErrNotFound を返します
func (l *Local) Token(ctx context.Context) (string, error) {
	tok, err := l.kv.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", ErrNotFound
	}
	return tok, nil
}

func (l *Local) SetToken(ctx context.Context, token string) error {
	return l.kv.Set(ctx, KeyAccessToken, token)
}

func (l *Local) ClearToken(ctx context.Context) error {
	return l.kv.Remove(ctx, KeyAccessToken)
}

// RecentDMs は最近のDM相手一覧を返します
// 未保存や壊れたデータの場合は空の一覧を返します
func (l *Local) RecentDMs(ctx context.Context) ([]models.RecentDM, error) {
	var list []models.RecentDM
	if err := l.getJSON(ctx, KeyRecentDMs, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.RecentDM{}
	}
	return list, nil
}

func (l *Local) SaveRecentDMs(ctx context.Context, list []models.RecentDM) error {
	return l.setJSON(ctx, KeyRecentDMs, list)
}

// DMMetadata はユーザーIDをキーとしたDMメタデータを返します
func (l *Local) DMMetadata(ctx context.Context) (map[int64]models.DMMeta, error) {
	meta := map[int64]models.DMMeta{}
	if err := l.getJSON(ctx, KeyDMMetadata, &meta); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = map[int64]models.DMMeta{}
	}
	return meta, nil
}

func (l *Local) SaveDMMetadata(ctx context.Context, meta map[int64]models.DMMeta) error {
	return l.setJSON(ctx, KeyDMMetadata, meta)
}

func (l *Local) Close() error {
	return l.kv.Close()
}

func (l *Local) getJSON(ctx context.Context, key string, dst any) error {
	raw, err := l.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		// 壊れた値は破棄して空として扱う
		log.Warningf("Failed to decode stored value, discarding: key=%s, error=%v", key, err)
		return nil
	}
	return nil
}

func (l *Local) setJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.kv.Set(ctx, key, string(b))
}
