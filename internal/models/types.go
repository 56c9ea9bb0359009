package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RoomKey はトランスポート上のルーム識別子です
// グループルームは数値（"12"）、DMは "private_<小>_<大>" の形式になります
type RoomKey string

// RoomKeyFromID は数値のルームIDから RoomKey を作成します
func RoomKeyFromID(id int64) RoomKey {
	return RoomKey(strconv.FormatInt(id, 10))
}

// IsPrivate はDMルームかどうかを返します
func (k RoomKey) IsPrivate() bool {
	return strings.HasPrefix(string(k), "private_")
}

// MarshalJSON は数値のキーをJSONの数値として、それ以外を文字列として出力します
func (k RoomKey) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(k), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(k))
}

// UnmarshalJSON は数値・文字列のどちらも受け付けます
func (k *RoomKey) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*k = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*k = RoomKey(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("room key: %w", err)
	}
	*k = RoomKey(n.String())
	return nil
}

// timestampLayouts はサーバーが返しうる日時フォーマットです
// バックエンドはタイムゾーンなしのISO形式を返すことがあります
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Timestamp は柔軟にパースできる日時です（null 可）
type Timestamp struct {
	time.Time
}

// NewTimestamp は time.Time から Timestamp を作成します
func NewTimestamp(t time.Time) Timestamp { return Timestamp{Time: t} }

// MarshalJSON はRFC3339形式で出力し、ゼロ値は null にします
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON は複数のフォーマットを順に試します
// タイムゾーンが無い場合はUTCとして扱います
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", s)
}
