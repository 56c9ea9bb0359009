// Package models はクライアント全体で使用するデータ構造を定義します
package models

import (
	"fmt"
	"sort"
	"strings"
)

// User はチャットのユーザー情報を表します
// 一度取得したら不変として扱い、ID がすべての参照キーになります
type User struct {
	ID        int64  `json:"id"`                   // ユーザーの一意な識別子
	FirstName string `json:"first_name"`           // 名
	LastName  string `json:"last_name"`            // 姓
	Email     string `json:"email,omitempty"`      // メールアドレス（オプショナル）
	AvatarURL string `json:"avatar_url,omitempty"` // アイコン画像URL（オプショナル）
	Status    string `json:"status,omitempty"`     // プレゼンス（online / offline など）
}

// DisplayName は表示用の氏名を返します
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return fmt.Sprintf("User %d", u.ID)
	}
	return name
}

// Initials はアバター表示用のイニシャルを返します
func (u User) Initials() string {
	var b strings.Builder
	for _, s := range []string{u.FirstName, u.LastName} {
		for _, r := range s {
			b.WriteRune(r)
			break
		}
	}
	return strings.ToUpper(b.String())
}

// Room はグループチャットのルームを表します
type Room struct {
	ID        int64     `json:"id"`                   // ルームID
	Name      string    `json:"name"`                 // ルーム名
	CreatedBy int64     `json:"created_by,omitempty"` // 作成者のユーザーID
	CreatedAt Timestamp `json:"created_at,omitempty"` // 作成日時
	Creator   User      `json:"creator"`              // 作成者
}

// Key はリアルタイム通信で使うルーム識別子を返します
func (r Room) Key() RoomKey {
	return RoomKeyFromID(r.ID)
}

// Message はルームまたはDMに属する1件のメッセージです
type Message struct {
	ID         int64     `json:"id"`
	RoomID     RoomKey   `json:"room_id,omitempty"`
	UserID     int64     `json:"user_id"`
	ReceiverID int64     `json:"receiver_id,omitempty"` // DMの受信者（グループでは0）
	User       User      `json:"user"`
	Content    string    `json:"content"`
	Timestamp  Timestamp `json:"timestamp"`
	Deleted    bool      `json:"deleted,omitempty"`
	ReadStatus bool      `json:"read_status,omitempty"`
}

// Peer は selfID から見たDMの相手のIDを返します
func (m Message) Peer(selfID int64) int64 {
	if m.UserID == selfID {
		return m.ReceiverID
	}
	return m.UserID
}

// RecentDM は最近やり取りしたDM相手の一覧の1要素です
type RecentDM struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AvatarURL string `json:"avatar_url"`
}

// RecentDMFromUser は User から RecentDM を作成します
func RecentDMFromUser(u User) RecentDM {
	return RecentDM{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, AvatarURL: u.AvatarURL}
}

// User は RecentDM を User に戻します
func (r RecentDM) User() User {
	return User{ID: r.ID, FirstName: r.FirstName, LastName: r.LastName, AvatarURL: r.AvatarURL}
}

// DMMeta はDM相手ごとの未読数と最終メッセージのプレビューです
type DMMeta struct {
	Unread      int       `json:"unread"`
	LastMessage string    `json:"lastMessage"`
	LastTime    Timestamp `json:"lastTime"`
}

// DMRoomID は2人のユーザーIDから決定的にDMルームIDを導出します
// 昇順に並べて連結するため、どちらの参加者が計算しても同じ値になります
func DMRoomID(a, b int64) RoomKey {
	ids := []int64{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return RoomKey(fmt.Sprintf("private_%d_%d", ids[0], ids[1]))
}
