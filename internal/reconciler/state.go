// Package reconciler は受信イベントを会話の状態に適用します
//
// すべての遷移は純粋な関数で、現在の状態と入力から新しい状態と副作用（描画・永続化・送信）の
// 一覧を返します。副作用の実行はエンジン（internal/chat）が担当します。
// 受け取った State を書き換えることはありません。
package reconciler

import (
	"github.com/Hola62/realtime-chat-app/internal/models"
)

// Phase は会話の参加状態です
type Phase int

const (
	PhaseInactive Phase = iota // 会話なし
	PhaseJoining               // join を送信し、履歴を待っている
	PhaseActive                // 履歴を受信し、ライブ更新を適用中
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseActive:
		return "active"
	default:
		return "inactive"
	}
}

// State は会話まわりのローカルな状態です
type State struct {
	Phase   Phase
	Pending models.RoomKey // 参加中（または参加済み）の会話のルームID

	Messages []models.Message // 表示中の会話のメッセージ（時系列順）
	Deleted  map[int64]bool   // 削除通知を受けたメッセージID（後から届く履歴にも適用）

	MemberCounts map[models.RoomKey]int
	Presence     map[int64]string
	TypingUser   int64
	Typing       bool

	RecentDMs []models.RecentDM
	DMMeta    map[int64]models.DMMeta

	Connected bool
}

// Input は遷移の判断に使うセッション側の値です
type Input struct {
	Self   models.User
	Active models.ConversationRef
}

// NewState は空の状態を返します
func NewState() State {
	return State{
		Deleted:      map[int64]bool{},
		MemberCounts: map[models.RoomKey]int{},
		Presence:     map[int64]string{},
		RecentDMs:    []models.RecentDM{},
		DMMeta:       map[int64]models.DMMeta{},
	}
}

// clone は状態のコピーを返します（遷移関数はコピーだけを書き換える）
func (s State) clone() State {
	out := s
	out.Messages = append([]models.Message(nil), s.Messages...)
	out.Deleted = make(map[int64]bool, len(s.Deleted))
	for k, v := range s.Deleted {
		out.Deleted[k] = v
	}
	out.MemberCounts = make(map[models.RoomKey]int, len(s.MemberCounts))
	for k, v := range s.MemberCounts {
		out.MemberCounts[k] = v
	}
	out.Presence = make(map[int64]string, len(s.Presence))
	for k, v := range s.Presence {
		out.Presence[k] = v
	}
	out.RecentDMs = append([]models.RecentDM{}, s.RecentDMs...)
	out.DMMeta = cloneMeta(s.DMMeta)
	return out
}

func cloneMeta(m map[int64]models.DMMeta) map[int64]models.DMMeta {
	out := make(map[int64]models.DMMeta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// indexOf は表示中のメッセージからIDの位置を探します
func (s State) indexOf(id int64) int {
	for i, m := range s.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Unread は指定ユーザーとのDMの未読数を返します
func (s State) Unread(userID int64) int {
	return s.DMMeta[userID].Unread
}
