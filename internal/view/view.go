// Package view は会話の状態を画面に描画する Renderer を定義します
package view

import (
	"github.com/Hola62/realtime-chat-app/internal/models"
)

// DeletedPlaceholder は削除済みメッセージの代わりに表示する固定の文言です
const DeletedPlaceholder = "This message was deleted"

// Level は通知の種類です
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Renderer はエンジンから描画指示を受け取ります
// すべてのメソッドはエンジンのイベントループから呼ばれます
type Renderer interface {
	ShowConversation(ref models.ConversationRef)
	ShowHistory(msgs []models.Message)
	AppendMessage(m models.Message)
	MarkDeleted(messageID int64)
	ShowMemberCount(room models.RoomKey, count int)
	ShowTyping(userID int64, typing bool)
	ShowPresence(userID int64, status string)
	MarkRead()
	ShowNotice(text string)
	Notify(level Level, text string)
	ShowConnectivity(connected bool)
	ShowRecentDMs(list []models.RecentDM, meta map[int64]models.DMMeta)
	ShowRooms(rooms []models.Room)
	ShowSearchResults(users []models.User)
	ShowCurrentUser(u models.User)
	RequireLogin(reason string)
}

// Body は表示用の本文を返します
// 削除済みのメッセージは元の本文に関係なく固定の文言になります
func Body(m models.Message) string {
	if m.Deleted {
		return DeletedPlaceholder
	}
	return Sanitize(m.Content)
}
