package realtime

import "github.com/Hola62/realtime-chat-app/internal/models"

// Command は送信する1件のイベントです
type Command struct {
	Event   string
	Payload any
}

// JoinCommands は会話に参加するためのコマンド（参加→履歴要求）を返します
func JoinCommands(ref models.ConversationRef, selfID int64, limit int) []Command {
	key := ref.Key(selfID)
	switch ref.Kind {
	case models.KindRoom:
		return []Command{
			{EventJoinRoom, JoinRoom{RoomID: key}},
			{EventGetMessages, GetMessages{RoomID: key, Limit: limit}},
		}
	case models.KindDirect:
		return []Command{
			{EventJoinPrivateChat, JoinPrivateChat{RoomID: key, OtherUserID: ref.Peer.ID}},
			{EventGetPrivateMessages, GetPrivateMessages{RoomID: key, OtherUserID: ref.Peer.ID, Limit: limit}},
		}
	}
	return nil
}

// LeaveCommand は会話から抜けるコマンドを返します
func LeaveCommand(ref models.ConversationRef, selfID int64) (Command, bool) {
	key := ref.Key(selfID)
	switch ref.Kind {
	case models.KindRoom:
		return Command{EventLeaveRoom, LeaveRoom{RoomID: key}}, true
	case models.KindDirect:
		return Command{EventLeavePrivateChat, LeavePrivateChat{RoomID: key}}, true
	}
	return Command{}, false
}

// SendCommand はメッセージ送信コマンドを返します
func SendCommand(ref models.ConversationRef, selfID int64, content string) (Command, bool) {
	key := ref.Key(selfID)
	switch ref.Kind {
	case models.KindRoom:
		return Command{EventSendMessage, SendMessage{RoomID: key, Content: content}}, true
	case models.KindDirect:
		return Command{EventSendPrivateMessage, SendPrivateMessage{RoomID: key, OtherUserID: ref.Peer.ID, Content: content}}, true
	}
	return Command{}, false
}

// TypingCommand は入力中インジケーターのコマンドを返します
func TypingCommand(ref models.ConversationRef, selfID int64, typing bool) (Command, bool) {
	key := ref.Key(selfID)
	switch ref.Kind {
	case models.KindRoom:
		return Command{EventTyping, Typing{RoomID: key, IsTyping: typing}}, true
	case models.KindDirect:
		return Command{EventPrivateTyping, PrivateTyping{RoomID: key, OtherUserID: ref.Peer.ID, IsTyping: typing}}, true
	}
	return Command{}, false
}

// DeleteCommand はメッセージ削除コマンドを返します
func DeleteCommand(ref models.ConversationRef, selfID, messageID int64) Command {
	return Command{EventDeleteMessage, DeleteMessage{MessageID: messageID, RoomID: ref.Key(selfID)}}
}

// CheckStatusCommand はユーザーのオンライン状態を問い合わせます
func CheckStatusCommand(userID int64) Command {
	return Command{EventCheckUserStatus, CheckUserStatus{UserID: userID}}
}
