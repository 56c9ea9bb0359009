// Package realtime はバックエンドとの常時接続（名前付きイベント）を扱います
// イベント名とペイロードの契約、接続状態、トランスポートの実装を提供します
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

// ローカルで合成される接続イベント
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// クライアントから送信するイベント
const (
	EventJoinRoom           = "join_room"
	EventLeaveRoom          = "leave_room"
	EventGetMessages        = "get_messages"
	EventSendMessage        = "send_message"
	EventTyping             = "typing"
	EventDeleteMessage      = "delete_message"
	EventJoinPrivateChat    = "join_private_chat"
	EventLeavePrivateChat   = "leave_private_chat"
	EventGetPrivateMessages = "get_private_messages"
	EventSendPrivateMessage = "send_private_message"
	EventPrivateTyping      = "private_typing"
	EventCheckUserStatus    = "check_user_status"
	EventUserOnline         = "user_online"
)

// サーバーから受信するイベント
const (
	EventConnected              = "connected"
	EventJoinedRoom             = "joined_room"
	EventUserJoined             = "user_joined"
	EventUserLeft               = "user_left"
	EventLeftRoom               = "left_room"
	EventNewMessage             = "new_message"
	EventMessagesHistory        = "messages_history"
	EventMessageDeleted         = "message_deleted"
	EventUserTyping             = "user_typing"
	EventPrivateUserTyping      = "private_user_typing"
	EventUserStatusChanged      = "user_status_changed"
	EventUserStatusUpdate       = "user_status_update"
	EventUserStatusResponse     = "user_status_response"
	EventPrivateMessage         = "private_message"
	EventPrivateMessagesHistory = "private_messages_history"
	EventJoinedPrivateChat      = "joined_private_chat"
	EventMessagesRead           = "messages_read"
	EventError                  = "error"
)

// Event は受信した1件のイベントです
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Decode はペイロードを dst にデコードします
func (e Event) Decode(dst any) error {
	if len(bytes.TrimSpace(e.Payload)) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(e.Payload, dst)
}

// 送信ペイロード

type JoinRoom struct {
	RoomID models.RoomKey `json:"room_id"`
}

type LeaveRoom struct {
	RoomID models.RoomKey `json:"room_id"`
}

type GetMessages struct {
	RoomID models.RoomKey `json:"room_id"`
	Limit  int            `json:"limit"`
}

type SendMessage struct {
	RoomID  models.RoomKey `json:"room_id"`
	Content string         `json:"content"`
}

type Typing struct {
	RoomID   models.RoomKey `json:"room_id"`
	IsTyping bool           `json:"is_typing"`
}

type DeleteMessage struct {
	MessageID int64          `json:"message_id"`
	RoomID    models.RoomKey `json:"room_id"`
}

type JoinPrivateChat struct {
	RoomID      models.RoomKey `json:"room_id"`
	OtherUserID int64          `json:"other_user_id"`
}

type LeavePrivateChat struct {
	RoomID models.RoomKey `json:"room_id"`
}

type GetPrivateMessages struct {
	RoomID      models.RoomKey `json:"room_id"`
	OtherUserID int64          `json:"other_user_id"`
	Limit       int            `json:"limit"`
}

type SendPrivateMessage struct {
	RoomID      models.RoomKey `json:"room_id"`
	OtherUserID int64          `json:"other_user_id"`
	Content     string         `json:"content"`
}

type PrivateTyping struct {
	RoomID      models.RoomKey `json:"room_id"`
	OtherUserID int64          `json:"other_user_id"`
	IsTyping    bool           `json:"is_typing"`
}

type CheckUserStatus struct {
	UserID int64 `json:"user_id"`
}

type UserOnline struct{}

// 受信ペイロード

type Connected struct {
	Message string `json:"message,omitempty"`
	SID     string `json:"sid,omitempty"`
}

// Membership は joined_room / user_joined / user_left / left_room の共通ペイロードです
// member_count はサーバーが送らない場合があるためポインタで保持します
type Membership struct {
	RoomID      models.RoomKey `json:"room_id"`
	RoomName    string         `json:"room_name,omitempty"`
	UserID      int64          `json:"user_id,omitempty"`
	MemberCount *int           `json:"member_count,omitempty"`
	Message     string         `json:"message,omitempty"`
	Deleted     bool           `json:"deleted,omitempty"` // left_room: ルーム自体が削除された
}

type MessagesHistory struct {
	RoomID   models.RoomKey   `json:"room_id"`
	Messages []models.Message `json:"messages"`
}

type PrivateMessagesHistory struct {
	RoomID      models.RoomKey   `json:"room_id,omitempty"`
	OtherUserID int64            `json:"other_user_id,omitempty"`
	Messages    []models.Message `json:"messages"`
}

type MessageDeleted struct {
	MessageID int64          `json:"message_id"`
	RoomID    models.RoomKey `json:"room_id,omitempty"`
}

type UserTyping struct {
	UserID   int64          `json:"user_id,omitempty"`
	RoomID   models.RoomKey `json:"room_id,omitempty"`
	IsTyping bool           `json:"is_typing"`
}

type PrivateUserTyping struct {
	UserID   int64 `json:"user_id"`
	IsTyping bool  `json:"is_typing"`
}

// UserStatus は user_status_changed / user_status_update / user_status_response の共通ペイロードです
type UserStatus struct {
	UserID int64        `json:"user_id"`
	Status string       `json:"status"`
	User   *models.User `json:"user,omitempty"`
}

type JoinedPrivateChat struct {
	RoomID      models.RoomKey `json:"room_id,omitempty"`
	OtherUserID int64          `json:"other_user_id,omitempty"`
}

type MessagesRead struct {
	RoomID   models.RoomKey `json:"room_id,omitempty"`
	ReaderID int64          `json:"reader_id,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

// MessageEnvelope は new_message / private_message の送信形式です
type MessageEnvelope struct {
	Message models.Message `json:"message"`
}

// ErrMissingMessage はメッセージのペイロードに必須項目が無い場合に返されます
var ErrMissingMessage = errors.New("message payload has no id")

// DecodeMessage は new_message / private_message のペイロードからメッセージを取り出します
// {"message": {...}} 形式とメッセージ本体をそのまま送る形式の両方を受け付けます
func DecodeMessage(raw json.RawMessage) (models.Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.Message{}, err
	}
	if inner, ok := fields["message"]; ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
		raw = inner
	}
	var m models.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.Message{}, err
	}
	if m.ID == 0 {
		return models.Message{}, ErrMissingMessage
	}
	return m, nil
}
