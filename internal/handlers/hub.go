package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	dispatchTimeout = 10 * time.Second
)

// Peer はハブに接続中の1つのクライアント接続です
// WebSocket と Socket.IO の両方の接続がこのインターフェースを実装します
// Emit はブロックしてはいけません（ハブのロック中に呼ばれます）
type Peer interface {
	ID() string
	User() models.User
	Emit(event string, payload any)
}

// errInvalidPayload はイベントのペイロードを読めない場合のエラーです
var errInvalidPayload = errors.New("invalid payload")

type eventHandler func(h *ChatHub, ctx context.Context, p Peer, raw json.RawMessage) error

// ChatHub は接続・ルーム参加・オンライン状態を管理し、イベントを配送します
// すべてのイベントは1つのロックの下で順番に処理されます
type ChatHub struct {
	svc *service.ChatService

	mu     sync.Mutex
	peers  map[string]Peer                    // 接続IDをキー
	byUser map[int64]map[string]Peer          // ユーザーごとの接続
	rooms  map[models.RoomKey]map[string]Peer // ルーム（DM含む）ごとの参加接続
	routes map[string]eventHandler
}

func NewChatHub(svc *service.ChatService) *ChatHub {
	h := &ChatHub{
		svc:    svc,
		peers:  make(map[string]Peer),
		byUser: make(map[int64]map[string]Peer),
		rooms:  make(map[models.RoomKey]map[string]Peer),
	}
	h.routes = map[string]eventHandler{
		realtime.EventJoinRoom:           (*ChatHub).joinRoom,
		realtime.EventLeaveRoom:          (*ChatHub).leaveRoom,
		realtime.EventGetMessages:        (*ChatHub).getMessages,
		realtime.EventSendMessage:        (*ChatHub).sendMessage,
		realtime.EventTyping:             (*ChatHub).typing,
		realtime.EventDeleteMessage:      (*ChatHub).deleteMessage,
		realtime.EventJoinPrivateChat:    (*ChatHub).joinPrivateChat,
		realtime.EventLeavePrivateChat:   (*ChatHub).leavePrivateChat,
		realtime.EventGetPrivateMessages: (*ChatHub).getPrivateMessages,
		realtime.EventSendPrivateMessage: (*ChatHub).sendPrivateMessage,
		realtime.EventPrivateTyping:      (*ChatHub).privateTyping,
		realtime.EventCheckUserStatus:    (*ChatHub).checkUserStatus,
		realtime.EventUserOnline:         (*ChatHub).userOnline,
	}
	return h
}

// Events はハブが受け付けるイベント名の一覧を返します
func (h *ChatHub) Events() []string {
	names := make([]string, 0, len(h.routes))
	for name := range h.routes {
		names = append(names, name)
	}
	return names
}

// Connect は接続を登録します
// ユーザーの最初の接続であれば、他のユーザーにオンラインになったことを通知します
func (h *ChatHub) Connect(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	u := p.User()
	first := len(h.byUser[u.ID]) == 0
	h.peers[p.ID()] = p
	if h.byUser[u.ID] == nil {
		h.byUser[u.ID] = make(map[string]Peer)
	}
	h.byUser[u.ID][p.ID()] = p

	p.Emit(realtime.EventConnected, realtime.Connected{Message: "Connected to chat server", SID: p.ID()})
	if first {
		h.toOthers(u.ID, realtime.EventUserStatusChanged, statusPayload(u, StatusOnline))
	}
	log.Infof("Peer connected: connId=%s, userId=%d, peers=%d", p.ID(), u.ID, len(h.peers))
}

// Disconnect は接続を解除し、参加中のルームから退出させます
func (h *ChatHub) Disconnect(p Peer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.peers[p.ID()]; !ok {
		return
	}
	u := p.User()
	for key, members := range h.rooms {
		if _, ok := members[p.ID()]; !ok {
			continue
		}
		h.removeMember(key, p)
		if !key.IsPrivate() {
			n := h.memberCount(key)
			h.toRoom(key, "", realtime.EventUserLeft, realtime.Membership{
				RoomID: key, UserID: u.ID, MemberCount: &n,
				Message: fmt.Sprintf("%s left the room", u.DisplayName()),
			})
		}
	}
	delete(h.peers, p.ID())
	delete(h.byUser[u.ID], p.ID())
	if len(h.byUser[u.ID]) == 0 {
		delete(h.byUser, u.ID)
		h.toOthers(u.ID, realtime.EventUserStatusChanged, statusPayload(u, StatusOffline))
	}
	log.Infof("Peer disconnected: connId=%s, userId=%d, peers=%d", p.ID(), u.ID, len(h.peers))
}

// Dispatch は接続から受信した1件のイベントを処理します
// 失敗した場合は送信元に error イベントを返します
func (h *ChatHub) Dispatch(p Peer, event string, raw json.RawMessage) {
	route, ok := h.routes[event]
	if !ok {
		log.Warningf("Unknown event: connId=%s, event=%s", p.ID(), event)
		p.Emit(realtime.EventError, realtime.Error{Message: "Unknown event: " + event})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[p.ID()]; !ok {
		return
	}
	if err := route(h, ctx, p, raw); err != nil {
		h.emitError(p, event, err)
	}
}

// DropRoom は削除されたルームの参加者全員をルームから外します
func (h *ChatHub) DropRoom(key models.RoomKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.rooms[key] {
		p.Emit(realtime.EventLeftRoom, realtime.Membership{RoomID: key, Message: "Room was deleted", Deleted: true})
	}
	delete(h.rooms, key)
}

// Status はユーザーのオンライン状態を返します
func (h *ChatHub) Status(userID int64) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status(userID)
}

func (h *ChatHub) status(userID int64) string {
	if len(h.byUser[userID]) > 0 {
		return StatusOnline
	}
	return StatusOffline
}

func (h *ChatHub) emitError(p Peer, event string, err error) {
	switch {
	case errors.Is(err, errInvalidPayload),
		errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrNotMessageOwner),
		errors.Is(err, service.ErrInvalidRoomName),
		errors.Is(err, service.ErrInvalidContent),
		errors.Is(err, service.ErrInvalidPrivateRoom):
		log.Debugf("Event rejected: connId=%s, event=%s, error=%v", p.ID(), event, err)
		p.Emit(realtime.EventError, realtime.Error{Message: clientMessage(err)})
	default:
		log.Errorf("Event failed: connId=%s, event=%s, error=%v", p.ID(), event, err)
		p.Emit(realtime.EventError, realtime.Error{Message: "Internal server error"})
	}
}

// 配送ヘルパー（呼び出し側でロックを保持すること）

func (h *ChatHub) toRoom(key models.RoomKey, except, event string, payload any) {
	for id, p := range h.rooms[key] {
		if id != except {
			p.Emit(event, payload)
		}
	}
}

func (h *ChatHub) toUser(userID int64, event string, payload any) {
	for _, p := range h.byUser[userID] {
		p.Emit(event, payload)
	}
}

func (h *ChatHub) toOthers(userID int64, event string, payload any) {
	for _, p := range h.peers {
		if p.User().ID != userID {
			p.Emit(event, payload)
		}
	}
}

func (h *ChatHub) addMember(key models.RoomKey, p Peer) {
	if h.rooms[key] == nil {
		h.rooms[key] = make(map[string]Peer)
	}
	h.rooms[key][p.ID()] = p
}

func (h *ChatHub) removeMember(key models.RoomKey, p Peer) {
	delete(h.rooms[key], p.ID())
	if len(h.rooms[key]) == 0 {
		delete(h.rooms, key)
	}
}

func (h *ChatHub) isMember(key models.RoomKey, p Peer) bool {
	_, ok := h.rooms[key][p.ID()]
	return ok
}

// memberCount はルームに参加しているユーザー数です（同じユーザーの複数接続は1人）
func (h *ChatHub) memberCount(key models.RoomKey) int {
	users := make(map[int64]struct{})
	for _, p := range h.rooms[key] {
		users[p.User().ID] = struct{}{}
	}
	return len(users)
}

// userInRoom はユーザーのいずれかの接続がルームに参加しているかを返します
func (h *ChatHub) userInRoom(key models.RoomKey, userID int64) bool {
	for _, p := range h.rooms[key] {
		if p.User().ID == userID {
			return true
		}
	}
	return false
}

func statusPayload(u models.User, status string) realtime.UserStatus {
	pub := models.User{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, AvatarURL: u.AvatarURL, Status: status}
	return realtime.UserStatus{UserID: u.ID, Status: status, User: &pub}
}

func decodePayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	return nil
}

func nonNil(msgs []models.Message) []models.Message {
	if msgs == nil {
		return []models.Message{}
	}
	return msgs
}
