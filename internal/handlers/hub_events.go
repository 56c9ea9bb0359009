package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

// グループルーム

func (h *ChatHub) joinRoom(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.JoinRoom
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	room, err := h.svc.ResolveRoom(ctx, in.RoomID)
	if err != nil {
		return err
	}
	key := room.Key()
	h.addMember(key, p)
	n := h.memberCount(key)

	p.Emit(realtime.EventJoinedRoom, realtime.Membership{
		RoomID: key, RoomName: room.Name, MemberCount: &n,
		Message: fmt.Sprintf("Joined room %s", room.Name),
	})
	h.toRoom(key, p.ID(), realtime.EventUserJoined, realtime.Membership{
		RoomID: key, UserID: p.User().ID, MemberCount: &n,
		Message: fmt.Sprintf("%s joined the room", p.User().DisplayName()),
	})
	log.Debugf("Joined room: connId=%s, roomId=%s, members=%d", p.ID(), key, n)
	return nil
}

func (h *ChatHub) leaveRoom(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.LeaveRoom
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	if !h.isMember(in.RoomID, p) {
		return nil
	}
	h.removeMember(in.RoomID, p)
	n := h.memberCount(in.RoomID)

	p.Emit(realtime.EventLeftRoom, realtime.Membership{RoomID: in.RoomID, MemberCount: &n, Message: "Left the room"})
	h.toRoom(in.RoomID, p.ID(), realtime.EventUserLeft, realtime.Membership{
		RoomID: in.RoomID, UserID: p.User().ID, MemberCount: &n,
		Message: fmt.Sprintf("%s left the room", p.User().DisplayName()),
	})
	return nil
}

func (h *ChatHub) getMessages(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.GetMessages
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	msgs, err := h.svc.History(ctx, in.RoomID, in.Limit)
	if err != nil {
		return err
	}
	p.Emit(realtime.EventMessagesHistory, realtime.MessagesHistory{RoomID: in.RoomID, Messages: nonNil(msgs)})
	return nil
}

func (h *ChatHub) sendMessage(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.SendMessage
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	m, err := h.svc.SendRoomMessage(ctx, p.User(), in.RoomID, in.Content)
	if err != nil {
		return err
	}
	env := realtime.MessageEnvelope{Message: m}
	h.toRoom(m.RoomID, "", realtime.EventNewMessage, env)
	if !h.isMember(m.RoomID, p) {
		p.Emit(realtime.EventNewMessage, env)
	}
	return nil
}

func (h *ChatHub) typing(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.Typing
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	if !h.isMember(in.RoomID, p) {
		return nil
	}
	h.toRoom(in.RoomID, p.ID(), realtime.EventUserTyping, realtime.UserTyping{
		UserID: p.User().ID, RoomID: in.RoomID, IsTyping: in.IsTyping,
	})
	return nil
}

// deleteMessage はメッセージを削除済みにして、同じ会話の参加者に通知します
func (h *ChatHub) deleteMessage(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.DeleteMessage
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	m, err := h.svc.DeleteMessage(ctx, p.User(), in.MessageID)
	if err != nil {
		return err
	}
	out := realtime.MessageDeleted{MessageID: m.ID, RoomID: m.RoomID}
	if m.RoomID.IsPrivate() {
		h.toUser(m.UserID, realtime.EventMessageDeleted, out)
		h.toUser(m.ReceiverID, realtime.EventMessageDeleted, out)
		return nil
	}
	h.toRoom(m.RoomID, "", realtime.EventMessageDeleted, out)
	if !h.isMember(m.RoomID, p) {
		p.Emit(realtime.EventMessageDeleted, out)
	}
	return nil
}

// DM

// privateRoom は相手のIDからDMルームを求め、クライアントが送ったIDと一致するか確認します
func (h *ChatHub) privateRoom(ctx context.Context, p Peer, claimed models.RoomKey, other int64) (models.RoomKey, error) {
	key, err := h.svc.PrivateRoom(ctx, p.User().ID, other)
	if err != nil {
		return "", err
	}
	if claimed != "" && claimed != key {
		return "", service.ErrInvalidPrivateRoom
	}
	return key, nil
}

// markRead は reader 宛ての未読を既読にし、送信者に既読を通知します
func (h *ChatHub) markRead(ctx context.Context, key models.RoomKey, reader, sender int64) error {
	n, err := h.svc.MarkRead(ctx, key, reader)
	if err != nil {
		return err
	}
	if n > 0 {
		h.toUser(sender, realtime.EventMessagesRead, realtime.MessagesRead{RoomID: key, ReaderID: reader})
	}
	return nil
}

func (h *ChatHub) joinPrivateChat(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.JoinPrivateChat
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	key, err := h.privateRoom(ctx, p, in.RoomID, in.OtherUserID)
	if err != nil {
		return err
	}
	h.addMember(key, p)
	p.Emit(realtime.EventJoinedPrivateChat, realtime.JoinedPrivateChat{RoomID: key, OtherUserID: in.OtherUserID})
	return h.markRead(ctx, key, p.User().ID, in.OtherUserID)
}

func (h *ChatHub) leavePrivateChat(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.LeavePrivateChat
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	if h.isMember(in.RoomID, p) {
		h.removeMember(in.RoomID, p)
	}
	return nil
}

func (h *ChatHub) getPrivateMessages(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.GetPrivateMessages
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	key, err := h.privateRoom(ctx, p, in.RoomID, in.OtherUserID)
	if err != nil {
		return err
	}
	if err := h.markRead(ctx, key, p.User().ID, in.OtherUserID); err != nil {
		return err
	}
	msgs, err := h.svc.History(ctx, key, in.Limit)
	if err != nil {
		return err
	}
	p.Emit(realtime.EventPrivateMessagesHistory, realtime.PrivateMessagesHistory{
		RoomID: key, OtherUserID: in.OtherUserID, Messages: nonNil(msgs),
	})
	return nil
}

// sendPrivateMessage はDMを保存して双方の全接続に配送します
// 相手が会話を開いている場合はその場で既読にします
func (h *ChatHub) sendPrivateMessage(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.SendPrivateMessage
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	key, err := h.privateRoom(ctx, p, in.RoomID, in.OtherUserID)
	if err != nil {
		return err
	}
	self := p.User()
	m, err := h.svc.SendPrivateMessage(ctx, self, in.OtherUserID, in.Content)
	if err != nil {
		return err
	}
	env := realtime.MessageEnvelope{Message: m}
	h.toUser(self.ID, realtime.EventPrivateMessage, env)
	h.toUser(in.OtherUserID, realtime.EventPrivateMessage, env)

	if h.userInRoom(key, in.OtherUserID) {
		return h.markRead(ctx, key, in.OtherUserID, self.ID)
	}
	return nil
}

func (h *ChatHub) privateTyping(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.PrivateTyping
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	if in.OtherUserID <= 0 || in.OtherUserID == p.User().ID {
		return service.ErrInvalidPrivateRoom
	}
	h.toUser(in.OtherUserID, realtime.EventPrivateUserTyping, realtime.PrivateUserTyping{
		UserID: p.User().ID, IsTyping: in.IsTyping,
	})
	return nil
}

// プレゼンス

func (h *ChatHub) checkUserStatus(ctx context.Context, p Peer, raw json.RawMessage) error {
	var in realtime.CheckUserStatus
	if err := decodePayload(raw, &in); err != nil {
		return err
	}
	p.Emit(realtime.EventUserStatusResponse, realtime.UserStatus{UserID: in.UserID, Status: h.status(in.UserID)})
	return nil
}

func (h *ChatHub) userOnline(ctx context.Context, p Peer, raw json.RawMessage) error {
	u := p.User()
	h.toOthers(u.ID, realtime.EventUserStatusUpdate, realtime.UserStatus{UserID: u.ID, Status: StatusOnline})
	return nil
}
