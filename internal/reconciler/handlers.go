package reconciler

import (
	"fmt"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

func decode(ev realtime.Event, dst any) error {
	if err := ev.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func (r *Reconciler) onConnect(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	next := s.clone()
	next.Connected = true
	return next, []Effect{RenderConnectivity{Connected: true}}, nil
}

func (r *Reconciler) onDisconnect(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	next := s.clone()
	next.Connected = false
	next.Typing = false
	return next, []Effect{RenderConnectivity{Connected: false}}, nil
}

func (r *Reconciler) onConnected(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.Connected
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	log.Debugf("Server acknowledged connection: sid=%s", p.SID)
	return s, nil, nil
}

// setMemberCount は人数を更新し、表示中のルームであれば描画します
func setMemberCount(s *State, in Input, p realtime.Membership) []Effect {
	if p.MemberCount == nil || p.RoomID == "" {
		return nil
	}
	s.MemberCounts[p.RoomID] = *p.MemberCount
	if in.Active.IsRoom(p.RoomID) {
		return []Effect{RenderMemberCount{Room: p.RoomID, Count: *p.MemberCount}}
	}
	return nil
}

func (r *Reconciler) onJoinedRoom(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.Membership
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if p.RoomID == "" {
		return s, nil, malformed("joined_room without room_id")
	}
	next := s.clone()
	effects := setMemberCount(&next, in, p)

	name := p.RoomName
	if name == "" && in.Active.IsRoom(p.RoomID) {
		name = in.Active.Room.Name
	}
	if name != "" {
		effects = append(effects, Notify{Level: view.LevelSuccess, Text: "Joined " + name})
	}
	return next, effects, nil
}

func (r *Reconciler) onMembership(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.Membership
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if p.RoomID == "" {
		return s, nil, malformed("%s without room_id", ev.Name)
	}
	next := s.clone()
	effects := setMemberCount(&next, in, p)

	if in.Active.IsRoom(p.RoomID) && p.UserID != in.Self.ID {
		text := p.Message
		if text == "" {
			verb := "joined"
			if ev.Name == realtime.EventUserLeft {
				verb = "left"
			}
			text = fmt.Sprintf("User %d %s the room", p.UserID, verb)
		}
		effects = append(effects, RenderNotice{Text: text})
	}
	return next, effects, nil
}

func (r *Reconciler) onLeftRoom(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.Membership
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	next := s.clone()
	effects := setMemberCount(&next, in, p)
	if p.Deleted {
		log.Infof("Room removed by server: roomId=%s", p.RoomID)
		return next, append(effects, RoomRemoved{Room: p.RoomID}), nil
	}
	log.Debugf("Left room: roomId=%s", p.RoomID)
	return next, effects, nil
}

// appendLive はライブのメッセージを表示中の一覧に追加します
// 同じIDが既にある場合は追加しません（再送への耐性）
func appendLive(s *State, m models.Message) []Effect {
	if s.indexOf(m.ID) >= 0 {
		log.Debugf("Duplicate message ignored: messageId=%d", m.ID)
		return nil
	}
	if s.Deleted[m.ID] {
		m.Deleted = true
	}
	if m.Deleted {
		m.Content = ""
	}
	s.Messages = append(s.Messages, m)
	return []Effect{RenderAppend{Message: m}}
}

func (r *Reconciler) onNewMessage(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	m, err := realtime.DecodeMessage(ev.Payload)
	if err != nil {
		return s, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if m.RoomID.IsPrivate() {
		return r.applyPrivate(s, in, m)
	}
	if m.RoomID == "" {
		return s, nil, malformed("new_message without room_id")
	}
	if s.Phase == PhaseInactive || !in.Active.IsRoom(m.RoomID) || s.Pending != m.RoomID {
		log.Debugf("Message for inactive room dropped: roomId=%s, messageId=%d", m.RoomID, m.ID)
		return s, nil, nil
	}
	next := s.clone()
	return next, appendLive(&next, m), nil
}

func (r *Reconciler) onPrivateMessage(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	m, err := realtime.DecodeMessage(ev.Payload)
	if err != nil {
		return s, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return r.applyPrivate(s, in, m)
}

// applyPrivate はDMを適用します
// 相手の会話がアクティブなら一覧に追加し（未読は0のまま）、そうでなければ未読を増やします。
// どちらの場合もDM一覧とメタデータを更新します。
func (r *Reconciler) applyPrivate(s State, in Input, m models.Message) (State, []Effect, error) {
	self := in.Self.ID
	peerID := m.Peer(self)
	if peerID == 0 || peerID == self {
		if m.RoomID.IsPrivate() {
			peerID = peerFromRoom(m.RoomID, self)
		}
		if peerID == 0 || peerID == self {
			return s, nil, malformed("private message %d without peer", m.ID)
		}
	}

	// 表示名は一覧の既存値 → 開いている会話 → メッセージの送信者情報の順に新しい値で上書きする
	var peer models.User
	if u, ok := knownContact(s.RecentDMs, peerID); ok {
		peer = u
	}
	if in.Active.IsPeer(peerID) {
		peer = in.Active.Peer
	}
	if m.UserID == peerID && (m.User.FirstName != "" || m.User.LastName != "") {
		peer = m.User
	}
	peer.ID = peerID

	next := s.clone()
	var effects []Effect
	active := in.Active.IsPeer(peerID) && next.Phase != PhaseInactive && next.Pending == models.DMRoomID(self, peerID)

	meta := next.DMMeta[peerID]
	if active {
		effects = append(effects, appendLive(&next, m)...)
	} else if m.UserID != self {
		meta.Unread++
		effects = append(effects, Notify{Level: view.LevelInfo, Text: "New message from " + peer.DisplayName()})
	}
	meta.LastMessage = view.Truncate(m.Content, PreviewLength)
	if m.Deleted {
		meta.LastMessage = ""
	}
	meta.LastTime = m.Timestamp
	next.DMMeta[peerID] = meta
	next.RecentDMs = addRecent(next.RecentDMs, peer, r.cfg.RecentDMCap)

	effects = append(effects, contactEffects(next)...)
	if peer.FirstName == "" && peer.LastName == "" {
		effects = append(effects, FetchProfile{UserID: peerID})
	}
	return next, effects, nil
}

// peerFromRoom は "private_<a>_<b>" から自分ではない方のIDを取り出します
func peerFromRoom(key models.RoomKey, self int64) int64 {
	var a, b int64
	if _, err := fmt.Sscanf(string(key), "private_%d_%d", &a, &b); err != nil {
		return 0
	}
	if a == self {
		return b
	}
	return a
}

// acceptHistory は履歴が現在参加中の会話に対するものかを判定します（古い応答は捨てる）
func acceptHistory(s State, key models.RoomKey) bool {
	return s.Phase == PhaseJoining && key != "" && key == s.Pending
}

// mergeHistory は履歴に削除済みの印を適用し、履歴より後に届いたライブのメッセージを残します
func mergeHistory(s *State, history []models.Message) []models.Message {
	out := make([]models.Message, 0, len(history)+len(s.Messages))
	seen := make(map[int64]bool, len(history))
	for _, m := range history {
		if s.Deleted[m.ID] {
			m.Deleted = true
		}
		if m.Deleted {
			m.Content = ""
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	for _, m := range s.Messages {
		if !seen[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func (r *Reconciler) onHistory(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.MessagesHistory
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if !acceptHistory(s, p.RoomID) {
		log.Debugf("Stale history dropped: roomId=%s, pending=%s", p.RoomID, s.Pending)
		return s, nil, nil
	}
	return r.activate(s, p.Messages)
}

func (r *Reconciler) onPrivateHistory(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.PrivateMessagesHistory
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	self := in.Self.ID
	key := p.RoomID
	if key == "" && p.OtherUserID != 0 {
		key = models.DMRoomID(self, p.OtherUserID)
	}
	if key == "" {
		for _, m := range p.Messages {
			if m.RoomID.IsPrivate() {
				key = m.RoomID
				break
			}
			if peer := m.Peer(self); peer != 0 && peer != self {
				key = models.DMRoomID(self, peer)
				break
			}
		}
	}
	// 識別子が全く無い空の履歴は、DMに参加中の場合のみ受け付ける
	if key == "" && len(p.Messages) == 0 && s.Pending.IsPrivate() {
		key = s.Pending
	}
	if !acceptHistory(s, key) {
		log.Debugf("Stale private history dropped: roomId=%s, pending=%s", key, s.Pending)
		return s, nil, nil
	}
	return r.activate(s, p.Messages)
}

// activate は履歴を受け取って joining → active に遷移します
func (r *Reconciler) activate(s State, history []models.Message) (State, []Effect, error) {
	next := s.clone()
	next.Messages = mergeHistory(&next, history)
	next.Phase = PhaseActive
	log.Debugf("Conversation active: key=%s, messages=%d", next.Pending, len(next.Messages))
	return next, []Effect{RenderHistory{Messages: append([]models.Message(nil), next.Messages...)}}, nil
}

func (r *Reconciler) onMessageDeleted(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.MessageDeleted
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if p.MessageID == 0 {
		return s, nil, malformed("message_deleted without message_id")
	}
	next := s.clone()
	next.Deleted[p.MessageID] = true
	i := next.indexOf(p.MessageID)
	if i < 0 {
		return next, nil, nil
	}
	// 位置は保ったまま削除済みにする
	next.Messages[i].Deleted = true
	next.Messages[i].Content = ""
	return next, []Effect{RenderDeleted{MessageID: p.MessageID}}, nil
}

func (r *Reconciler) onUserTyping(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.UserTyping
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if in.Active.Kind != models.KindRoom || s.Phase == PhaseInactive {
		return s, nil, nil
	}
	if p.RoomID != "" && !in.Active.IsRoom(p.RoomID) {
		return s, nil, nil
	}
	if p.UserID != 0 && p.UserID == in.Self.ID {
		return s, nil, nil
	}
	next := s.clone()
	next.Typing = p.IsTyping
	next.TypingUser = p.UserID
	return next, []Effect{RenderTyping{UserID: p.UserID, Typing: p.IsTyping}}, nil
}

func (r *Reconciler) onPrivateTyping(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.PrivateUserTyping
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if !in.Active.IsPeer(p.UserID) || s.Phase == PhaseInactive {
		return s, nil, nil
	}
	next := s.clone()
	next.Typing = p.IsTyping
	next.TypingUser = p.UserID
	return next, []Effect{RenderTyping{UserID: p.UserID, Typing: p.IsTyping}}, nil
}

func (r *Reconciler) onUserStatus(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.UserStatus
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if p.UserID == 0 {
		return s, nil, malformed("%s without user_id", ev.Name)
	}
	next := s.clone()
	next.Presence[p.UserID] = p.Status
	if in.Active.IsPeer(p.UserID) {
		return next, []Effect{RenderPresence{UserID: p.UserID, Status: p.Status}}, nil
	}
	return next, nil, nil
}

func (r *Reconciler) onJoinedPrivateChat(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.JoinedPrivateChat
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	log.Debugf("Joined private chat: roomId=%s", p.RoomID)
	return s, nil, nil
}

// onMessagesRead は自分のメッセージをまとめて既読にします（メッセージ単位の既読は持たない）
func (r *Reconciler) onMessagesRead(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.MessagesRead
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	if in.Active.Kind != models.KindDirect || s.Phase == PhaseInactive {
		return s, nil, nil
	}
	if p.RoomID != "" && p.RoomID != s.Pending {
		return s, nil, nil
	}
	next := s.clone()
	for i := range next.Messages {
		if next.Messages[i].UserID == in.Self.ID {
			next.Messages[i].ReadStatus = true
		}
	}
	return next, []Effect{RenderRead{}}, nil
}

func (r *Reconciler) onError(s State, in Input, ev realtime.Event) (State, []Effect, error) {
	var p realtime.Error
	if err := decode(ev, &p); err != nil {
		return s, nil, err
	}
	text := p.Message
	if text == "" {
		text = "Unknown error"
	}
	return s, []Effect{Notify{Level: view.LevelError, Text: text}}, nil
}
