package reconciler

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

var (
	self  = models.User{ID: 1, FirstName: "Ada", LastName: "Lovelace"}
	grace = models.User{ID: 7, FirstName: "Grace", LastName: "Hopper"}
	alan  = models.User{ID: 9, FirstName: "Alan", LastName: "Turing"}

	general = models.Room{ID: 12, Name: "general"}
	random  = models.Room{ID: 13, Name: "random"}
)

func event(t *testing.T, name string, payload any) realtime.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return realtime.Event{Name: name, Payload: raw}
}

func message(id int64, room models.RoomKey, from models.User, to int64, content string) models.Message {
	return models.Message{
		ID:         id,
		RoomID:     room,
		UserID:     from.ID,
		ReceiverID: to,
		User:       from,
		Content:    content,
		Timestamp:  models.NewTimestamp(time.Date(2024, 5, 1, 10, 0, int(id), 0, time.UTC)),
	}
}

func emitted(effects []Effect) []realtime.Command {
	var out []realtime.Command
	for _, e := range effects {
		if em, ok := e.(Emit); ok {
			out = append(out, em.Command)
		}
	}
	return out
}

func has[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

// open は会話を開いて履歴を受け取るまでを再現します
func open(t *testing.T, r *Reconciler, s State, ref models.ConversationRef, history []models.Message) (State, Input) {
	t.Helper()
	in := Input{Self: self, Active: ref}
	s, _ = r.Join(s, in, ref)
	name := realtime.EventMessagesHistory
	var payload any = realtime.MessagesHistory{RoomID: ref.Key(self.ID), Messages: history}
	if ref.Kind == models.KindDirect {
		name = realtime.EventPrivateMessagesHistory
		payload = realtime.PrivateMessagesHistory{RoomID: ref.Key(self.ID), Messages: history}
	}
	s, _ = r.Apply(s, in, event(t, name, payload))
	require.Equal(t, PhaseActive, s.Phase)
	return s, in
}

func TestJoinDirectConversation(t *testing.T) {
	r := New(Config{})
	ref := models.DirectConversation(grace)
	s, effects := r.Join(NewState(), Input{Self: self, Active: ref}, ref)

	assert.Equal(t, PhaseJoining, s.Phase)
	assert.Equal(t, models.RoomKey("private_1_7"), s.Pending)

	cmds := emitted(effects)
	require.Len(t, cmds, 3)
	assert.Equal(t, realtime.Command{Event: realtime.EventJoinPrivateChat, Payload: realtime.JoinPrivateChat{RoomID: "private_1_7", OtherUserID: 7}}, cmds[0])
	assert.Equal(t, realtime.Command{Event: realtime.EventGetPrivateMessages, Payload: realtime.GetPrivateMessages{RoomID: "private_1_7", OtherUserID: 7, Limit: 50}}, cmds[1])
	assert.Equal(t, realtime.EventCheckUserStatus, cmds[2].Event)

	require.Len(t, s.RecentDMs, 1)
	assert.Equal(t, int64(7), s.RecentDMs[0].ID)
	assert.True(t, has[PersistRecentDMs](effects))
	assert.True(t, has[PersistDMMeta](effects))
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	r := New(Config{})
	a := models.RoomConversation(general)
	b := models.RoomConversation(random)

	s, _ := r.Join(NewState(), Input{Self: self, Active: a}, a)
	in := Input{Self: self, Active: b}
	s, _ = r.Join(s, in, b)

	// A の履歴が B に切り替えた後に届く
	late := event(t, realtime.EventMessagesHistory, realtime.MessagesHistory{
		RoomID:   general.Key(),
		Messages: []models.Message{message(1, general.Key(), grace, 0, "for A")},
	})
	s2, effects := r.Apply(s, in, late)
	assert.Empty(t, effects)
	assert.Equal(t, PhaseJoining, s2.Phase)
	assert.Empty(t, s2.Messages)

	fresh := event(t, realtime.EventMessagesHistory, realtime.MessagesHistory{
		RoomID:   random.Key(),
		Messages: []models.Message{message(2, random.Key(), grace, 0, "for B")},
	})
	s3, effects := r.Apply(s2, in, fresh)
	assert.Equal(t, PhaseActive, s3.Phase)
	require.Len(t, s3.Messages, 1)
	assert.Equal(t, "for B", s3.Messages[0].Content)
	require.True(t, has[RenderHistory](effects))

	// 二度目の履歴は joining ではないので捨てる
	s4, effects := r.Apply(s3, in, fresh)
	assert.Empty(t, effects)
	assert.Equal(t, s3.Messages, s4.Messages)
}

func TestLiveMessageDuringJoinSurvivesHistory(t *testing.T) {
	r := New(Config{})
	ref := models.RoomConversation(general)
	in := Input{Self: self, Active: ref}
	s, _ := r.Join(NewState(), in, ref)

	s, _ = r.Apply(s, in, event(t, realtime.EventNewMessage, message(5, general.Key(), grace, 0, "live")))
	s, _ = r.Apply(s, in, event(t, realtime.EventMessagesHistory, realtime.MessagesHistory{
		RoomID:   general.Key(),
		Messages: []models.Message{message(4, general.Key(), grace, 0, "old")},
	}))
	require.Len(t, s.Messages, 2)
	assert.Equal(t, []int64{4, 5}, []int64{s.Messages[0].ID, s.Messages[1].ID})
}

func TestRecentContactIsIdempotent(t *testing.T) {
	list := addRecent(nil, grace, 20)
	list = addRecent(list, alan, 20)
	renamed := grace
	renamed.FirstName = "Admiral"
	list = addRecent(list, renamed, 20)

	require.Len(t, list, 2)
	assert.Equal(t, int64(7), list[0].ID)
	assert.Equal(t, "Admiral", list[0].FirstName)
	assert.Equal(t, int64(9), list[1].ID)
}

func TestRecentContactCap(t *testing.T) {
	var list []models.RecentDM
	for i := int64(1); i <= 25; i++ {
		list = addRecent(list, models.User{ID: 100 + i, FirstName: fmt.Sprint(i)}, 20)
	}
	require.Len(t, list, 20)
	assert.Equal(t, int64(125), list[0].ID)
	assert.Equal(t, int64(106), list[19].ID)
}

func TestUnreadMonotonicAndResetOnOpen(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), nil)

	const n = 4
	for i := int64(1); i <= n; i++ {
		var effects []Effect
		s, effects = r.Apply(s, in, event(t, realtime.EventPrivateMessage, message(100+i, models.DMRoomID(1, 7), grace, 1, fmt.Sprintf("ping %d", i))))
		assert.True(t, has[Notify](effects))
		assert.False(t, has[RenderAppend](effects))
	}
	assert.Equal(t, n, s.Unread(7))
	assert.Equal(t, "ping 4", s.DMMeta[7].LastMessage)
	assert.Empty(t, s.Messages)
	require.Len(t, s.RecentDMs, 1)
	assert.Equal(t, "Grace", s.RecentDMs[0].FirstName)

	// 自分が別の端末から送ったDMでは未読は増えない
	s, _ = r.Apply(s, in, event(t, realtime.EventPrivateMessage, message(200, models.DMRoomID(1, 7), self, 7, "mine")))
	assert.Equal(t, n, s.Unread(7))

	ref := models.DirectConversation(grace)
	s, _ = r.Join(s, Input{Self: self, Active: ref}, ref)
	assert.Equal(t, 0, s.Unread(7))
}

func TestPrivateMessageForActivePeer(t *testing.T) {
	r := New(Config{})
	ref := models.DirectConversation(grace)
	s, in := open(t, r, NewState(), ref, nil)

	s, effects := r.Apply(s, in, event(t, realtime.EventPrivateMessage, realtime.MessageEnvelope{
		Message: message(50, "private_1_7", grace, 1, "hello there"),
	}))
	assert.True(t, has[RenderAppend](effects))
	assert.False(t, has[Notify](effects))
	require.Len(t, s.Messages, 1)
	assert.Equal(t, 0, s.Unread(7))
	assert.Equal(t, "hello there", s.DMMeta[7].LastMessage)
}

func TestPreviewIsTruncated(t *testing.T) {
	r := New(Config{})
	long := ""
	for i := 0; i < 80; i++ {
		long += "x"
	}
	s, _ := r.Apply(NewState(), Input{Self: self}, event(t, realtime.EventPrivateMessage, message(3, "private_1_9", alan, 1, long)))
	assert.Len(t, s.DMMeta[9].LastMessage, PreviewLength)
}

func TestUnknownPeerRequestsProfile(t *testing.T) {
	r := New(Config{})
	m := message(3, "private_1_42", models.User{ID: 42}, 1, "hi")
	s, effects := r.Apply(NewState(), Input{Self: self}, event(t, realtime.EventPrivateMessage, m))
	require.True(t, has[FetchProfile](effects))

	s, effects = r.UpdateContact(s, models.User{ID: 42, FirstName: "Kathleen", LastName: "Booth"})
	assert.Equal(t, "Kathleen", s.RecentDMs[0].FirstName)
	assert.True(t, has[PersistRecentDMs](effects))

	_, effects = r.UpdateContact(s, models.User{ID: 999, FirstName: "Nobody"})
	assert.Empty(t, effects)
}

func TestDeletedMessageNeverExposesContent(t *testing.T) {
	r := New(Config{})
	ref := models.RoomConversation(general)
	history := []models.Message{
		message(1, general.Key(), grace, 0, "keep"),
		message(2, general.Key(), grace, 0, "secret"),
		message(3, general.Key(), grace, 0, "after"),
	}
	s, in := open(t, r, NewState(), ref, history)

	s, effects := r.Apply(s, in, event(t, realtime.EventMessageDeleted, realtime.MessageDeleted{MessageID: 2, RoomID: general.Key()}))
	require.True(t, has[RenderDeleted](effects))
	require.Len(t, s.Messages, 3)
	assert.Equal(t, int64(2), s.Messages[1].ID)
	assert.True(t, s.Messages[1].Deleted)
	assert.Empty(t, s.Messages[1].Content)
	assert.Equal(t, view.DeletedPlaceholder, view.Body(s.Messages[1]))

	// 同じメッセージが履歴から再描画されても本文は出ない
	s, _ = r.Join(s, in, ref)
	s, effects = r.Apply(s, in, event(t, realtime.EventMessagesHistory, realtime.MessagesHistory{RoomID: general.Key(), Messages: history}))
	assert.True(t, s.Messages[1].Deleted)
	assert.Empty(t, s.Messages[1].Content)
	require.Len(t, effects, 1)
	for _, m := range effects[0].(RenderHistory).Messages {
		assert.NotEqual(t, "secret", m.Content)
	}

	// 再送されたライブのメッセージも同様
	s2, _ := r.Apply(s, in, event(t, realtime.EventNewMessage, message(2, general.Key(), grace, 0, "secret")))
	assert.Len(t, s2.Messages, 3)
}

func TestMembershipCounts(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), nil)
	count := 3

	s, effects := r.Apply(s, in, event(t, realtime.EventUserJoined, realtime.Membership{RoomID: general.Key(), UserID: 7, MemberCount: &count}))
	assert.Equal(t, 3, s.MemberCounts[general.Key()])
	assert.True(t, has[RenderMemberCount](effects))
	assert.True(t, has[RenderNotice](effects))

	// 表示していないルームは人数だけ更新する
	other := 8
	s, effects = r.Apply(s, in, event(t, realtime.EventUserLeft, realtime.Membership{RoomID: random.Key(), UserID: 7, MemberCount: &other}))
	assert.Equal(t, 8, s.MemberCounts[random.Key()])
	assert.Empty(t, effects)

	_, effects = r.Apply(s, in, event(t, realtime.EventJoinedRoom, realtime.Membership{RoomID: general.Key(), RoomName: "general"}))
	require.Len(t, effects, 1)
	assert.Equal(t, Notify{Level: view.LevelSuccess, Text: "Joined general"}, effects[0])
}

func TestTypingOnlyForActiveConversation(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), nil)

	_, effects := r.Apply(s, in, event(t, realtime.EventUserTyping, realtime.UserTyping{UserID: 7, RoomID: random.Key(), IsTyping: true}))
	assert.Empty(t, effects)

	s, effects = r.Apply(s, in, event(t, realtime.EventUserTyping, realtime.UserTyping{UserID: 7, RoomID: general.Key(), IsTyping: true}))
	assert.Equal(t, []Effect{RenderTyping{UserID: 7, Typing: true}}, effects)
	assert.True(t, s.Typing)

	// 順序が入れ替わった false もそのまま適用する
	s, _ = r.Apply(s, in, event(t, realtime.EventUserTyping, realtime.UserTyping{UserID: 7, RoomID: general.Key(), IsTyping: false}))
	assert.False(t, s.Typing)

	_, effects = r.Apply(s, in, event(t, realtime.EventPrivateUserTyping, realtime.PrivateUserTyping{UserID: 7, IsTyping: true}))
	assert.Empty(t, effects)
}

func TestPresenceSurfacedForActivePeerOnly(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.DirectConversation(grace), nil)

	s, effects := r.Apply(s, in, event(t, realtime.EventUserStatusChanged, realtime.UserStatus{UserID: 9, Status: "online"}))
	assert.Empty(t, effects)
	assert.Equal(t, "online", s.Presence[9])

	_, effects = r.Apply(s, in, event(t, realtime.EventUserStatusResponse, realtime.UserStatus{UserID: 7, Status: "offline"}))
	assert.Equal(t, []Effect{RenderPresence{UserID: 7, Status: "offline"}}, effects)
}

func TestLeftRoomDeletedRequestsRemoval(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), nil)

	_, effects := r.Apply(s, in, event(t, realtime.EventLeftRoom, realtime.Membership{RoomID: general.Key()}))
	assert.False(t, has[RoomRemoved](effects))

	_, effects = r.Apply(s, in, event(t, realtime.EventLeftRoom, realtime.Membership{RoomID: general.Key(), Message: "Room was deleted", Deleted: true}))
	assert.Contains(t, effects, Effect(RoomRemoved{Room: general.Key()}))
}

func TestMessagesReadMarksOwnMessages(t *testing.T) {
	r := New(Config{})
	ref := models.DirectConversation(grace)
	s, in := open(t, r, NewState(), ref, []models.Message{
		message(1, "private_1_7", self, 7, "mine"),
		message(2, "private_1_7", grace, 1, "theirs"),
		message(3, "private_1_7", self, 7, "mine again"),
	})

	s, effects := r.Apply(s, in, event(t, realtime.EventMessagesRead, realtime.MessagesRead{RoomID: "private_1_7", ReaderID: 7}))
	assert.Equal(t, []Effect{RenderRead{}}, effects)
	assert.True(t, s.Messages[0].ReadStatus)
	assert.False(t, s.Messages[1].ReadStatus)
	assert.True(t, s.Messages[2].ReadStatus)

	// ルームでは無視する
	rs, rin := open(t, r, NewState(), models.RoomConversation(general), nil)
	_, effects = r.Apply(rs, rin, event(t, realtime.EventMessagesRead, realtime.MessagesRead{}))
	assert.Empty(t, effects)
}

func TestPrivateHistoryWithoutRoomID(t *testing.T) {
	r := New(Config{})
	ref := models.DirectConversation(grace)
	in := Input{Self: self, Active: ref}
	s, _ := r.Join(NewState(), in, ref)

	// 別の相手の履歴（メッセージから推定）は捨てる
	s2, _ := r.Apply(s, in, event(t, realtime.EventPrivateMessagesHistory, realtime.PrivateMessagesHistory{
		Messages: []models.Message{message(1, "", alan, 1, "wrong peer")},
	}))
	assert.Equal(t, PhaseJoining, s2.Phase)

	s3, _ := r.Apply(s, in, event(t, realtime.EventPrivateMessagesHistory, realtime.PrivateMessagesHistory{}))
	assert.Equal(t, PhaseActive, s3.Phase)
}

func TestClearMakesMessagesInactive(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), nil)
	s, effects := r.Clear(s)
	assert.Equal(t, []Effect{RenderConversation{}}, effects)

	in.Active = models.ConversationRef{}
	s, effects = r.Apply(s, in, event(t, realtime.EventNewMessage, message(1, general.Key(), grace, 0, "late")))
	assert.Empty(t, effects)
	assert.Empty(t, s.Messages)
}

func TestMalformedPayloadDoesNotCommit(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), nil)

	bad := []realtime.Event{
		{Name: realtime.EventNewMessage, Payload: json.RawMessage(`{"content":"no id"}`)},
		{Name: realtime.EventMessageDeleted, Payload: json.RawMessage(`{}`)},
		{Name: realtime.EventUserStatusChanged, Payload: json.RawMessage(`{"status":"online"}`)},
		{Name: realtime.EventMessagesHistory, Payload: json.RawMessage(`[`)},
		{Name: realtime.EventPrivateMessage, Payload: json.RawMessage(`{"id":5,"user_id":1,"content":"x"}`)},
	}
	for _, ev := range bad {
		next, effects := r.Apply(s, in, ev)
		require.Len(t, effects, 1, ev.Name)
		n, ok := effects[0].(Notify)
		require.True(t, ok)
		assert.Equal(t, view.LevelError, n.Level)
		assert.Equal(t, s, next)
	}
}

func TestServerErrorIsSurfacedVerbatim(t *testing.T) {
	r := New(Config{})
	_, effects := r.Apply(NewState(), Input{Self: self}, event(t, realtime.EventError, realtime.Error{Message: "Room not found"}))
	assert.Equal(t, []Effect{Notify{Level: view.LevelError, Text: "Room not found"}}, effects)
}

func TestConnectivity(t *testing.T) {
	r := New(Config{})
	s, effects := r.Apply(NewState(), Input{}, realtime.Event{Name: realtime.EventConnect})
	assert.True(t, s.Connected)
	assert.Equal(t, []Effect{RenderConnectivity{Connected: true}}, effects)

	s, _ = r.Apply(s, Input{}, realtime.Event{Name: realtime.EventDisconnect})
	assert.False(t, s.Connected)

	_, effects = r.Apply(s, Input{}, realtime.Event{Name: "something_else"})
	assert.Nil(t, effects)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	r := New(Config{})
	s, in := open(t, r, NewState(), models.RoomConversation(general), []models.Message{message(1, general.Key(), grace, 0, "x")})
	before := s.clone()

	r.Apply(s, in, event(t, realtime.EventMessageDeleted, realtime.MessageDeleted{MessageID: 1}))
	r.Apply(s, in, event(t, realtime.EventPrivateMessage, message(9, "private_1_9", alan, 1, "y")))
	assert.Equal(t, before, s)
}
