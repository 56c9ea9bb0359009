package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/icrowley/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hola62/realtime-chat-app/internal/gateway"
	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/session"
	"github.com/Hola62/realtime-chat-app/internal/store"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

var (
	self  = models.User{ID: 1, FirstName: "Ada", LastName: "Lovelace"}
	grace = models.User{ID: 7, FirstName: "Grace", LastName: "Hopper"}

	general = models.Room{ID: 12, Name: "general"}
	random  = models.Room{ID: 13, Name: "random"}
)

type fakeTransport struct {
	mu      sync.Mutex
	deliver func(realtime.Event)
	cmds    []realtime.Command
	dialErr error
	closed  bool
}

func (f *fakeTransport) Dial(ctx context.Context, token string, deliver func(realtime.Event)) error {
	if f.dialErr != nil {
		return f.dialErr
	}
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	deliver(realtime.Event{Name: realtime.EventConnect})
	return nil
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, realtime.Command{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// push はサーバーからのイベントを1件受信したことにします
func (f *fakeTransport) push(t *testing.T, name string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	require.NotNil(t, deliver)
	deliver(realtime.Event{Name: name, Payload: raw})
}

func (f *fakeTransport) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.cmds))
	for _, c := range f.cmds {
		out = append(out, c.Event)
	}
	return out
}

func (f *fakeTransport) commands() []realtime.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Command(nil), f.cmds...)
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = nil
}

type fakeGateway struct {
	mu      sync.Mutex
	me      models.User
	meErr   error
	rooms   []models.Room
	users   map[int64]models.User
	lookups int
	deleted []int64
}

func (g *fakeGateway) SetToken(string) {}

func (g *fakeGateway) Me(context.Context) (models.User, error) { return g.me, g.meErr }

func (g *fakeGateway) ListRooms(context.Context) ([]models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Room(nil), g.rooms...), nil
}

func (g *fakeGateway) CreateRoom(_ context.Context, name string) (models.Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := models.Room{ID: int64(100 + len(g.rooms)), Name: name}
	g.rooms = append(g.rooms, r)
	return r, nil
}

func (g *fakeGateway) DeleteRoom(_ context.Context, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == 404 {
		return &gateway.APIError{Status: 404, Message: "Room not found"}
	}
	g.deleted = append(g.deleted, id)
	return nil
}

func (g *fakeGateway) SearchUsers(_ context.Context, name string) ([]models.User, error) {
	return []models.User{self, grace}, nil
}

func (g *fakeGateway) GetUser(_ context.Context, id int64) (models.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	u, ok := g.users[id]
	if !ok {
		return models.User{}, &gateway.APIError{Status: 404, Message: "user not found"}
	}
	return u, nil
}

type fixture struct {
	engine *Engine
	tr     *fakeTransport
	gw     *fakeGateway
	kv     *store.MemoryStore
	view   *view.Recorder
}

func signedToken(t *testing.T, sub string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   sub,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{
		tr:   &fakeTransport{},
		gw:   &fakeGateway{me: self, rooms: []models.Room{general, random}, users: map[int64]models.User{}},
		kv:   store.NewMemoryStore(),
		view: view.NewRecorder(),
	}
	if token != "" {
		require.NoError(t, f.kv.Set(context.Background(), store.KeyAccessToken, token))
	}
	f.engine = New(Options{
		Gateway:    f.gw,
		Store:      store.NewLocal(f.kv),
		Transport:  f.tr,
		Renderer:   f.view,
		TypingIdle: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = f.engine.Close()
	})
	return f
}

func started(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t, signedToken(t, "1"))
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Sync())
	return f
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.engine.Sync())
}

func TestStartWithoutTokenRequiresLogin(t *testing.T) {
	f := newFixture(t, "")
	err := f.engine.Start(context.Background())
	require.ErrorIs(t, err, session.ErrUnauthenticated)
	f.sync(t)
	f.view.Do(func(r *view.Recorder) {
		assert.NotEmpty(t, r.LoginRequired)
	})
	assert.Empty(t, f.tr.events())
}

func TestStartWithRejectedSession(t *testing.T) {
	f := newFixture(t, signedToken(t, "1"))
	f.gw.meErr = gateway.ErrUnauthorized
	err := f.engine.Start(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnauthorized)
	f.sync(t)

	f.view.Do(func(r *view.Recorder) {
		assert.NotEmpty(t, r.LoginRequired)
	})
	_, err = f.kv.Get(context.Background(), store.KeyAccessToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStartConnectsAndLoadsRooms(t *testing.T) {
	f := started(t)
	assert.Equal(t, []string{realtime.EventUserOnline}, f.tr.events())
	f.view.Do(func(r *view.Recorder) {
		assert.Equal(t, self, r.CurrentUser)
		assert.True(t, r.Connected)
		assert.Equal(t, []models.Room{general, random}, r.Rooms)
		assert.Empty(t, r.LoginRequired)
	})
}

func TestDirectConversationEndToEnd(t *testing.T) {
	f := started(t)
	f.tr.reset()

	require.NoError(t, f.engine.OpenDirect(grace))
	cmds := f.tr.commands()
	require.GreaterOrEqual(t, len(cmds), 2)
	join, err := json.Marshal(cmds[0].Payload)
	require.NoError(t, err)
	history, err := json.Marshal(cmds[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, realtime.EventJoinPrivateChat, cmds[0].Event)
	assert.JSONEq(t, `{"room_id":"private_1_7","other_user_id":7}`, string(join))
	assert.Equal(t, realtime.EventGetPrivateMessages, cmds[1].Event)
	assert.JSONEq(t, `{"room_id":"private_1_7","other_user_id":7,"limit":50}`, string(history))

	f.tr.push(t, realtime.EventPrivateMessagesHistory, realtime.PrivateMessagesHistory{RoomID: "private_1_7", Messages: []models.Message{}})
	f.tr.push(t, realtime.EventPrivateMessage, realtime.MessageEnvelope{Message: models.Message{
		ID: 10, RoomID: "private_1_7", UserID: 7, ReceiverID: 1, User: grace, Content: "hi Ada",
	}})
	f.sync(t)

	f.view.Do(func(r *view.Recorder) {
		require.Len(t, r.Bodies, 1)
		assert.Equal(t, "hi Ada", r.Bodies[0])
		assert.Equal(t, 0, r.DMMeta[7].Unread)
		require.NotEmpty(t, r.RecentDMs)
		assert.Equal(t, int64(7), r.RecentDMs[0].ID)
	})
	s, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Unread(7))
}

func TestSwitchingEmitsLeaveBeforeJoin(t *testing.T) {
	f := started(t)
	f.tr.reset()

	require.NoError(t, f.engine.OpenRoom(general))
	require.NoError(t, f.engine.OpenRoom(random))
	assert.Equal(t, []string{
		realtime.EventJoinRoom, realtime.EventGetMessages,
		realtime.EventLeaveRoom,
		realtime.EventJoinRoom, realtime.EventGetMessages,
	}, f.tr.events())

	// A の履歴が遅れて届いても B の表示は変わらない
	f.tr.push(t, realtime.EventMessagesHistory, realtime.MessagesHistory{RoomID: general.Key(), Messages: []models.Message{{ID: 1, RoomID: general.Key(), UserID: 7, Content: "old"}}})
	f.sync(t)
	f.view.Do(func(r *view.Recorder) {
		assert.Equal(t, 0, r.HistoryCalls)
		assert.True(t, r.Conversation.IsRoom(random.Key()))
	})

	f.tr.push(t, realtime.EventMessagesHistory, realtime.MessagesHistory{RoomID: random.Key(), Messages: []models.Message{{ID: 2, RoomID: random.Key(), UserID: 7, Content: "new"}}})
	f.sync(t)
	f.view.Do(func(r *view.Recorder) {
		assert.Equal(t, []string{"new"}, r.Bodies)
	})
	assert.True(t, f.engine.Active().IsRoom(random.Key()))
}

func TestInactivePeerUnreadIsPersisted(t *testing.T) {
	f := started(t)
	require.NoError(t, f.engine.OpenRoom(general))

	for i := int64(1); i <= 3; i++ {
		f.tr.push(t, realtime.EventPrivateMessage, models.Message{ID: 20 + i, RoomID: "private_1_7", UserID: 7, ReceiverID: 1, User: grace, Content: "psst"})
	}
	f.sync(t)

	meta, err := store.NewLocal(f.kv).DMMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, meta[7].Unread)
	assert.Equal(t, "psst", meta[7].LastMessage)
	list, err := store.NewLocal(f.kv).RecentDMs(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Grace", list[0].FirstName)

	f.view.Do(func(r *view.Recorder) {
		assert.Empty(t, r.Bodies)
		require.NotEmpty(t, r.Notifications)
		assert.Equal(t, "New message from Grace Hopper", r.Notifications[len(r.Notifications)-1].Text)
	})

	require.NoError(t, f.engine.OpenDirect(grace))
	meta, err = store.NewLocal(f.kv).DMMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, meta[7].Unread)
}

func TestUnknownSenderProfileIsFetched(t *testing.T) {
	f := started(t)
	name := fake.FirstName()
	f.gw.mu.Lock()
	f.gw.users[42] = models.User{ID: 42, FirstName: name, LastName: "Booth"}
	f.gw.mu.Unlock()

	f.tr.push(t, realtime.EventPrivateMessage, models.Message{ID: 5, RoomID: "private_1_42", UserID: 42, ReceiverID: 1, Content: "hello"})
	require.Eventually(t, func() bool {
		_ = f.engine.Sync()
		ok := false
		f.view.Do(func(r *view.Recorder) {
			ok = len(r.RecentDMs) == 1 && r.RecentDMs[0].FirstName == name
		})
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestSendMessage(t *testing.T) {
	f := started(t)
	require.ErrorIs(t, f.engine.SendMessage("hello"), ErrNoConversation)

	require.NoError(t, f.engine.OpenRoom(general))
	f.tr.reset()

	require.NoError(t, f.engine.SendMessage("   "))
	assert.Empty(t, f.tr.events())

	err := f.engine.SendMessage(strings.Repeat("a", MaxMessageLength+1))
	require.ErrorIs(t, err, ErrMessageTooLong)
	assert.Empty(t, f.tr.events())

	f.engine.InputChanged()
	require.NoError(t, f.engine.SendMessage("  hi all  "))
	cmds := f.tr.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, realtime.Command{Event: realtime.EventTyping, Payload: realtime.Typing{RoomID: general.Key(), IsTyping: true}}, cmds[0])
	assert.Equal(t, realtime.Command{Event: realtime.EventSendMessage, Payload: realtime.SendMessage{RoomID: general.Key(), Content: "hi all"}}, cmds[1])
	assert.Equal(t, realtime.Command{Event: realtime.EventTyping, Payload: realtime.Typing{RoomID: general.Key(), IsTyping: false}}, cmds[2])

	// 送信時にタイマーは止まっているので、待っても false は増えない
	time.Sleep(120 * time.Millisecond)
	f.sync(t)
	assert.Len(t, f.tr.commands(), 3)
}

func TestDeleteMessage(t *testing.T) {
	f := started(t)
	require.NoError(t, f.engine.OpenRoom(general))
	f.tr.push(t, realtime.EventMessagesHistory, realtime.MessagesHistory{RoomID: general.Key(), Messages: []models.Message{
		{ID: 1, RoomID: general.Key(), UserID: 1, Content: "mine"},
		{ID: 2, RoomID: general.Key(), UserID: 7, Content: "theirs"},
	}})
	f.sync(t)
	f.tr.reset()

	require.ErrorIs(t, f.engine.DeleteMessage(2), ErrNotOwner)
	require.ErrorIs(t, f.engine.DeleteMessage(99), ErrMessageNotFound)
	require.NoError(t, f.engine.DeleteMessage(1))
	assert.Equal(t, []string{realtime.EventDeleteMessage}, f.tr.events())

	f.tr.push(t, realtime.EventMessageDeleted, realtime.MessageDeleted{MessageID: 1, RoomID: general.Key()})
	f.sync(t)
	f.view.Do(func(r *view.Recorder) {
		assert.Equal(t, []string{view.DeletedPlaceholder, "theirs"}, r.Bodies)
	})
}

func TestRooms(t *testing.T) {
	f := started(t)

	_, err := f.engine.CreateRoom(context.Background(), "  ")
	require.ErrorIs(t, err, ErrInvalidRoomName)
	_, err = f.engine.CreateRoom(context.Background(), strings.Repeat("x", MaxRoomNameLength+1))
	require.ErrorIs(t, err, ErrInvalidRoomName)

	room, err := f.engine.CreateRoom(context.Background(), " design ")
	require.NoError(t, err)
	assert.Equal(t, "design", room.Name)
	assert.True(t, f.engine.Active().IsRoom(room.Key()))
	assert.Len(t, f.engine.Rooms(), 3)

	require.NoError(t, f.engine.DeleteRoom(context.Background(), room.ID))
	assert.True(t, f.engine.Active().IsZero())
	assert.Len(t, f.engine.Rooms(), 2)
	f.view.Do(func(r *view.Recorder) {
		assert.True(t, r.Conversation.IsZero())
		assert.Len(t, r.Rooms, 2)
	})

	err = f.engine.DeleteRoom(context.Background(), 404)
	var apiErr *gateway.APIError
	require.True(t, errors.As(err, &apiErr))
	f.sync(t)
	f.view.Do(func(r *view.Recorder) {
		last := r.Notifications[len(r.Notifications)-1]
		assert.Equal(t, view.LevelError, last.Level)
		assert.Equal(t, "Failed to delete room: Room not found", last.Text)
	})
}

func TestRoomDeletedByAnotherUser(t *testing.T) {
	f := started(t)
	require.NoError(t, f.engine.OpenRoom(general))
	f.tr.push(t, realtime.EventMessagesHistory, realtime.MessagesHistory{RoomID: general.Key(), Messages: []models.Message{}})
	f.sync(t)

	f.tr.push(t, realtime.EventLeftRoom, realtime.Membership{RoomID: general.Key(), Message: "Room was deleted", Deleted: true})
	f.sync(t)

	assert.True(t, f.engine.Active().IsZero())
	assert.Equal(t, []models.Room{random}, f.engine.Rooms())
	s, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, s.Messages)
	f.view.Do(func(r *view.Recorder) {
		assert.True(t, r.Conversation.IsZero())
		assert.Equal(t, []models.Room{random}, r.Rooms)
		assert.Equal(t, "Room was deleted", r.Notifications[len(r.Notifications)-1].Text)
	})

	// 一覧に無いルームの削除通知は何も表示しない
	count := 0
	f.view.Do(func(r *view.Recorder) { count = len(r.Notifications) })
	f.tr.push(t, realtime.EventLeftRoom, realtime.Membership{RoomID: general.Key(), Deleted: true})
	f.sync(t)
	f.view.Do(func(r *view.Recorder) { assert.Len(t, r.Notifications, count) })
}

func TestFailuresAreMarkedNotified(t *testing.T) {
	f := started(t)

	err := f.engine.DeleteRoom(context.Background(), 404)
	require.ErrorIs(t, err, ErrNotified)
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "gateway: status 404: Room not found", err.Error())

	_, err = f.engine.CreateRoom(context.Background(), "")
	require.ErrorIs(t, err, ErrNotified)
	require.ErrorIs(t, err, ErrInvalidRoomName)

	// 通知していないエラーには印を付けない
	err = f.engine.DeleteMessage(0)
	require.ErrorIs(t, err, ErrNoConversation)
	assert.NotErrorIs(t, err, ErrNotified)
}

func TestSearchUsersExcludesSelf(t *testing.T) {
	f := started(t)
	users, err := f.engine.SearchUsers(context.Background(), "gr")
	require.NoError(t, err)
	assert.Equal(t, []models.User{grace}, users)
	require.ErrorIs(t, f.engine.OpenDirect(self), ErrSelfChat)
}

func TestDisconnectIsSurfaced(t *testing.T) {
	f := started(t)
	require.NoError(t, f.engine.OpenRoom(general))
	f.tr.push(t, realtime.EventDisconnect, nil)
	f.sync(t)
	f.view.Do(func(r *view.Recorder) {
		assert.False(t, r.Connected)
	})

	err := f.engine.SendMessage("hello")
	require.ErrorIs(t, err, realtime.ErrNotConnected)
	f.view.Do(func(r *view.Recorder) {
		assert.Equal(t, "Not connected to the chat server", r.Notifications[len(r.Notifications)-1].Text)
	})
}

func TestLogout(t *testing.T) {
	f := started(t)
	require.NoError(t, f.engine.OpenRoom(general))
	f.tr.reset()

	require.NoError(t, f.engine.Logout())
	assert.Equal(t, []string{realtime.EventLeaveRoom}, f.tr.events())
	f.view.Do(func(r *view.Recorder) {
		assert.Equal(t, "Logged out", r.LoginRequired)
	})
	_, err := f.kv.Get(context.Background(), store.KeyAccessToken)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, f.engine.OpenRoom(general), session.ErrClosed)
}

func TestClose(t *testing.T) {
	f := started(t)
	require.NoError(t, f.engine.Close())
	require.NoError(t, f.engine.Close())
	assert.ErrorIs(t, f.engine.Sync(), ErrClosed)
	f.tr.mu.Lock()
	assert.True(t, f.tr.closed)
	f.tr.mu.Unlock()
}
