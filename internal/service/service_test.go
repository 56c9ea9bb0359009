package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/repo"
)

func newServices(t *testing.T) (*AuthService, *ChatService) {
	t.Helper()
	r := repo.NewMemoryChatRepo()
	auth := NewAuthService(r, "test-secret", time.Hour)
	auth.SetHashCost(bcrypt.MinCost)
	return auth, NewChatService(r)
}

func TestHashCost(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryChatRepo()
	auth := NewAuthService(r, "test-secret", time.Hour)
	auth.SetHashCost(bcrypt.MinCost)

	_, _, err := auth.Register(ctx, "ada@example.com", "pw", "Ada", "Lovelace")
	require.NoError(t, err)
	acc, ok, err := r.GetAccountByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.True(t, ok)
	cost, err := bcrypt.Cost([]byte(acc.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	_, _, err = auth.Login(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
}

func TestRegisterLoginVerify(t *testing.T) {
	auth, _ := newServices(t)
	ctx := context.Background()

	u, token, err := auth.Register(ctx, "ada@example.com", "pw", "Ada", "Lovelace")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, _, err = auth.Register(ctx, "ADA@example.com", "pw", "", "")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = auth.Login(ctx, "ada@example.com", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	got, token, err := auth.Login(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	id, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	me, err := auth.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "Ada", me.FirstName)

	_, err = auth.Verify(token + "x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthService(repo.NewMemoryChatRepo(), "other-secret", time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	auth, _ := newServices(t)
	auth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := auth.Issue(1)
	require.NoError(t, err)
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRoomsAndMessages(t *testing.T) {
	auth, chat := newServices(t)
	ctx := context.Background()
	ada, _, err := auth.Register(ctx, "ada@example.com", "pw", "Ada", "Lovelace")
	require.NoError(t, err)
	grace, _, err := auth.Register(ctx, "grace@example.com", "pw", "Grace", "Hopper")
	require.NoError(t, err)

	_, err = chat.CreateRoom(ctx, ada, "   ")
	assert.ErrorIs(t, err, ErrInvalidRoomName)
	_, err = chat.CreateRoom(ctx, ada, strings.Repeat("x", MaxRoomNameLength+1))
	assert.ErrorIs(t, err, ErrInvalidRoomName)

	room, err := chat.CreateRoom(ctx, ada, " general ")
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)
	assert.Equal(t, ada.ID, room.CreatedBy)

	_, err = chat.SendRoomMessage(ctx, ada, room.Key(), strings.Repeat("x", MaxContentLength+1))
	assert.ErrorIs(t, err, ErrInvalidContent)
	_, err = chat.SendRoomMessage(ctx, ada, "999", "hi")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	m, err := chat.SendRoomMessage(ctx, ada, room.Key(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)
	assert.Empty(t, m.User.Email)

	_, err = chat.DeleteMessage(ctx, grace, m.ID)
	assert.ErrorIs(t, err, ErrNotMessageOwner)
	deleted, err := chat.DeleteMessage(ctx, ada, m.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	history, err := chat.History(ctx, room.Key(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Content)

	require.NoError(t, chat.DeleteRoom(ctx, room.ID))
	assert.ErrorIs(t, chat.DeleteRoom(ctx, room.ID), ErrRoomNotFound)
}

func TestPrivateMessages(t *testing.T) {
	auth, chat := newServices(t)
	ctx := context.Background()
	ada, _, _ := auth.Register(ctx, "ada@example.com", "pw", "Ada", "Lovelace")
	grace, _, _ := auth.Register(ctx, "grace@example.com", "pw", "Grace", "Hopper")

	_, err := chat.PrivateRoom(ctx, ada.ID, ada.ID)
	assert.ErrorIs(t, err, ErrInvalidPrivateRoom)
	_, err = chat.PrivateRoom(ctx, ada.ID, 99)
	assert.ErrorIs(t, err, ErrUserNotFound)

	key, err := chat.PrivateRoom(ctx, grace.ID, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DMRoomID(ada.ID, grace.ID), key)

	m, err := chat.SendPrivateMessage(ctx, ada, grace.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, key, m.RoomID)
	assert.Equal(t, grace.ID, m.ReceiverID)

	n, err := chat.MarkRead(ctx, key, grace.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	users, err := chat.SearchUsers(ctx, "g", ada.ID)
	require.NoError(t, err)
	assert.Empty(t, users)
	users, err = chat.SearchUsers(ctx, "gra", ada.ID)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, grace.ID, users[0].ID)
}

func TestSeed(t *testing.T) {
	auth, chat := newServices(t)
	ctx := context.Background()

	seed := DemoSeed(3)
	require.Len(t, seed.Users, 3)
	require.NoError(t, seed.Apply(ctx, auth, chat))
	// 2回目の適用では何も増えない
	require.NoError(t, seed.Apply(ctx, auth, chat))

	rooms, err := chat.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "lobby", rooms[0].Name)

	_, _, err = auth.Login(ctx, seed.Users[1].Email, DemoPassword)
	assert.NoError(t, err)

	bad := Seed{Rooms: []SeedRoom{{Name: "orphan", CreatedBy: "nobody@example.com"}}}
	assert.ErrorIs(t, bad.Apply(ctx, auth, chat), ErrUserNotFound)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":[{"email":"ada@example.com","password":"pw","first_name":"Ada"}],"rooms":[{"name":"general","created_by":"ada@example.com"}]}`), 0o600))
	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, "Ada", seed.Users[0].FirstName)
	assert.Equal(t, "general", seed.Rooms[0].Name)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
