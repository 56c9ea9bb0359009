package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hola62/realtime-chat-app/internal/chat"
	"github.com/Hola62/realtime-chat-app/internal/models"
)

type fakeEngine struct {
	rooms    []models.Room
	server   []models.Room
	opened   []string
	sent     []string
	deleted  []int64
	searched []string
	loggedIn bool
	sendErr  error
}

func (f *fakeEngine) OpenRoom(room models.Room) error {
	f.opened = append(f.opened, "room:"+room.Name)
	return nil
}

func (f *fakeEngine) OpenDirect(u models.User) error {
	f.opened = append(f.opened, "dm:"+u.FirstName)
	return nil
}

func (f *fakeEngine) SendMessage(text string) error {
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeEngine) DeleteMessage(id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) LoadRooms(context.Context) ([]models.Room, error) {
	f.rooms = f.server
	return f.rooms, nil
}

func (f *fakeEngine) CreateRoom(_ context.Context, name string) (models.Room, error) {
	return models.Room{ID: 99, Name: name}, nil
}

func (f *fakeEngine) DeleteRoom(context.Context, int64) error { return nil }

func (f *fakeEngine) SearchUsers(_ context.Context, name string) ([]models.User, error) {
	f.searched = append(f.searched, name)
	return nil, nil
}

func (f *fakeEngine) Rooms() []models.Room { return f.rooms }

func (f *fakeEngine) Logout() error {
	f.loggedIn = false
	return nil
}

type fakeUsers map[int64]models.User

func (u fakeUsers) GetUser(_ context.Context, id int64) (models.User, error) {
	return u[id], nil
}

func TestReplCommands(t *testing.T) {
	eng := &fakeEngine{server: []models.Room{{ID: 12, Name: "General"}}, loggedIn: true}
	var out bytes.Buffer
	r := &repl{engine: eng, gw: fakeUsers{7: {ID: 7, FirstName: "Grace"}}, out: &out}

	input := strings.Join([]string{
		"/join general",
		"hello there",
		"/dm 7",
		"/search  gra ",
		"/delete 41",
		"/delete nope",
		"/bogus",
		"",
		"/quit",
		"never sent",
	}, "\n")
	require.NoError(t, r.loop(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []string{"room:General", "dm:Grace"}, eng.opened)
	assert.Equal(t, []string{"hello there"}, eng.sent)
	assert.Equal(t, []string{"gra"}, eng.searched)
	assert.Equal(t, []int64{41}, eng.deleted)
	assert.Contains(t, out.String(), `invalid message id "nope"`)
	assert.Contains(t, out.String(), "unknown command /bogus")
}

func TestReplJoinByIDAndUnknownRoom(t *testing.T) {
	eng := &fakeEngine{rooms: []models.Room{{ID: 12, Name: "general"}}}
	r := &repl{engine: eng, out: &bytes.Buffer{}}

	require.NoError(t, r.run(context.Background(), "/join 12"))
	assert.Equal(t, []string{"room:general"}, eng.opened)

	err := r.run(context.Background(), "/join nowhere")
	assert.EqualError(t, err, `no room named "nowhere"`)
}

func TestReplLogoutQuits(t *testing.T) {
	eng := &fakeEngine{loggedIn: true}
	r := &repl{engine: eng, out: &bytes.Buffer{}}
	assert.ErrorIs(t, r.run(context.Background(), "/logout"), errQuit)
	assert.False(t, eng.loggedIn)
}

func TestReplHidesSurfacedErrors(t *testing.T) {
	eng := &fakeEngine{sendErr: fmt.Errorf("send: %w", chat.ErrNotified)}
	var out bytes.Buffer
	r := &repl{engine: eng, out: &out}
	require.NoError(t, r.loop(context.Background(), strings.NewReader("way too long\n")))
	assert.Empty(t, out.String())

	eng.sendErr = errors.New("socket closed")
	require.NoError(t, r.loop(context.Background(), strings.NewReader("again\n")))
	assert.Equal(t, "error: socket closed\n", out.String())
}
