package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Hola62/realtime-chat-app/internal/chat"
	"github.com/Hola62/realtime-chat-app/internal/models"
)

const helpText = `Commands:
  /rooms                 list rooms
  /join <room>           open a room by name or id
  /dm <user id>          open a direct conversation
  /search <name>         search users by name
  /create <name>         create a room and open it
  /droproom <room id>    delete a room
  /delete <message id>   delete one of your messages
  /logout                log out and quit
  /quit                  quit
Anything else is sent to the open conversation.`

var errQuit = errors.New("quit")

// chatEngine は対話モードから使うエンジンの操作です
type chatEngine interface {
	OpenRoom(room models.Room) error
	OpenDirect(u models.User) error
	SendMessage(text string) error
	DeleteMessage(messageID int64) error
	LoadRooms(ctx context.Context) ([]models.Room, error)
	CreateRoom(ctx context.Context, name string) (models.Room, error)
	DeleteRoom(ctx context.Context, id int64) error
	SearchUsers(ctx context.Context, name string) ([]models.User, error)
	Rooms() []models.Room
	Logout() error
}

type userLookup interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
}

type repl struct {
	engine chatEngine
	gw     userLookup
	out    io.Writer
}

// loop は入力を1行ずつ処理します（EOF、/quit、ctx のキャンセルで終了）
func (r *repl) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.run(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil && !errors.Is(err, chat.ErrNotified) {
				fmt.Fprintln(r.out, "error:", err)
			}
		}
	}
}

func (r *repl) run(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return r.engine.SendMessage(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/quit", "/exit":
		return errQuit
	case "/logout":
		if err := r.engine.Logout(); err != nil {
			return err
		}
		return errQuit
	case "/rooms":
		_, err := r.engine.LoadRooms(ctx)
		return err
	case "/join":
		room, err := r.findRoom(ctx, arg)
		if err != nil {
			return err
		}
		return r.engine.OpenRoom(room)
	case "/dm":
		id, err := parseArgID(arg, "user id")
		if err != nil {
			return err
		}
		u, err := r.gw.GetUser(ctx, id)
		if err != nil {
			return err
		}
		return r.engine.OpenDirect(u)
	case "/search":
		_, err := r.engine.SearchUsers(ctx, arg)
		return err
	case "/create":
		_, err := r.engine.CreateRoom(ctx, arg)
		return err
	case "/droproom":
		id, err := parseArgID(arg, "room id")
		if err != nil {
			return err
		}
		return r.engine.DeleteRoom(ctx, id)
	case "/delete":
		id, err := parseArgID(arg, "message id")
		if err != nil {
			return err
		}
		return r.engine.DeleteMessage(id)
	default:
		return fmt.Errorf("unknown command %s, type /help", cmd)
	}
	return nil
}

// findRoom は名前（大文字小文字を区別しない）またはIDでルームを探します
// 見つからない場合は一覧を取り直してからもう一度探します
func (r *repl) findRoom(ctx context.Context, ref string) (models.Room, error) {
	if ref == "" {
		return models.Room{}, errors.New("usage: /join <room>")
	}
	match := func(rooms []models.Room) (models.Room, bool) {
		for _, room := range rooms {
			if strings.EqualFold(room.Name, ref) || string(room.Key()) == ref {
				return room, true
			}
		}
		return models.Room{}, false
	}
	if room, ok := match(r.engine.Rooms()); ok {
		return room, nil
	}
	rooms, err := r.engine.LoadRooms(ctx)
	if err != nil {
		return models.Room{}, err
	}
	if room, ok := match(rooms); ok {
		return room, nil
	}
	return models.Room{}, fmt.Errorf("no room named %q", ref)
}

func parseArgID(arg, name string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, arg)
	}
	return id, nil
}
