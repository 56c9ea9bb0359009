package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/reconciler"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

// OpenRoom はルームを開きます
func (e *Engine) OpenRoom(room models.Room) error {
	return e.open(models.RoomConversation(room))
}

// OpenDirect はユーザーとのDMを開きます
func (e *Engine) OpenDirect(u models.User) error {
	return e.open(models.DirectConversation(u))
}

// open はアクティブな会話を切り替えます
// 前の会話の leave はセッションが送り、参照の確定後に join と履歴要求を送ります
func (e *Engine) open(ref models.ConversationRef) error {
	return e.call(func() error {
		if ref.Kind == models.KindDirect && ref.Peer.ID == e.sess.User().ID {
			return ErrSelfChat
		}
		if err := e.sess.SetActive(ref); err != nil {
			return err
		}
		var effects []reconciler.Effect
		e.state, effects = e.rec.Join(e.state, e.input(), ref)
		e.apply(effects)
		return nil
	})
}

// SendMessage はアクティブな会話にメッセージを送信します
// 前後の空白は除去し、空のメッセージは何もしません
func (e *Engine) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return e.call(func() error {
		if utf8.RuneCountInString(text) > MaxMessageLength {
			e.render.Notify(view.LevelError, fmt.Sprintf("Message is too long (max %d characters)", MaxMessageLength))
			return notified(ErrMessageTooLong)
		}
		active := e.sess.Active()
		cmd, ok := realtime.SendCommand(active, e.sess.User().ID, text)
		if !ok {
			return ErrNoConversation
		}
		if err := e.rt.Emit(cmd); err != nil {
			e.notifyEmitError(err)
			return notified(err)
		}
		e.sess.StopTyping()
		return nil
	})
}

// InputChanged は入力欄が変更されるたびに呼びます
func (e *Engine) InputChanged() {
	e.post(e.sess.InputChanged)
}

// DeleteMessage は自分のメッセージを削除します
func (e *Engine) DeleteMessage(messageID int64) error {
	return e.call(func() error {
		active := e.sess.Active()
		if active.IsZero() {
			return ErrNoConversation
		}
		var target *models.Message
		for i := range e.state.Messages {
			if e.state.Messages[i].ID == messageID {
				target = &e.state.Messages[i]
				break
			}
		}
		if target == nil {
			return ErrMessageNotFound
		}
		if target.UserID != e.sess.User().ID {
			e.render.Notify(view.LevelError, "You can only delete your own messages")
			return notified(ErrNotOwner)
		}
		if target.Deleted {
			return nil
		}
		if err := e.rt.Emit(realtime.DeleteCommand(active, e.sess.User().ID, messageID)); err != nil {
			e.notifyEmitError(err)
			return notified(err)
		}
		return nil
	})
}

// LoadRooms はルーム一覧を取得して描画します
func (e *Engine) LoadRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := e.gw.ListRooms(ctx)
	if err != nil {
		return nil, e.fail("Failed to load rooms", err)
	}
	err = e.call(func() error {
		e.rooms = append([]models.Room(nil), rooms...)
		e.render.ShowRooms(rooms)
		return nil
	})
	return rooms, err
}

// CreateRoom はルームを作成し、作成したルームを開きます
func (e *Engine) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxRoomNameLength {
		e.post(func() {
			e.render.Notify(view.LevelError, fmt.Sprintf("Room name must be between 1 and %d characters", MaxRoomNameLength))
		})
		return models.Room{}, notified(ErrInvalidRoomName)
	}
	room, err := e.gw.CreateRoom(ctx, name)
	if err != nil {
		return models.Room{}, e.fail("Failed to create room", err)
	}
	err = e.call(func() error {
		e.rooms = append(e.rooms, room)
		e.render.ShowRooms(e.rooms)
		e.render.Notify(view.LevelSuccess, fmt.Sprintf("Room %q created", room.Name))
		return nil
	})
	if err != nil {
		return room, err
	}
	log.Infof("Room created: roomId=%d", room.ID)
	return room, e.OpenRoom(room)
}

// DeleteRoom はルームを削除します
// 削除したルームを表示中であれば会話なしの状態にします
func (e *Engine) DeleteRoom(ctx context.Context, id int64) error {
	if err := e.gw.DeleteRoom(ctx, id); err != nil {
		return e.fail("Failed to delete room", err)
	}
	log.Infof("Room deleted: roomId=%d", id)
	return e.call(func() error {
		e.removeRoom(models.RoomKeyFromID(id))
		e.render.Notify(view.LevelSuccess, "Room deleted")
		return nil
	})
}

// removeRoom はルームを一覧から外し、表示中であれば会話なしの状態にします（ループ上で呼ぶ）
// 一覧か表示中の会話から取り除いた場合に true を返します
func (e *Engine) removeRoom(key models.RoomKey) bool {
	kept := e.rooms[:0:0]
	for _, r := range e.rooms {
		if r.Key() != key {
			kept = append(kept, r)
		}
	}
	removed := len(kept) != len(e.rooms)
	e.rooms = kept
	if e.sess.Active().IsRoom(key) {
		removed = true
		e.sess.Clear()
		var effects []reconciler.Effect
		e.state, effects = e.rec.Clear(e.state)
		e.apply(effects)
	}
	e.render.ShowRooms(e.rooms)
	return removed
}

// SearchUsers は名前でユーザーを検索して描画します（自分は除く）
func (e *Engine) SearchUsers(ctx context.Context, name string) ([]models.User, error) {
	users, err := e.gw.SearchUsers(ctx, name)
	if err != nil {
		return nil, e.fail("Failed to search users", err)
	}
	var out []models.User
	err = e.call(func() error {
		self := e.sess.User().ID
		out = make([]models.User, 0, len(users))
		for _, u := range users {
			if u.ID != self {
				out = append(out, u)
			}
		}
		e.render.ShowSearchResults(out)
		return nil
	})
	return out, err
}

// Logout はトークンを破棄してセッションを閉じます
func (e *Engine) Logout() error {
	err := e.call(func() error {
		if active := e.sess.Active(); !active.IsZero() {
			if cmd, ok := realtime.LeaveCommand(active, e.sess.User().ID); ok {
				_ = e.rt.Emit(cmd)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.authFailed("Logged out")
	return e.Sync()
}
