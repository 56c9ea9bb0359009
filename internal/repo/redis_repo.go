package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

type RedisChatRepo struct{ rdb *redis.Client }

func NewRedisChatRepo(rdb *redis.Client) *RedisChatRepo {
	return &RedisChatRepo{rdb: rdb}
}

func seqKey(kind string) string {
	return fmt.Sprintf("seq:%s", kind)
}
func userKey(id int64) string {
	return fmt.Sprintf("users:%d", id)
}
func emailKey(email string) string {
	return fmt.Sprintf("users:email:%s", email)
}
func roomKey(id int64) string {
	return fmt.Sprintf("rooms:%d", id)
}
func messageKey(id int64) string {
	return fmt.Sprintf("messages:%d", id)
}
func timelineKey(room models.RoomKey) string {
	return fmt.Sprintf("timeline:%s", room)
}

const (
	usersSetKey = "users"
	roomsSetKey = "rooms"
)

func (rr *RedisChatRepo) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	val, err := rr.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) { // データがない
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dst); err != nil {
		return false, err
	}
	return true, nil
}

// mgetJSON はキーをまとめて取得し、存在するものだけを decode に渡します
func (rr *RedisChatRepo) mgetJSON(ctx context.Context, keys []string, decode func([]byte) error) error {
	if len(keys) == 0 {
		return nil
	}
	vals, err := rr.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}
	for _, val := range vals {
		s, ok := val.(string)
		if !ok {
			continue
		}
		if err := decode([]byte(s)); err != nil {
			return err
		}
	}
	return nil
}

func (rr *RedisChatRepo) CreateUser(ctx context.Context, acc Account) (models.User, error) {
	email := normalizeEmail(acc.Email)
	id, err := rr.rdb.Incr(ctx, seqKey("users")).Result()
	if err != nil {
		return models.User{}, err
	}
	// メールアドレスの重複はNXで判定する
	ok, err := rr.rdb.SetNX(ctx, emailKey(email), id, 0).Result()
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, ErrEmailTaken
	}
	acc.ID = id
	acc.Email = email
	b, err := json.Marshal(acc)
	if err != nil {
		return models.User{}, err
	}
	pipe := rr.rdb.TxPipeline()
	pipe.Set(ctx, userKey(id), b, 0)
	pipe.SAdd(ctx, usersSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = rr.rdb.Del(ctx, emailKey(email)).Err()
		return models.User{}, err
	}
	return acc.User, nil
}

func (rr *RedisChatRepo) GetUser(ctx context.Context, id int64) (models.User, bool, error) {
	var acc Account
	ok, err := rr.getJSON(ctx, userKey(id), &acc)
	return acc.User, ok, err
}

func (rr *RedisChatRepo) GetAccountByEmail(ctx context.Context, email string) (Account, bool, error) {
	id, err := rr.rdb.Get(ctx, emailKey(normalizeEmail(email))).Int64()
	if errors.Is(err, redis.Nil) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	var acc Account
	ok, err := rr.getJSON(ctx, userKey(id), &acc)
	return acc, ok, err
}

func (rr *RedisChatRepo) SearchUsers(ctx context.Context, name string, excludeID int64, limit int) ([]models.User, error) {
	ids, err := rr.rdb.SMembers(ctx, usersSetKey).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "users:" + id
	}
	users := make([]models.User, 0, len(ids))
	err = rr.mgetJSON(ctx, keys, func(b []byte) error {
		var acc Account
		if err := json.Unmarshal(b, &acc); err != nil {
			return err
		}
		users = append(users, acc.User)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filterUsers(users, name, excludeID, limit), nil
}

func (rr *RedisChatRepo) CreateRoom(ctx context.Context, room models.Room) (models.Room, error) {
	id, err := rr.rdb.Incr(ctx, seqKey("rooms")).Result()
	if err != nil {
		return models.Room{}, err
	}
	room.ID = id
	b, err := json.Marshal(room)
	if err != nil {
		return models.Room{}, err
	}
	pipe := rr.rdb.TxPipeline()
	pipe.Set(ctx, roomKey(id), b, 0)
	pipe.SAdd(ctx, roomsSetKey, id)
	_, err = pipe.Exec(ctx)
	return room, err
}

func (rr *RedisChatRepo) GetRoom(ctx context.Context, id int64) (models.Room, bool, error) {
	var r models.Room
	ok, err := rr.getJSON(ctx, roomKey(id), &r)
	return r, ok, err
}

func (rr *RedisChatRepo) ListRooms(ctx context.Context) ([]models.Room, error) {
	ids, err := rr.rdb.SMembers(ctx, roomsSetKey).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "rooms:" + id
	}
	rooms := make([]models.Room, 0, len(ids))
	err = rr.mgetJSON(ctx, keys, func(b []byte) error {
		var r models.Room
		if err := json.Unmarshal(b, &r); err != nil {
			return err
		}
		rooms = append(rooms, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

// DeleteRoom はルームとそのメッセージをアトミックに削除します
func (rr *RedisChatRepo) DeleteRoom(ctx context.Context, id int64) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local room_key = KEYS[1]
		local timeline_key = KEYS[2]
		local rooms_key = KEYS[3]

		if redis.call('EXISTS', room_key) == 0 then
			return 0
		end

		-- メッセージ一覧を取得
		local message_ids = redis.call('LRANGE', timeline_key, 0, -1)

		-- 削除するキーリストを構築
		local keys_to_delete = {room_key, timeline_key}
		for _, mid in ipairs(message_ids) do
			table.insert(keys_to_delete, 'messages:' .. mid)
		end

		redis.call('DEL', unpack(keys_to_delete))
		redis.call('SREM', rooms_key, ARGV[1])
		return 1
	`

	n, err := rr.rdb.Eval(ctx, script, []string{roomKey(id), timelineKey(models.RoomKeyFromID(id)), roomsSetKey}, id).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (rr *RedisChatRepo) AddMessage(ctx context.Context, m models.Message) (models.Message, error) {
	id, err := rr.rdb.Incr(ctx, seqKey("messages")).Result()
	if err != nil {
		return models.Message{}, err
	}
	m.ID = id
	b, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, err
	}
	pipe := rr.rdb.TxPipeline()
	pipe.Set(ctx, messageKey(id), b, 0)
	pipe.RPush(ctx, timelineKey(m.RoomID), id)
	_, err = pipe.Exec(ctx)
	return m, err
}

func (rr *RedisChatRepo) GetMessage(ctx context.Context, id int64) (models.Message, bool, error) {
	var m models.Message
	ok, err := rr.getJSON(ctx, messageKey(id), &m)
	return m, ok, err
}

func (rr *RedisChatRepo) loadTimeline(ctx context.Context, room models.RoomKey, start int64) ([]models.Message, error) {
	ids, err := rr.rdb.LRange(ctx, timelineKey(room), start, -1).Result()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "messages:" + id
	}
	out := make([]models.Message, 0, len(ids))
	err = rr.mgetJSON(ctx, keys, func(b []byte) error {
		var m models.Message
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// ListMessages は新しい方から limit 件を古い順に返します
func (rr *RedisChatRepo) ListMessages(ctx context.Context, room models.RoomKey, limit int) ([]models.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	return rr.loadTimeline(ctx, room, start)
}

func (rr *RedisChatRepo) MarkDeleted(ctx context.Context, id int64) error {
	m, ok, err := rr.GetMessage(ctx, id)
	if err != nil || !ok {
		return err
	}
	m.Deleted = true
	m.Content = ""
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return rr.rdb.Set(ctx, messageKey(id), b, 0).Err()
}

// MarkRead は readerID 宛ての未読メッセージを既読にし、更新した件数を返します
func (rr *RedisChatRepo) MarkRead(ctx context.Context, room models.RoomKey, readerID int64) (int, error) {
	msgs, err := rr.loadTimeline(ctx, room, 0)
	if err != nil {
		return 0, err
	}
	pipe := rr.rdb.TxPipeline()
	n := 0
	for _, m := range msgs {
		if m.ReceiverID != readerID || m.ReadStatus {
			continue
		}
		m.ReadStatus = true
		b, err := json.Marshal(m)
		if err != nil {
			return 0, err
		}
		pipe.Set(ctx, messageKey(m.ID), b, 0)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

func (rr *RedisChatRepo) Close() error {
	return rr.rdb.Close()
}
