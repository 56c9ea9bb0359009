package repo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

// MemoryChatRepo はプロセス内だけで保持するリポジトリです
type MemoryChatRepo struct {
	mu sync.RWMutex

	lastUserID    int64
	lastRoomID    int64
	lastMessageID int64

	accounts map[int64]Account
	byEmail  map[string]int64
	rooms    map[int64]models.Room
	messages map[int64]models.Message
	timeline map[models.RoomKey][]int64 // ルームごとのメッセージID（送信順）
}

func NewMemoryChatRepo() *MemoryChatRepo {
	return &MemoryChatRepo{
		accounts: make(map[int64]Account),
		byEmail:  make(map[string]int64),
		rooms:    make(map[int64]models.Room),
		messages: make(map[int64]models.Message),
		timeline: make(map[models.RoomKey][]int64),
	}
}

func (mr *MemoryChatRepo) CreateUser(_ context.Context, acc Account) (models.User, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	email := normalizeEmail(acc.Email)
	if _, ok := mr.byEmail[email]; ok {
		return models.User{}, ErrEmailTaken
	}
	mr.lastUserID++
	acc.ID = mr.lastUserID
	acc.Email = email
	mr.accounts[acc.ID] = acc
	mr.byEmail[email] = acc.ID
	return acc.User, nil
}

func (mr *MemoryChatRepo) GetUser(_ context.Context, id int64) (models.User, bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	acc, ok := mr.accounts[id]
	return acc.User, ok, nil
}

func (mr *MemoryChatRepo) GetAccountByEmail(_ context.Context, email string) (Account, bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	id, ok := mr.byEmail[normalizeEmail(email)]
	if !ok {
		return Account{}, false, nil
	}
	return mr.accounts[id], true, nil
}

func (mr *MemoryChatRepo) SearchUsers(_ context.Context, name string, excludeID int64, limit int) ([]models.User, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	users := make([]models.User, 0, len(mr.accounts))
	for _, acc := range mr.accounts {
		users = append(users, acc.User)
	}
	return filterUsers(users, name, excludeID, limit), nil
}

func (mr *MemoryChatRepo) CreateRoom(_ context.Context, room models.Room) (models.Room, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.lastRoomID++
	room.ID = mr.lastRoomID
	mr.rooms[room.ID] = room
	return room, nil
}

func (mr *MemoryChatRepo) GetRoom(_ context.Context, id int64) (models.Room, bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	r, ok := mr.rooms[id]
	return r, ok, nil
}

func (mr *MemoryChatRepo) ListRooms(_ context.Context) ([]models.Room, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make([]models.Room, 0, len(mr.rooms))
	for _, r := range mr.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DeleteRoom はルームとそのメッセージを削除します
func (mr *MemoryChatRepo) DeleteRoom(_ context.Context, id int64) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if _, ok := mr.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	key := models.RoomKeyFromID(id)
	for _, mid := range mr.timeline[key] {
		delete(mr.messages, mid)
	}
	delete(mr.timeline, key)
	delete(mr.rooms, id)
	return nil
}

func (mr *MemoryChatRepo) AddMessage(_ context.Context, m models.Message) (models.Message, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.lastMessageID++
	m.ID = mr.lastMessageID
	mr.messages[m.ID] = m
	mr.timeline[m.RoomID] = append(mr.timeline[m.RoomID], m.ID)
	return m, nil
}

func (mr *MemoryChatRepo) GetMessage(_ context.Context, id int64) (models.Message, bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	m, ok := mr.messages[id]
	return m, ok, nil
}

// ListMessages は新しい方から limit 件を古い順に返します
func (mr *MemoryChatRepo) ListMessages(_ context.Context, room models.RoomKey, limit int) ([]models.Message, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	ids := mr.timeline[room]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, mr.messages[id])
	}
	return out, nil
}

func (mr *MemoryChatRepo) MarkDeleted(_ context.Context, id int64) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m, ok := mr.messages[id]
	if !ok {
		return nil
	}
	m.Deleted = true
	m.Content = ""
	mr.messages[id] = m
	return nil
}

// MarkRead は readerID 宛ての未読メッセージを既読にし、更新した件数を返します
func (mr *MemoryChatRepo) MarkRead(_ context.Context, room models.RoomKey, readerID int64) (int, error) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	n := 0
	for _, id := range mr.timeline[room] {
		m := mr.messages[id]
		if m.ReceiverID == readerID && !m.ReadStatus {
			m.ReadStatus = true
			mr.messages[id] = m
			n++
		}
	}
	return n, nil
}

func (mr *MemoryChatRepo) Close() error { return nil }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// filterUsers は氏名の部分一致（大文字小文字を区別しない）で絞り込みます
func filterUsers(users []models.User, name string, excludeID int64, limit int) []models.User {
	q := strings.ToLower(strings.TrimSpace(name))
	out := make([]models.User, 0)
	for _, u := range users {
		if u.ID == excludeID {
			continue
		}
		full := strings.ToLower(u.FirstName + " " + u.LastName)
		if !strings.Contains(full, q) {
			continue
		}
		u.Email = ""
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
