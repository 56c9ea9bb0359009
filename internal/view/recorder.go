package view

import (
	"sync"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

// Notification は Recorder が記録した通知です
type Notification struct {
	Level Level
	Text  string
}

// Recorder は描画指示を画面の代わりにメモリ上に保持する Renderer です
// 表示中のメッセージは Console と同じ規則（削除済みは固定文言）で本文を保持します
type Recorder struct {
	mu sync.Mutex

	Conversation  models.ConversationRef
	Shown         []models.Message
	Bodies        []string
	MemberCounts  map[models.RoomKey]int
	Typing        map[int64]bool
	Presence      map[int64]string
	ReadMarks     int
	Notices       []string
	Notifications []Notification
	Connected     bool
	RecentDMs     []models.RecentDM
	DMMeta        map[int64]models.DMMeta
	Rooms         []models.Room
	SearchResults []models.User
	CurrentUser   models.User
	LoginRequired string
	HistoryCalls  int
}

func NewRecorder() *Recorder {
	return &Recorder{
		MemberCounts: make(map[models.RoomKey]int),
		Typing:       make(map[int64]bool),
		Presence:     make(map[int64]string),
	}
}

// Do はロックを取った状態で f を呼びます（テストから状態を読むため）
func (r *Recorder) Do(f func(r *Recorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r)
}

func (r *Recorder) ShowConversation(ref models.ConversationRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Conversation = ref
	r.Shown = nil
	r.Bodies = nil
	r.Typing = make(map[int64]bool)
}

func (r *Recorder) ShowHistory(msgs []models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.HistoryCalls++
	r.Shown = nil
	r.Bodies = nil
	for _, m := range msgs {
		r.Shown = append(r.Shown, m)
		r.Bodies = append(r.Bodies, Body(m))
	}
}

func (r *Recorder) AppendMessage(m models.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Conversation.IsZero() {
		return
	}
	r.Shown = append(r.Shown, m)
	r.Bodies = append(r.Bodies, Body(m))
}

func (r *Recorder) MarkDeleted(messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.Shown {
		if m.ID == messageID {
			m.Deleted = true
			m.Content = ""
			r.Shown[i] = m
			r.Bodies[i] = Body(m)
		}
	}
}

func (r *Recorder) ShowMemberCount(room models.RoomKey, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MemberCounts[room] = count
}

func (r *Recorder) ShowTyping(userID int64, typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Typing[userID] = typing
}

func (r *Recorder) ShowPresence(userID int64, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Presence[userID] = status
}

func (r *Recorder) MarkRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ReadMarks++
}

func (r *Recorder) ShowNotice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notices = append(r.Notices, text)
}

func (r *Recorder) Notify(level Level, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifications = append(r.Notifications, Notification{Level: level, Text: text})
}

func (r *Recorder) ShowConnectivity(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Connected = connected
}

func (r *Recorder) ShowRecentDMs(list []models.RecentDM, meta map[int64]models.DMMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecentDMs = append([]models.RecentDM(nil), list...)
	r.DMMeta = make(map[int64]models.DMMeta, len(meta))
	for k, v := range meta {
		r.DMMeta[k] = v
	}
}

func (r *Recorder) ShowRooms(rooms []models.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rooms = append([]models.Room(nil), rooms...)
}

func (r *Recorder) ShowSearchResults(users []models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SearchResults = append([]models.User(nil), users...)
}

func (r *Recorder) ShowCurrentUser(u models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CurrentUser = u
}

func (r *Recorder) RequireLogin(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LoginRequired = reason
	r.Conversation = models.ConversationRef{}
	r.Shown = nil
	r.Bodies = nil
}
