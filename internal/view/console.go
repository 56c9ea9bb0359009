package view

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

// Console はテキスト端末に描画する Renderer です
type Console struct {
	out    io.Writer
	toasts *Toaster
	now    func() time.Time

	mu      sync.Mutex
	self    models.User
	current models.ConversationRef
	shown   bool
	msgs    map[int64]models.Message
}

// NewConsole は新しい Console を作成します
// toastTTL は通知が表示中として扱われる時間です
func NewConsole(out io.Writer, toastTTL time.Duration) *Console {
	return &Console{
		out:    out,
		toasts: NewToaster(toastTTL),
		now:    time.Now,
		msgs:   make(map[int64]models.Message),
	}
}

// Toasts は表示中の通知を返します
func (c *Console) Toasts() []Toast { return c.toasts.Active() }

// Close は通知のタイマーを止めます
func (c *Console) Close() { c.toasts.Stop() }

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) ShowConversation(ref models.ConversationRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = ref
	c.shown = !ref.IsZero()
	c.msgs = make(map[int64]models.Message)
	switch ref.Kind {
	case models.KindRoom:
		c.printf("== #%s ==", Sanitize(ref.Room.Name))
	case models.KindDirect:
		c.printf("== @%s ==", Sanitize(ref.Peer.DisplayName()))
	default:
		c.printf("== no conversation ==")
	}
}

func (c *Console) ShowHistory(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shown {
		return
	}
	if len(msgs) == 0 {
		c.printf("  (no messages yet)")
		return
	}
	for _, m := range msgs {
		c.msgs[m.ID] = m
		c.printf("%s", c.line(m))
	}
}

func (c *Console) AppendMessage(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.shown {
		return
	}
	c.msgs[m.ID] = m
	c.printf("%s", c.line(m))
}

func (c *Console) MarkDeleted(messageID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.msgs[messageID]
	if !ok {
		return
	}
	m.Deleted = true
	m.Content = ""
	c.msgs[messageID] = m
	c.printf("%s", c.line(m))
}

func (c *Console) line(m models.Message) string {
	author := m.User.DisplayName()
	if m.User.ID == 0 && m.UserID != 0 {
		author = fmt.Sprintf("User %d", m.UserID)
	}
	if m.UserID == c.self.ID && c.self.ID != 0 {
		author = "You"
	}
	var marks []string
	if m.UserID == c.self.ID && m.ReadStatus && c.current.Kind == models.KindDirect {
		marks = append(marks, "read")
	}
	suffix := ""
	if len(marks) > 0 {
		suffix = " (" + strings.Join(marks, ", ") + ")"
	}
	return fmt.Sprintf("  #%d [%s] %s: %s%s", m.ID, FormatTime(m.Timestamp.Time, c.now()), Sanitize(author), Body(m), suffix)
}

func (c *Console) ShowMemberCount(room models.RoomKey, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.IsRoom(room) {
		c.printf("  %d members online", count)
	}
}

func (c *Console) ShowTyping(userID int64, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !typing {
		return
	}
	who := "Someone"
	if c.current.IsPeer(userID) {
		who = Sanitize(c.current.Peer.DisplayName())
	}
	c.printf("  %s is typing...", who)
}

func (c *Console) ShowPresence(userID int64, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.IsPeer(userID) {
		c.printf("  %s is %s", Sanitize(c.current.Peer.DisplayName()), Sanitize(status))
	}
}

func (c *Console) MarkRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("  (seen)")
}

func (c *Console) ShowNotice(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown {
		c.printf("  * %s", Sanitize(text))
	}
}

func (c *Console) Notify(level Level, text string) {
	c.toasts.Add(level, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("[%s] %s", level, Sanitize(text))
}

func (c *Console) ShowConnectivity(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if connected {
		c.printf("[connected]")
	} else {
		c.printf("[disconnected]")
	}
}

func (c *Console) ShowRecentDMs(list []models.RecentDM, meta map[int64]models.DMMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(list) == 0 {
		return
	}
	c.printf("Direct messages:")
	for _, dm := range list {
		m := meta[dm.ID]
		line := fmt.Sprintf("  @%d %s", dm.ID, Sanitize(dm.User().DisplayName()))
		if m.Unread > 0 {
			line += fmt.Sprintf(" [%d]", m.Unread)
		}
		if m.LastMessage != "" {
			line += fmt.Sprintf(" - %s (%s)", Sanitize(m.LastMessage), FormatTime(m.LastTime.Time, c.now()))
		}
		c.printf("%s", line)
	}
}

func (c *Console) ShowRooms(rooms []models.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sorted := append([]models.Room(nil), rooms...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	c.printf("Rooms:")
	if len(sorted) == 0 {
		c.printf("  (none)")
	}
	for _, r := range sorted {
		c.printf("  %d #%s", r.ID, Sanitize(r.Name))
	}
}

func (c *Console) ShowSearchResults(users []models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(users) == 0 {
		c.printf("No users found")
		return
	}
	for _, u := range users {
		c.printf("  @%d %s <%s>", u.ID, Sanitize(u.DisplayName()), Sanitize(u.Email))
	}
}

func (c *Console) ShowCurrentUser(u models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = u
	c.printf("Signed in as %s (%s)", Sanitize(u.DisplayName()), u.Initials())
}

func (c *Console) RequireLogin(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shown = false
	c.current = models.ConversationRef{}
	c.printf("Please log in again: %s", reason)
}
