package view

import (
	"bytes"
	"testing"
	"time"

	"github.com/icrowley/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

func TestFormatTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC) // Friday

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, ""},
		{"seconds", now.Add(-30 * time.Second), "Just now"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"today", now.Add(-3 * time.Hour), "12:30"},
		{"this week", now.Add(-2 * 24 * time.Hour), "Wed"},
		{"older", now.Add(-30 * 24 * time.Hour), "Apr 10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTime(tt.t, now))
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hi there", Sanitize("<b>hi</b> there"))
	assert.Equal(t, "a < b & c", Sanitize("a < b & c"))
	assert.Equal(t, "alert", Sanitize("\x1balert\x07"))
	assert.Equal(t, "line1\nline2", Sanitize("line1\nline2"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo wörld", 5))
	assert.Equal(t, "short", Truncate("short", 50))
	assert.Equal(t, "", Truncate("x", 0))
}

func TestBodyNeverExposesDeletedContent(t *testing.T) {
	m := models.Message{ID: 1, Content: "secret", Deleted: true}
	assert.Equal(t, DeletedPlaceholder, Body(m))
	m.Deleted = false
	assert.Equal(t, "secret", Body(m))
}

func TestToasterAutoDismiss(t *testing.T) {
	ts := NewToaster(30 * time.Millisecond)
	first := ts.Add(LevelInfo, "one")
	ts.Add(LevelError, "two")
	require.Len(t, ts.Active(), 2)
	assert.Equal(t, first, ts.Active()[0].ID)

	ts.Dismiss(first)
	require.Len(t, ts.Active(), 1)
	assert.Equal(t, "two", ts.Active()[0].Text)

	require.Eventually(t, func() bool { return len(ts.Active()) == 0 }, time.Second, 5*time.Millisecond)
	ts.Dismiss(first)
}

func TestConsoleRendering(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, time.Minute)
	defer c.Close()

	self := models.User{ID: 1, FirstName: fake.FirstName(), LastName: fake.LastName()}
	peer := models.User{ID: 7, FirstName: "Grace", LastName: "Hopper"}
	c.ShowCurrentUser(self)

	// 会話が無い間は表示しない
	c.AppendMessage(models.Message{ID: 99, Content: "hidden"})
	assert.NotContains(t, buf.String(), "hidden")

	c.ShowConversation(models.DirectConversation(peer))
	c.ShowHistory([]models.Message{
		{ID: 1, UserID: 7, User: peer, Content: "<i>hello</i>"},
		{ID: 2, UserID: 1, User: self, Content: "top secret"},
	})
	c.MarkDeleted(2)
	c.ShowTyping(7, true)
	c.ShowPresence(7, "online")
	c.Notify(LevelError, "boom")

	out := buf.String()
	assert.Contains(t, out, "== @Grace Hopper ==")
	assert.Contains(t, out, "Grace Hopper: hello")
	assert.Contains(t, out, "You: "+DeletedPlaceholder)
	assert.Contains(t, out, "Grace Hopper is typing...")
	assert.Contains(t, out, "Grace Hopper is online")
	assert.Contains(t, out, "[error] boom")
	require.Len(t, c.Toasts(), 1)
}

func TestRecorderDeletedRender(t *testing.T) {
	r := NewRecorder()
	r.ShowConversation(models.RoomConversation(models.Room{ID: 1}))
	r.ShowHistory([]models.Message{{ID: 5, Content: "gone soon"}})
	r.MarkDeleted(5)
	r.Do(func(r *Recorder) {
		assert.Equal(t, []string{DeletedPlaceholder}, r.Bodies)
		assert.Empty(t, r.Shown[0].Content)
	})
}
