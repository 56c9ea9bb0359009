package view

import (
	"sync"
	"time"

	"github.com/Hola62/realtime-chat-app/internal/idgen"
)

// Toast は一定時間で自動的に消える通知です
type Toast struct {
	ID    string
	Level Level
	Text  string
}

// Toaster は表示中の通知を管理します
// 通知ごとにタイマーを持ち、ttl 経過後または Dismiss で取り除きます
type Toaster struct {
	ttl time.Duration

	mu     sync.Mutex
	toasts []Toast
	timers map[string]*time.Timer
}

func NewToaster(ttl time.Duration) *Toaster {
	return &Toaster{ttl: ttl, timers: make(map[string]*time.Timer)}
}

// Add は通知を追加し、そのIDを返します
func (t *Toaster) Add(level Level, text string) string {
	id := idgen.NewULID()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.toasts = append(t.toasts, Toast{ID: id, Level: level, Text: text})
	if t.ttl > 0 {
		t.timers[id] = time.AfterFunc(t.ttl, func() { t.Dismiss(id) })
	}
	return id
}

// Dismiss は通知を取り除きます（既に消えていれば何もしない）
func (t *Toaster) Dismiss(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
	for i, toast := range t.toasts {
		if toast.ID == id {
			t.toasts = append(t.toasts[:i], t.toasts[i+1:]...)
			return
		}
	}
}

// Active は表示中の通知を古い順に返します
func (t *Toaster) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast(nil), t.toasts...)
}

// Stop はすべてのタイマーを止めます
func (t *Toaster) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.toasts = nil
}
