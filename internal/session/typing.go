package session

import (
	"time"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

// Debouncer は入力中インジケーターの送信を間引きます
// キー入力ごとに true を送り、idle の間入力が無ければ false を送ります。
// タイマーは常に高々1つで、新しい入力のたびに張り直されます。
type Debouncer struct {
	idle time.Duration
	post func(func())
	emit func(ref models.ConversationRef, typing bool)

	timer *time.Timer
	gen   uint64
}

// NewDebouncer は新しい Debouncer を作成します
// タイマーの発火は post を通して所有者のループで処理されます
func NewDebouncer(idle time.Duration, post func(func()), emit func(models.ConversationRef, bool)) *Debouncer {
	return &Debouncer{idle: idle, post: post, emit: emit}
}

// Touch は true を送りタイマーを張り直します
func (d *Debouncer) Touch(ref models.ConversationRef) {
	d.emit(ref, true)
	d.stop()

	gen := d.gen
	d.timer = time.AfterFunc(d.idle, func() {
		d.post(func() {
			// 停止済みのタイマーが既に発火していた場合は世代が進んでいる
			if gen != d.gen {
				return
			}
			d.timer = nil
			d.gen++
			d.emit(ref, false)
		})
	})
}

// Cancel は false を送らずにタイマーを止めます
func (d *Debouncer) Cancel() {
	d.stop()
}

// Pending はタイマーが動いているかを返します
func (d *Debouncer) Pending() bool {
	return d.timer != nil
}

func (d *Debouncer) stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
