package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Envelope はWebSocketで送受信するフレームの構造
// すべてのイベントはこの形式でやり取りされます
type Envelope struct {
	Type    string          `json:"type"`              // イベント名 (例: "join_room", "new_message")
	Payload json.RawMessage `json:"payload,omitempty"` // イベントのペイロード
}

// 接続維持用のフレーム
const (
	EnvelopePing = "ping"
	EnvelopePong = "pong"
)

const (
	wsDefaultWriteTimeout = 10 * time.Second
	wsDefaultPingInterval = 30 * time.Second
)

// WebSocketTransport は {type, payload} 形式のフレームを使う素のWebSocketトランスポートです
type WebSocketTransport struct {
	URL          string        // 接続先 (例: ws://localhost:5000/ws)
	WriteTimeout time.Duration // 書き込みのタイムアウト
	PingInterval time.Duration // ping フレームの送信間隔（0 で無効）

	mu   sync.Mutex // conn への書き込みは1つのgoroutineに限定する
	conn *websocket.Conn
	done chan struct{}
}

// NewWebSocketTransport はデフォルト設定の WebSocketTransport を作成します
func NewWebSocketTransport(rawURL string) *WebSocketTransport {
	return &WebSocketTransport{
		URL:          rawURL,
		WriteTimeout: wsDefaultWriteTimeout,
		PingInterval: wsDefaultPingInterval,
	}
}

// Dial は接続を確立し、受信ループを開始します
func (t *WebSocketTransport) Dial(ctx context.Context, token string, deliver func(Event)) error {
	u, err := url.Parse(t.URL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return ErrRejected
		}
		return err
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.done = done
	t.mu.Unlock()

	log.Infof("WebSocket connected: url=%s", t.URL)
	deliver(Event{Name: EventConnect})

	go t.readLoop(conn, deliver)
	if t.PingInterval > 0 {
		go t.pinger(done)
	}
	return nil
}

// readLoop は受信したフレームを順番に deliver に渡します
func (t *WebSocketTransport) readLoop(conn *websocket.Conn, deliver func(Event)) {
	defer deliver(Event{Name: EventDisconnect})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warningf("WebSocket error: %v", err)
			}
			return
		}
		switch env.Type {
		case "", EnvelopePong:
			continue
		}
		deliver(Event{Name: env.Type, Payload: env.Payload})
	}
}

func (t *WebSocketTransport) pinger(done chan struct{}) {
	ticker := time.NewTicker(t.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := t.write(Envelope{Type: EnvelopePing}); err != nil {
				log.Debugf("Failed to send ping: %v", err)
				return
			}
		}
	}
}

// Emit はイベントを1フレームとして送信します
func (t *WebSocketTransport) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.write(Envelope{Type: event, Payload: raw})
}

func (t *WebSocketTransport) write(env Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrNotConnected
	}
	if t.WriteTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout))
	}
	return t.conn.WriteJSON(env)
}

// Close は接続を閉じます
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}
