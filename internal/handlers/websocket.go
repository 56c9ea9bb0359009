package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

const (
	writeWait      = 10 * time.Second    // 書き込みのタイムアウト
	pongWait       = 60 * time.Second    // クライアントからの受信待ちの上限
	pingPeriod     = (pongWait * 9) / 10 // サーバーからの ping 間隔
	maxMessageSize = 64 * 1024           // 受信フレームの上限
	sendBufferSize = 256                 // 送信キューの長さ
)

// wsPeer は1つのWebSocket接続を表します
// 送信はキューを経由して writePump の1つのgoroutineだけが行います
type wsPeer struct {
	id   string
	user models.User
	conn *websocket.Conn

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func (p *wsPeer) ID() string        { return p.id }
func (p *wsPeer) User() models.User { return p.user }

// Emit はイベントを {type, payload} 形式で送信キューに積みます
// キューが一杯の場合は接続を閉じます
func (p *wsPeer) Emit(event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Failed to marshal payload: event=%s, error=%v", event, err)
		return
	}
	frame, err := json.Marshal(realtime.Envelope{Type: event, Payload: body})
	if err != nil {
		log.Errorf("Failed to marshal envelope: event=%s, error=%v", event, err)
		return
	}
	select {
	case <-p.closed:
	case p.send <- frame:
	default:
		log.Warningf("Send queue full, closing connection: connId=%s", p.id)
		p.close()
	}
}

func (p *wsPeer) close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	auth     *service.AuthService
	hub      *ChatHub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(auth *service.AuthService, hub *ChatHub) *WebSocketHandler {
	return &WebSocketHandler{
		auth: auth,
		hub:  hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 開発用サーバーのためOriginは検査しない
				return true
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. トークンの検証（失敗時はアップグレードせず401）
// 2. HTTPからWebSocketへのアップグレード
// 3. ハブへの登録と送信ループの開始
// 4. 受信ループ（切断時にハブから登録解除）
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		log.Debugf("WebSocket rejected: remote=%s, error=%v", r.RemoteAddr, err)
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("WebSocket upgrade error: %v", err)
		return
	}

	peer := &wsPeer{
		id:     uuid.NewString(),
		user:   user,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	h.hub.Connect(peer)
	go peer.writePump()

	defer func() {
		h.hub.Disconnect(peer)
		peer.close()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// メッセージ受信ループ
	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warningf("WebSocket error: connId=%s, error=%v", peer.id, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch env.Type {
		case realtime.EnvelopePing:
			// ping/pongで接続を維持
			peer.Emit(realtime.EnvelopePong, struct{}{})
		case "":
			peer.Emit(realtime.EventError, realtime.Error{Message: "Missing event type"})
		default:
			h.hub.Dispatch(peer, env.Type, env.Payload)
		}
	}
}

// writePump は送信キューのフレームを書き込み、定期的に ping を送ります
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case frame := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debugf("WebSocket write failed: connId=%s, error=%v", p.id, err)
				p.close()
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.closed:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
