package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	gosocketio "github.com/OpenBazaar/golang-socketio"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

// userHeader は認証済みユーザーIDを接続に引き渡すための内部ヘッダーです
const userHeader = "X-Chat-User-Id"

// sioPeer は1つの Socket.IO 接続を表します
type sioPeer struct {
	ch   *gosocketio.Channel
	user models.User
}

func (p *sioPeer) ID() string        { return p.ch.Id() }
func (p *sioPeer) User() models.User { return p.user }

func (p *sioPeer) Emit(event string, payload any) {
	if err := p.ch.Emit(event, []interface{}{payload}); err != nil {
		log.Warningf("Socket.IO emit failed: connId=%s, event=%s, error=%v", p.ch.Id(), event, err)
	}
}

// SocketIOHandler は Socket.IO（EIO=3）の接続をハブにつなぎます
//
// gosocketio は受信イベントごとに別のgoroutineでハンドラーを呼ぶため、
// 同じ接続から連続して送られたイベントの処理順は保証されません。
type SocketIOHandler struct {
	auth   *service.AuthService
	chat   *service.ChatService
	hub    *ChatHub
	server *gosocketio.Server
	peers  sync.Map // 接続ID -> *sioEntry
}

func NewSocketIOHandler(auth *service.AuthService, chat *service.ChatService, hub *ChatHub) *SocketIOHandler {
	h := &SocketIOHandler{auth: auth, chat: chat, hub: hub}
	h.server = gosocketio.NewServer(realtime.NewServerTransport(h.authorize))

	h.server.On(gosocketio.OnConnection, h.onConnection)
	h.server.On(gosocketio.OnDisconnection, h.onDisconnection)
	for _, event := range hub.Events() {
		event := event
		h.server.On(event, func(c *gosocketio.Channel, raw json.RawMessage) {
			h.dispatch(c, event, raw)
		})
	}
	return h
}

func (h *SocketIOHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

// authorize はアップグレード前にトークンを検証します
// 検証したユーザーIDは内部ヘッダーで接続に引き渡します（クライアントが送った値は上書き）
func (h *SocketIOHandler) authorize(r *http.Request) error {
	id, err := h.auth.Verify(bearerToken(r))
	if err != nil {
		log.Debugf("Socket.IO rejected: remote=%s, error=%v", r.RemoteAddr, err)
		return err
	}
	r.Header.Set(userHeader, strconv.FormatInt(id, 10))
	return nil
}

// sioEntry は接続ごとの登録を一度だけ行うための入れ物です
// 接続ハンドラーより先にイベントが届いた場合も、登録が終わるまで待たせます
type sioEntry struct {
	once sync.Once
	peer *sioPeer
}

// peer は接続に対応する sioPeer を返します（初回はハブに登録）
func (h *SocketIOHandler) peer(c *gosocketio.Channel) *sioPeer {
	v, _ := h.peers.LoadOrStore(c.Id(), &sioEntry{})
	e := v.(*sioEntry)
	e.once.Do(func() { e.peer = h.register(c) })
	if e.peer == nil {
		// 登録に失敗した接続は切断する（Close は切断ハンドラーを同期的に呼ぶため once の外で行う）
		c.Close()
	}
	return e.peer
}

func (h *SocketIOHandler) register(c *gosocketio.Channel) *sioPeer {
	id, err := strconv.ParseInt(c.RequestHeader().Get(userHeader), 10, 64)
	if err != nil {
		log.Errorf("Socket.IO connection without user: connId=%s", c.Id())
		return nil
	}
	u, err := h.chat.GetUser(context.Background(), id)
	if err != nil {
		log.Warningf("Socket.IO user lookup failed: userId=%d, error=%v", id, err)
		return nil
	}
	p := &sioPeer{ch: c, user: u}
	h.hub.Connect(p)
	return p
}

func (h *SocketIOHandler) onConnection(c *gosocketio.Channel) {
	h.peer(c)
}

func (h *SocketIOHandler) onDisconnection(c *gosocketio.Channel) {
	v, ok := h.peers.LoadAndDelete(c.Id())
	if !ok {
		return
	}
	e := v.(*sioEntry)
	e.once.Do(func() {})
	if e.peer != nil {
		h.hub.Disconnect(e.peer)
	}
}

func (h *SocketIOHandler) dispatch(c *gosocketio.Channel, event string, raw json.RawMessage) {
	if !c.IsAlive() {
		return
	}
	p := h.peer(c)
	if p == nil {
		return
	}
	h.hub.Dispatch(p, event, raw)
}
