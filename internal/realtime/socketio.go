package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gosocketio "github.com/OpenBazaar/golang-socketio"
	"github.com/OpenBazaar/golang-socketio/protocol"
	tp "github.com/OpenBazaar/golang-socketio/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	SioDefaultPingInterval   = 30 * time.Second
	SioDefaultPingTimeout    = 60 * time.Second
	SioDefaultReceiveTimeout = 60 * time.Second
	SioDefaultSendTimeout    = 60 * time.Second
	SioDefaultBufferSize     = 1024 * 32
	SioDefaultDialAttempts   = 4

	eventQueueSize = 256
)

var (
	ErrBinaryMessage = errors.New("realtime: binary messages are not supported")
	ErrEmptyPacket   = errors.New("realtime: empty packet")
)

// SocketIOTransport は Socket.IO（EIO=3, websocket）でバックエンドに接続するトランスポートです
//
// gosocketio はイベントハンドラーを受信ごとに別のgoroutineで呼ぶため順序が保証されません。
// そのため受信パケットは接続層（socketConn）で読み取った順にデコードしてキューへ流し、
// ハンドシェイク・ping・送信のエンコードだけをライブラリに任せます。
type SocketIOTransport struct {
	Host   string
	Port   int
	Secure bool

	PingInterval   time.Duration
	PingTimeout    time.Duration
	ReceiveTimeout time.Duration
	SendTimeout    time.Duration
	DialAttempts   uint64        // 初回接続の最大リトライ回数
	DialBackoff    time.Duration // 初回リトライまでの待ち時間

	mu     sync.Mutex
	client *gosocketio.Client
	queue  *eventQueue
}

// NewSocketIOTransport はURL（http/https/ws/wss）から SocketIOTransport を作成します
func NewSocketIOTransport(rawURL string) (*SocketIOTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	secure := u.Scheme == "https" || u.Scheme == "wss"
	port := 80
	if secure {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("missing host in %q", rawURL)
	}
	return &SocketIOTransport{
		Host:           u.Hostname(),
		Port:           port,
		Secure:         secure,
		PingInterval:   SioDefaultPingInterval,
		PingTimeout:    SioDefaultPingTimeout,
		ReceiveTimeout: SioDefaultReceiveTimeout,
		SendTimeout:    SioDefaultSendTimeout,
		DialAttempts:   SioDefaultDialAttempts,
		DialBackoff:    500 * time.Millisecond,
	}, nil
}

// Dial は接続を確立します
// 失敗した場合は指数バックオフで DialAttempts 回まで再試行します（認証拒否は再試行しない）
func (t *SocketIOTransport) Dial(ctx context.Context, token string, deliver func(Event)) error {
	queue := newEventQueue()
	endpoint := gosocketio.GetUrl(t.Host, t.Port, t.Secure) + "&token=" + url.QueryEscape(token)
	factory := &clientTransport{
		opts:   t,
		header: http.Header{"Authorization": []string{"Bearer " + token}},
		queue:  queue,
	}

	var client *gosocketio.Client
	op := func() error {
		c, err := gosocketio.Dial(endpoint, factory)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return backoff.Permanent(err)
			}
			return err
		}
		client = c
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.DialBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(eb, t.DialAttempts), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warningf("Socket.IO dial failed, retrying: host=%s, wait=%s, error=%v", t.Host, wait, err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		queue.stop()
		return err
	}

	t.mu.Lock()
	t.client = client
	t.queue = queue
	t.mu.Unlock()
	// 接続イベントの配送時に Emit できるよう、client を保存してから配送を始める
	queue.start(deliver)

	log.Infof("Socket.IO connected: host=%s, port=%d", t.Host, t.Port)
	return nil
}

// Emit はイベントを1つのJSON引数として送信します
func (t *SocketIOTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	return client.Emit(event, []interface{}{payload})
}

// Close は接続を閉じ、配送キューを停止します
func (t *SocketIOTransport) Close() error {
	t.mu.Lock()
	client, queue := t.client, t.queue
	t.client, t.queue = nil, nil
	t.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if queue != nil {
		queue.stop()
	}
	return nil
}

// eventQueue は受信イベントを1つのgoroutineで順番に配送します
type eventQueue struct {
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make(chan Event, eventQueueSize),
		done:   make(chan struct{}),
	}
}

func (q *eventQueue) start(deliver func(Event)) {
	go func() {
		for {
			select {
			case ev := <-q.events:
				deliver(ev)
			case <-q.done:
				return
			}
		}
	}()
}

func (q *eventQueue) push(ev Event) {
	select {
	case q.events <- ev:
	case <-q.done:
	}
}

func (q *eventQueue) stop() {
	q.stopOnce.Do(func() { close(q.done) })
}

// observePacket は受信パケットのうちアプリケーションに関係するものをキューに積みます
func (q *eventQueue) observePacket(pkg string) {
	msg, err := protocol.Decode(pkg)
	if err != nil {
		log.Debugf("Undecodable packet: %v", err)
		return
	}
	switch msg.Type {
	case protocol.MessageTypeOpen:
		q.push(Event{Name: EventConnect})
	case protocol.MessageTypeEmit:
		q.push(Event{Name: msg.Method, Payload: json.RawMessage(strings.TrimSpace(msg.Args))})
	}
}

// clientTransport は gosocketio.Dial に渡す1回限りの接続ファクトリです
type clientTransport struct {
	opts   *SocketIOTransport
	header http.Header
	queue  *eventQueue
}

func (ct *clientTransport) Connect(rawURL string) (tp.Connection, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  SioDefaultBufferSize,
		WriteBufferSize: SioDefaultBufferSize,
	}
	socket, resp, err := dialer.Dial(rawURL, ct.header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrRejected
		}
		return nil, err
	}
	return &socketConn{
		socket:         socket,
		pingInterval:   ct.opts.PingInterval,
		pingTimeout:    ct.opts.PingTimeout,
		receiveTimeout: ct.opts.ReceiveTimeout,
		sendTimeout:    ct.opts.SendTimeout,
		queue:          ct.queue,
	}, nil
}

func (ct *clientTransport) HandleConnection(w http.ResponseWriter, r *http.Request) (tp.Connection, error) {
	return nil, errors.New("client transport does not accept connections")
}

func (ct *clientTransport) Serve(w http.ResponseWriter, r *http.Request) {}

// ServerTransport は gosocketio.Server に渡すサーバー側のトランスポートです
// Authorize がエラーを返した場合はアップグレードせずに 401 を返します
type ServerTransport struct {
	Upgrader       websocket.Upgrader
	Authorize      func(r *http.Request) error
	PingInterval   time.Duration
	PingTimeout    time.Duration
	ReceiveTimeout time.Duration
	SendTimeout    time.Duration
}

// NewServerTransport はデフォルト設定の ServerTransport を作成します
func NewServerTransport(authorize func(r *http.Request) error) *ServerTransport {
	return &ServerTransport{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  SioDefaultBufferSize,
			WriteBufferSize: SioDefaultBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		Authorize:      authorize,
		PingInterval:   SioDefaultPingInterval,
		PingTimeout:    SioDefaultPingTimeout,
		ReceiveTimeout: SioDefaultReceiveTimeout,
		SendTimeout:    SioDefaultSendTimeout,
	}
}

func (st *ServerTransport) Connect(rawURL string) (tp.Connection, error) {
	return nil, errors.New("server transport does not dial")
}

func (st *ServerTransport) HandleConnection(w http.ResponseWriter, r *http.Request) (tp.Connection, error) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, errors.New("method not allowed")
	}
	if st.Authorize != nil {
		if err := st.Authorize(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return nil, err
		}
	}
	socket, err := st.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &socketConn{
		socket:         socket,
		pingInterval:   st.PingInterval,
		pingTimeout:    st.PingTimeout,
		receiveTimeout: st.ReceiveTimeout,
		sendTimeout:    st.SendTimeout,
	}, nil
}

func (st *ServerTransport) Serve(w http.ResponseWriter, r *http.Request) {}

// socketConn は gorilla/websocket 上の Socket.IO パケット接続です
// queue が設定されている場合、受信パケットを読み取った順に観測します
type socketConn struct {
	socket         *websocket.Conn
	pingInterval   time.Duration
	pingTimeout    time.Duration
	receiveTimeout time.Duration
	sendTimeout    time.Duration

	queue    *eventQueue
	lostOnce sync.Once
}

func (c *socketConn) GetMessage() (string, error) {
	text, err := c.read()
	if err != nil {
		c.lost()
		return "", err
	}
	if c.queue != nil {
		c.queue.observePacket(text)
	}
	return text, nil
}

func (c *socketConn) read() (string, error) {
	c.socket.SetReadDeadline(time.Now().Add(c.receiveTimeout))
	msgType, reader, err := c.socket.NextReader()
	if err != nil {
		return "", err
	}
	if msgType != websocket.TextMessage {
		return "", ErrBinaryMessage
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmptyPacket
	}
	return string(data), nil
}

// lost は切断を一度だけ通知します
func (c *socketConn) lost() {
	if c.queue == nil {
		return
	}
	c.lostOnce.Do(func() {
		c.queue.push(Event{Name: EventDisconnect})
	})
}

func (c *socketConn) WriteMessage(message string) error {
	c.socket.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	w, err := c.socket.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(message)); err != nil {
		return err
	}
	return w.Close()
}

func (c *socketConn) Close() {
	c.socket.Close()
}

func (c *socketConn) PingParams() (interval, timeout time.Duration) {
	return c.pingInterval, c.pingTimeout
}
