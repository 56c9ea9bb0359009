package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("realtime")

var (
	// ErrNotConnected は接続が確立していない状態で送信しようとした場合に返されます
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrRejected はサーバーがトークンを拒否して接続を受け付けなかった場合に返されます
	ErrRejected = errors.New("realtime: connection rejected")
)

// Transport は名前付きイベントを運ぶ1本の接続です
//
// 実装は受信したイベントをサーバーが送った順に1つずつ deliver に渡さなければなりません。
// 接続の確立と切断は EventConnect / EventDisconnect として同じ順序の中で通知します。
type Transport interface {
	Dial(ctx context.Context, token string, deliver func(Event)) error
	Emit(event string, payload any) error
	Close() error
}

// NewTransport は種別とURLからトランスポートを作成します
// "ws" のURLにパスが無い場合は /ws を補います
func NewTransport(kind, rawURL string) (Transport, error) {
	switch strings.ToLower(kind) {
	case "", "socketio", "socket.io":
		return NewSocketIOTransport(rawURL)
	case "ws", "websocket":
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		switch u.Scheme {
		case "http":
			u.Scheme = "ws"
		case "https":
			u.Scheme = "wss"
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/ws"
		}
		return NewWebSocketTransport(u.String()), nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

// Client は Transport の上で接続状態を管理します
// 接続時にはオンライン通知（user_online）を送信し、切断時には接続フラグを下げます
type Client struct {
	tr      Transport
	deliver func(Event)

	connected atomic.Bool
	closeOnce sync.Once
}

// NewClient は新しい Client を作成します
// deliver は受信イベントごとに呼ばれます（接続・切断イベントを含む）
func NewClient(tr Transport, deliver func(Event)) *Client {
	return &Client{tr: tr, deliver: deliver}
}

// Connect はトークンで認証して接続します
func (c *Client) Connect(ctx context.Context, token string) error {
	return c.tr.Dial(ctx, token, c.handle)
}

func (c *Client) handle(ev Event) {
	switch ev.Name {
	case EventConnect:
		c.connected.Store(true)
		if err := c.tr.Emit(EventUserOnline, UserOnline{}); err != nil {
			log.Warningf("Failed to announce presence: %v", err)
		}
	case EventDisconnect:
		c.connected.Store(false)
	}
	c.deliver(ev)
}

// Connected は接続中かどうかを返します
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Emit はコマンドを送信します
func (c *Client) Emit(cmd Command) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if err := c.tr.Emit(cmd.Event, cmd.Payload); err != nil {
		log.Warningf("Failed to emit: event=%s, error=%v", cmd.Event, err)
		return err
	}
	log.Debugf("Emitted: event=%s", cmd.Event)
	return nil
}

// Close は接続を閉じます（複数回呼んでも安全）
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		err = c.tr.Close()
	})
	return err
}
