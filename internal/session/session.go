// Package session はログイン中のユーザーとアクティブな会話を保持するセッションを提供します
//
// セッションはライフサイクル（Init → ready、Teardown → closed）を持つ1つのオブジェクトで、
// アクティブな会話の参照を書き換えられるのはセッションだけです。
// メソッドはすべて所有者のイベントループから呼ばれる前提で、内部でロックは取りません。
package session

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	logging "github.com/op/go-logging"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
)

var log = logging.MustGetLogger("session")

var (
	ErrUnauthenticated = errors.New("session: missing or invalid token")
	ErrNotReady        = errors.New("session: not initialized")
	ErrClosed          = errors.New("session: closed")
)

// State はセッションのライフサイクル上の状態です
type State int

const (
	StateNew State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "new"
	}
}

// Emitter はコマンドの送信先です（realtime.Client が満たします）
type Emitter interface {
	Emit(cmd realtime.Command) error
}

// Claims はトークンから読み取った情報です（署名の検証はサーバー側の責務）
type Claims struct {
	Subject   string
	UserID    int64 // Subject が数値の場合のみ設定
	ExpiresAt time.Time
}

// Context はログイン中のセッションです
type Context struct {
	emit   Emitter
	typing *Debouncer
	now    func() time.Time

	state  State
	token  string
	claims Claims
	user   models.User
	active models.ConversationRef
}

// New は新しいセッションを作成します
// post はタイマーから所有者のイベントループへ処理を戻すために使います
func New(emit Emitter, typingIdle time.Duration, post func(func())) *Context {
	c := &Context{emit: emit, now: time.Now}
	c.typing = NewDebouncer(typingIdle, post, c.emitTyping)
	return c
}

// ParseToken は署名を検証せずにトークンのクレームを読み取ります
// 期限切れや形式不正の場合は ErrUnauthenticated を返します
func ParseToken(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrUnauthenticated
	}
	var sc jwt.StandardClaims
	if _, _, err := new(jwt.Parser).ParseUnverified(token, &sc); err != nil {
		log.Debugf("Unparseable token: %v", err)
		return Claims{}, ErrUnauthenticated
	}
	if !sc.VerifyExpiresAt(now.Unix(), false) {
		return Claims{}, ErrUnauthenticated
	}

	claims := Claims{Subject: sc.Subject}
	if sc.ExpiresAt > 0 {
		claims.ExpiresAt = time.Unix(sc.ExpiresAt, 0)
	}
	if id, err := strconv.ParseInt(sc.Subject, 10, 64); err == nil {
		claims.UserID = id
	}
	return claims, nil
}

// Init はトークンでセッションを ready にします
func (c *Context) Init(token string) error {
	if c.state == StateClosed {
		return ErrClosed
	}
	claims, err := ParseToken(token, c.now())
	if err != nil {
		return err
	}
	c.token = strings.TrimSpace(token)
	c.claims = claims
	c.state = StateReady
	log.Infof("Session ready: subject=%s", claims.Subject)
	return nil
}

// Teardown はセッションを閉じます
// タイピングのタイマーを止め、アクティブな会話を破棄します（leave は送信しない）
func (c *Context) Teardown() {
	if c.state == StateClosed {
		return
	}
	c.typing.Cancel()
	c.active = models.ConversationRef{}
	c.token = ""
	c.user = models.User{}
	c.state = StateClosed
	log.Info("Session closed")
}

func (c *Context) State() State { return c.state }
func (c *Context) Ready() bool { return c.state == StateReady }
func (c *Context) Token() string { return c.token }
func (c *Context) Claims() Claims { return c.claims }
func (c *Context) User() models.User { return c.user }
func (c *Context) SetUser(u models.User) { c.user = u }
func (c *Context) Active() models.ConversationRef { return c.active }

// SetActive はアクティブな会話を切り替えます
// 既にアクティブな会話があれば先に leave を送信し、その後で新しい参照を確定します。
// join の送信は呼び出し側が SetActive の戻り後に行います。
func (c *Context) SetActive(ref models.ConversationRef) error {
	switch c.state {
	case StateNew:
		return ErrNotReady
	case StateClosed:
		return ErrClosed
	}

	if !c.active.IsZero() {
		// 切り替え時は入力中の true を送りっぱなしにする（末尾の false は送らない）
		c.typing.Cancel()
		if cmd, ok := realtime.LeaveCommand(c.active, c.user.ID); ok {
			if err := c.emit.Emit(cmd); err != nil {
				log.Warningf("Failed to leave conversation: key=%s, error=%v", c.active.Key(c.user.ID), err)
			}
		}
	}
	c.active = ref
	log.Debugf("Active conversation: kind=%s, key=%s", ref.Kind, ref.Key(c.user.ID))
	return nil
}

// Clear はアクティブな会話を「なし」にします（ログアウトやアクティブなルームの削除時）
func (c *Context) Clear() {
	c.typing.Cancel()
	c.active = models.ConversationRef{}
}

// InputChanged は入力欄の変更ごとに呼ばれ、typing=true を送ってタイマーを延長します
func (c *Context) InputChanged() {
	if c.state != StateReady || c.active.IsZero() {
		return
	}
	c.typing.Touch(c.active)
}

// StopTyping はメッセージ送信時に typing=false を送りタイマーを止めます
func (c *Context) StopTyping() {
	if c.state != StateReady || c.active.IsZero() {
		return
	}
	c.typing.Cancel()
	c.emitTyping(c.active, false)
}

// TypingPending はタイピング停止のタイマーが動いているかを返します
func (c *Context) TypingPending() bool {
	return c.typing.Pending()
}

func (c *Context) emitTyping(ref models.ConversationRef, typing bool) {
	// タイマー発火時点で会話が切り替わっていれば何もしない
	if ref.Key(c.user.ID) != c.active.Key(c.user.ID) {
		return
	}
	cmd, ok := realtime.TypingCommand(ref, c.user.ID, typing)
	if !ok {
		return
	}
	if err := c.emit.Emit(cmd); err != nil {
		log.Debugf("Failed to emit typing: %v", err)
	}
}
