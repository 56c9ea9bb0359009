// Package chat はセッション・Reconciler・描画・永続化・リアルタイム接続をまとめるエンジンです
//
// 状態の変更はすべて Run が回す1本のイベントループ上で行います。
// ネットワークからのイベントやタイマーは post でループに処理を渡し、
// ユーザー操作のメソッドは呼び出し元のゴルーチンでREST呼び出しを行ってから結果をループで確定します。
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/op/go-logging"

	"github.com/Hola62/realtime-chat-app/internal/gateway"
	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/reconciler"
	"github.com/Hola62/realtime-chat-app/internal/session"
	"github.com/Hola62/realtime-chat-app/internal/store"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

var log = logging.MustGetLogger("chat")

// カスタムエラー定義
var (
	ErrClosed          = errors.New("chat: engine closed")
	ErrRunning         = errors.New("chat: engine already running")
	ErrNoConversation  = errors.New("chat: no active conversation")
	ErrMessageTooLong  = errors.New("chat: message too long")
	ErrInvalidRoomName = errors.New("chat: invalid room name")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrNotOwner        = errors.New("chat: not message owner")
	ErrSelfChat        = errors.New("chat: cannot open a conversation with yourself")

	// ErrNotified は描画側に通知済みのエラーに付く印です（errors.Is で判定）
	ErrNotified = errors.New("chat: already notified")
)

// notifiedError は元のエラーをそのまま見せつつ ErrNotified としても判定できるエラーです
type notifiedError struct{ err error }

func (n notifiedError) Error() string        { return n.err.Error() }
func (n notifiedError) Unwrap() error        { return n.err }
func (n notifiedError) Is(target error) bool { return target == ErrNotified }

func notified(err error) error {
	if err == nil || errors.Is(err, ErrNotified) {
		return err
	}
	return notifiedError{err: err}
}

const (
	MaxMessageLength  = 5000
	MaxRoomNameLength = 100

	loopQueueSize  = 256
	persistTimeout = 5 * time.Second
)

// Gateway はエンジンが使うREST操作です（gateway.Client が満たします）
type Gateway interface {
	SetToken(token string)
	Me(ctx context.Context) (models.User, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	CreateRoom(ctx context.Context, name string) (models.Room, error)
	DeleteRoom(ctx context.Context, id int64) error
	SearchUsers(ctx context.Context, name string) ([]models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
}

// Options は New に渡す依存関係と設定です
type Options struct {
	Gateway   Gateway
	Store     *store.Local
	Transport realtime.Transport
	Renderer  view.Renderer

	HistoryLimit int
	RecentDMCap  int
	TypingIdle   time.Duration
}

// Engine はチャットクライアントの中核です
type Engine struct {
	gw     Gateway
	local  *store.Local
	render view.Renderer
	rt     *realtime.Client
	rec    *reconciler.Reconciler
	sess   *session.Context

	// 以下はループ上でのみ触る
	state    reconciler.State
	rooms    []models.Room
	fetching map[int64]bool

	ctx       context.Context
	cancel    context.CancelFunc
	loop      chan func()
	done      chan struct{}
	stopped   chan struct{}
	runOnce   sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	started   bool
	mu        sync.Mutex
}

// New は新しい Engine を作成します
// イベントループは Run で開始します
func New(opts Options) *Engine {
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		gw:       opts.Gateway,
		local:    opts.Store,
		render:   opts.Renderer,
		rec:      reconciler.New(reconciler.Config{HistoryLimit: opts.HistoryLimit, RecentDMCap: opts.RecentDMCap}),
		state:    reconciler.NewState(),
		fetching: make(map[int64]bool),
		ctx:      ctx,
		cancel:   cancel,
		loop:     make(chan func(), loopQueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	e.rt = realtime.NewClient(opts.Transport, e.deliver)
	e.sess = session.New(e.rt, opts.TypingIdle, func(fn func()) { e.post(fn) })
	return e
}

// Run はイベントループを回します
// ctx がキャンセルされるか Close が呼ばれると戻ります
func (e *Engine) Run(ctx context.Context) error {
	first := false
	e.runOnce.Do(func() { first = true })
	if !first {
		return ErrRunning
	}
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	defer close(e.stopped)
	defer e.stop()

	for {
		select {
		case fn := <-e.loop:
			fn()
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		}
	}
}

func (e *Engine) stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// post は fn をイベントループに渡します
// ループが止まっている場合は false を返します
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.loop <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call は fn をイベントループ上で実行し、その結果を待ちます
func (e *Engine) call(fn func() error) error {
	errc := make(chan error, 1)
	if !e.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-e.done:
		return ErrClosed
	}
}

// Sync はそれまでに投入された処理がすべて終わるまで待ちます
func (e *Engine) Sync() error {
	return e.call(func() error { return nil })
}

// deliver はトランスポートから受信順に呼ばれます
func (e *Engine) deliver(ev realtime.Event) {
	if !e.post(func() { e.handleEvent(ev) }) {
		log.Debugf("Event after shutdown dropped: name=%s", ev.Name)
	}
}

func (e *Engine) handleEvent(ev realtime.Event) {
	if !e.sess.Ready() {
		log.Debugf("Event without session dropped: name=%s", ev.Name)
		return
	}
	var effects []reconciler.Effect
	e.state, effects = e.rec.Apply(e.state, e.input(), ev)
	e.apply(effects)
}

func (e *Engine) input() reconciler.Input {
	return reconciler.Input{Self: e.sess.User(), Active: e.sess.Active()}
}

// Start は保存済みのトークンでセッションを開始し、リアルタイム接続とルーム一覧の取得を行います
// トークンが無い・無効な場合は描画側にログインを要求し、認証エラーを返します
func (e *Engine) Start(ctx context.Context) error {
	token, err := e.local.Token(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := e.call(func() error { return e.sess.Init(token) }); err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			e.authFailed("Please log in to continue")
			return notified(err)
		}
		return err
	}
	e.gw.SetToken(token)

	me, err := e.gw.Me(ctx)
	if err != nil {
		return e.fail("Failed to load your profile", err)
	}

	list, err := e.local.RecentDMs(ctx)
	if err != nil {
		log.Warningf("Failed to load recent DMs: %v", err)
	}
	meta, err := e.local.DMMetadata(ctx)
	if err != nil {
		log.Warningf("Failed to load DM metadata: %v", err)
	}
	err = e.call(func() error {
		e.sess.SetUser(me)
		e.render.ShowCurrentUser(me)
		var effects []reconciler.Effect
		e.state, effects = e.rec.LoadContacts(e.state, list, meta)
		e.apply(effects)
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("Logged in: userId=%d", me.ID)

	if err := e.rt.Connect(ctx, token); err != nil {
		return e.fail("Failed to connect to the chat server", err)
	}
	if _, err := e.LoadRooms(ctx); err != nil {
		log.Warningf("Failed to load rooms: %v", err)
	}
	return nil
}

// Close はリアルタイム接続とストアを閉じ、イベントループを止めます
func (e *Engine) Close() error {
	var result error
	e.closeOnce.Do(func() {
		e.stop()
		e.mu.Lock()
		started := e.started
		e.mu.Unlock()
		if started {
			<-e.stopped
		}
		e.cancel()
		// ループは止まっているのでここから直接触ってよい
		e.sess.Teardown()
		if err := e.rt.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if err := e.local.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	})
	return result
}

// isAuthError は再ログインが必要なエラーかを判定します
func isAuthError(err error) bool {
	return errors.Is(err, gateway.ErrUnauthorized) ||
		errors.Is(err, session.ErrUnauthenticated) ||
		errors.Is(err, realtime.ErrRejected)
}

// fail はエラーを分類して通知し、通知済みの印を付けたエラーを返します
// 認証エラーの場合はセッションを終了してログインを要求し、それ以外は一時的な通知だけを出します
func (e *Engine) fail(text string, err error) error {
	if isAuthError(err) {
		e.authFailed("Your session has expired, please log in again")
		return notified(err)
	}
	log.Warningf("%s: %v", text, err)
	msg := text
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = text + ": " + apiErr.Message
	}
	e.post(func() { e.render.Notify(view.LevelError, msg) })
	return notified(err)
}

// authFailed はトークンを破棄してセッションを閉じ、ログインを要求します
func (e *Engine) authFailed(reason string) {
	ok := e.post(func() {
		ctx, cancel := context.WithTimeout(e.ctx, persistTimeout)
		defer cancel()
		if err := e.local.ClearToken(ctx); err != nil {
			log.Warningf("Failed to clear token: %v", err)
		}
		e.sess.Teardown()
		var effects []reconciler.Effect
		e.state, effects = e.rec.Clear(e.state)
		e.apply(effects)
		e.render.RequireLogin(reason)
	})
	if !ok {
		return
	}
	if err := e.rt.Close(); err != nil {
		log.Debugf("Failed to close realtime client: %v", err)
	}
}

// Snapshot は現在の会話状態のコピーを返します
func (e *Engine) Snapshot() (reconciler.State, error) {
	var s reconciler.State
	err := e.call(func() error {
		s = e.state
		return nil
	})
	return s, err
}

// Active はアクティブな会話を返します
func (e *Engine) Active() models.ConversationRef {
	var ref models.ConversationRef
	_ = e.call(func() error {
		ref = e.sess.Active()
		return nil
	})
	return ref
}

// Rooms は最後に取得したルーム一覧を返します
func (e *Engine) Rooms() []models.Room {
	var rooms []models.Room
	_ = e.call(func() error {
		rooms = append(rooms, e.rooms...)
		return nil
	})
	return rooms
}
