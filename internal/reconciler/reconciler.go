package reconciler

import (
	"errors"
	"fmt"

	logging "github.com/op/go-logging"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

var log = logging.MustGetLogger("reconciler")

// ErrMalformedPayload はペイロードに必要な項目が無い場合に返されます
var ErrMalformedPayload = errors.New("reconciler: malformed payload")

const (
	DefaultHistoryLimit = 50
	DefaultRecentDMCap  = 20
	PreviewLength       = 50
)

// Config は Reconciler の設定です
type Config struct {
	HistoryLimit int // 会話を開いたときに要求する履歴の件数
	RecentDMCap  int // 最近のDM一覧の上限
}

type handlerFunc func(s State, in Input, ev realtime.Event) (State, []Effect, error)

// Reconciler はイベント名から遷移関数へのディスパッチテーブルです
type Reconciler struct {
	cfg      Config
	handlers map[string]handlerFunc
}

// New は新しい Reconciler を作成します
func New(cfg Config) *Reconciler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.RecentDMCap <= 0 {
		cfg.RecentDMCap = DefaultRecentDMCap
	}
	r := &Reconciler{cfg: cfg}
	r.handlers = map[string]handlerFunc{
		realtime.EventConnect:                r.onConnect,
		realtime.EventDisconnect:             r.onDisconnect,
		realtime.EventConnected:              r.onConnected,
		realtime.EventJoinedRoom:             r.onJoinedRoom,
		realtime.EventUserJoined:             r.onMembership,
		realtime.EventUserLeft:               r.onMembership,
		realtime.EventLeftRoom:               r.onLeftRoom,
		realtime.EventNewMessage:             r.onNewMessage,
		realtime.EventMessagesHistory:        r.onHistory,
		realtime.EventMessageDeleted:         r.onMessageDeleted,
		realtime.EventUserTyping:             r.onUserTyping,
		realtime.EventPrivateUserTyping:      r.onPrivateTyping,
		realtime.EventUserStatusChanged:      r.onUserStatus,
		realtime.EventUserStatusUpdate:       r.onUserStatus,
		realtime.EventUserStatusResponse:     r.onUserStatus,
		realtime.EventPrivateMessage:         r.onPrivateMessage,
		realtime.EventPrivateMessagesHistory: r.onPrivateHistory,
		realtime.EventJoinedPrivateChat:      r.onJoinedPrivateChat,
		realtime.EventMessagesRead:           r.onMessagesRead,
		realtime.EventError:                  r.onError,
	}
	return r
}

// Apply は1件の受信イベントを適用します
// 未知のイベントは無視し、ペイロードが不正な場合は状態を変えずにエラー通知だけを返します
func (r *Reconciler) Apply(s State, in Input, ev realtime.Event) (State, []Effect) {
	h, ok := r.handlers[ev.Name]
	if !ok {
		log.Debugf("Ignored event: name=%s", ev.Name)
		return s, nil
	}
	next, effects, err := h(s, in, ev)
	if err != nil {
		log.Errorf("Failed to apply event: name=%s, error=%v", ev.Name, err)
		return s, []Effect{Notify{Level: view.LevelError, Text: fmt.Sprintf("Received an invalid %s event from the server", ev.Name)}}
	}
	return next, effects
}

// Join は新しい会話への参加を開始します（inactive/active → joining）
// セッションが参照を確定した後に呼ばれ、join と履歴要求を送信します
func (r *Reconciler) Join(s State, in Input, ref models.ConversationRef) (State, []Effect) {
	next := s.clone()
	next.Phase = PhaseJoining
	next.Pending = ref.Key(in.Self.ID)
	next.Messages = nil
	next.Typing = false
	next.TypingUser = 0

	effects := []Effect{RenderConversation{Ref: ref}}
	if ref.Kind == models.KindRoom {
		if n, ok := next.MemberCounts[next.Pending]; ok {
			effects = append(effects, RenderMemberCount{Room: next.Pending, Count: n})
		}
	}
	for _, cmd := range realtime.JoinCommands(ref, in.Self.ID, r.cfg.HistoryLimit) {
		effects = append(effects, Emit{Command: cmd})
	}

	if ref.Kind == models.KindDirect {
		peer := ref.Peer
		// 相手の会話を開いた瞬間に未読を0に戻す
		meta := next.DMMeta[peer.ID]
		meta.Unread = 0
		next.DMMeta[peer.ID] = meta
		next.RecentDMs = addRecent(next.RecentDMs, peer, r.cfg.RecentDMCap)
		effects = append(effects, contactEffects(next)...)
		effects = append(effects, Emit{Command: realtime.CheckStatusCommand(peer.ID)})
		if status, ok := next.Presence[peer.ID]; ok {
			effects = append(effects, RenderPresence{UserID: peer.ID, Status: status})
		}
	}
	log.Debugf("Joining conversation: key=%s", next.Pending)
	return next, effects
}

// Clear はアクティブな会話が無くなったときの状態にします（active → inactive）
func (r *Reconciler) Clear(s State) (State, []Effect) {
	next := s.clone()
	next.Phase = PhaseInactive
	next.Pending = ""
	next.Messages = nil
	next.Typing = false
	next.TypingUser = 0
	return next, []Effect{RenderConversation{}}
}

// LoadContacts は保存済みのDM一覧とメタデータを読み込みます
func (r *Reconciler) LoadContacts(s State, list []models.RecentDM, meta map[int64]models.DMMeta) (State, []Effect) {
	next := s.clone()
	if len(list) > r.cfg.RecentDMCap {
		list = list[:r.cfg.RecentDMCap]
	}
	next.RecentDMs = append([]models.RecentDM{}, list...)
	next.DMMeta = cloneMeta(meta)
	return next, []Effect{RenderRecentDMs{List: append([]models.RecentDM(nil), next.RecentDMs...), Meta: cloneMeta(next.DMMeta)}}
}

// UpdateContact は取得したプロフィールでDM一覧の表示項目を更新します（並び順は変えない）
func (r *Reconciler) UpdateContact(s State, u models.User) (State, []Effect) {
	found := false
	for _, dm := range s.RecentDMs {
		if dm.ID == u.ID {
			found = true
			break
		}
	}
	if !found {
		return s, nil
	}
	next := s.clone()
	for i, dm := range next.RecentDMs {
		if dm.ID == u.ID {
			next.RecentDMs[i] = models.RecentDMFromUser(u)
		}
	}
	return next, contactEffects(next)
}

// addRecent はDM相手を一覧の先頭に追加します
// 既に存在する場合は先頭へ移動し（重複させない）、上限を超えた古い要素は捨てます
func addRecent(list []models.RecentDM, u models.User, limit int) []models.RecentDM {
	entry := models.RecentDMFromUser(u)
	out := make([]models.RecentDM, 0, len(list)+1)
	for _, dm := range list {
		if dm.ID != u.ID {
			continue
		}
		// 表示名が分からない場合は既存の値を残す
		if entry.FirstName == "" && entry.LastName == "" {
			entry.FirstName, entry.LastName = dm.FirstName, dm.LastName
		}
		if entry.AvatarURL == "" {
			entry.AvatarURL = dm.AvatarURL
		}
	}
	out = append(out, entry)
	for _, dm := range list {
		if dm.ID != u.ID {
			out = append(out, dm)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// knownContact は一覧からDM相手を探します
func knownContact(list []models.RecentDM, id int64) (models.User, bool) {
	for _, dm := range list {
		if dm.ID == id {
			return dm.User(), true
		}
	}
	return models.User{}, false
}
