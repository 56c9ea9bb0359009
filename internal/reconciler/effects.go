package reconciler

import (
	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

// Effect は遷移の結果として実行すべき副作用です
type Effect interface {
	isEffect()
}

// 送信
type Emit struct{ Command realtime.Command }

// 描画
type (
	RenderConversation struct{ Ref models.ConversationRef }
	RenderHistory      struct{ Messages []models.Message }
	RenderAppend       struct{ Message models.Message }
	RenderDeleted      struct{ MessageID int64 }
	RenderMemberCount  struct {
		Room  models.RoomKey
		Count int
	}
	RenderTyping struct {
		UserID int64
		Typing bool
	}
	RenderPresence struct {
		UserID int64
		Status string
	}
	RenderRead         struct{}
	RenderNotice       struct{ Text string }
	RenderConnectivity struct{ Connected bool }
	RenderRecentDMs    struct {
		List []models.RecentDM
		Meta map[int64]models.DMMeta
	}
	Notify struct {
		Level view.Level
		Text  string
	}
)

// 永続化
type (
	PersistRecentDMs struct{ List []models.RecentDM }
	PersistDMMeta    struct{ Meta map[int64]models.DMMeta }
)

// RoomRemoved はルームが他のユーザーによって削除されたことを表します
// 一覧から外し、表示中であれば会話なしの状態にします
type RoomRemoved struct{ Room models.RoomKey }

// FetchProfile は表示名が分からないDM相手のプロフィール取得を要求します
type FetchProfile struct{ UserID int64 }

func (Emit) isEffect()               {}
func (RenderConversation) isEffect() {}
func (RenderHistory) isEffect()      {}
func (RenderAppend) isEffect()       {}
func (RenderDeleted) isEffect()      {}
func (RenderMemberCount) isEffect()  {}
func (RenderTyping) isEffect()       {}
func (RenderPresence) isEffect()     {}
func (RenderRead) isEffect()         {}
func (RenderNotice) isEffect()       {}
func (RenderConnectivity) isEffect() {}
func (RenderRecentDMs) isEffect()    {}
func (Notify) isEffect()             {}
func (PersistRecentDMs) isEffect()   {}
func (PersistDMMeta) isEffect()      {}
func (FetchProfile) isEffect()       {}
func (RoomRemoved) isEffect()        {}

// contactEffects はDM一覧とメタデータの変更に伴う永続化と描画の副作用です
func contactEffects(s State) []Effect {
	return []Effect{
		PersistRecentDMs{List: append([]models.RecentDM(nil), s.RecentDMs...)},
		PersistDMMeta{Meta: cloneMeta(s.DMMeta)},
		RenderRecentDMs{List: append([]models.RecentDM(nil), s.RecentDMs...), Meta: cloneMeta(s.DMMeta)},
	}
}
