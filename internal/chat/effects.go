package chat

import (
	"context"
	"errors"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/realtime"
	"github.com/Hola62/realtime-chat-app/internal/reconciler"
	"github.com/Hola62/realtime-chat-app/internal/view"
)

// apply は遷移が返した副作用を順に実行します（ループ上で呼ぶ）
func (e *Engine) apply(effects []reconciler.Effect) {
	emitFailed := false
	for _, eff := range effects {
		switch f := eff.(type) {
		case reconciler.Emit:
			if err := e.rt.Emit(f.Command); err != nil && !emitFailed {
				emitFailed = true
				e.notifyEmitError(err)
			}
		case reconciler.RenderConversation:
			e.render.ShowConversation(f.Ref)
		case reconciler.RenderHistory:
			e.render.ShowHistory(f.Messages)
		case reconciler.RenderAppend:
			e.render.AppendMessage(f.Message)
		case reconciler.RenderDeleted:
			e.render.MarkDeleted(f.MessageID)
		case reconciler.RenderMemberCount:
			e.render.ShowMemberCount(f.Room, f.Count)
		case reconciler.RenderTyping:
			e.render.ShowTyping(f.UserID, f.Typing)
		case reconciler.RenderPresence:
			e.render.ShowPresence(f.UserID, f.Status)
		case reconciler.RenderRead:
			e.render.MarkRead()
		case reconciler.RenderNotice:
			e.render.ShowNotice(f.Text)
		case reconciler.RenderConnectivity:
			e.render.ShowConnectivity(f.Connected)
		case reconciler.RenderRecentDMs:
			e.render.ShowRecentDMs(f.List, f.Meta)
		case reconciler.Notify:
			e.render.Notify(f.Level, f.Text)
		case reconciler.PersistRecentDMs:
			e.persist(func(ctx context.Context) error { return e.local.SaveRecentDMs(ctx, f.List) })
		case reconciler.PersistDMMeta:
			e.persist(func(ctx context.Context) error { return e.local.SaveDMMetadata(ctx, f.Meta) })
		case reconciler.FetchProfile:
			e.fetchProfile(f.UserID)
		case reconciler.RoomRemoved:
			if e.removeRoom(f.Room) {
				e.render.Notify(view.LevelInfo, "Room was deleted")
			}
		default:
			log.Errorf("Unhandled effect: %T", eff)
		}
	}
}

func (e *Engine) notifyEmitError(err error) {
	if errors.Is(err, realtime.ErrNotConnected) {
		e.render.Notify(view.LevelError, "Not connected to the chat server")
		return
	}
	e.render.Notify(view.LevelError, "Failed to send to the chat server")
}

func (e *Engine) persist(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(e.ctx, persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warningf("Failed to persist contacts: %v", err)
	}
}

// fetchProfile は表示名の分からないDM相手のプロフィールを非同期で取得します
// 同じユーザーへの取得が実行中であれば重ねて要求しません
func (e *Engine) fetchProfile(userID int64) {
	if e.fetching[userID] {
		return
	}
	e.fetching[userID] = true
	go func() {
		ctx, cancel := context.WithTimeout(e.ctx, persistTimeout)
		defer cancel()
		u, err := e.gw.GetUser(ctx, userID)
		e.post(func() {
			delete(e.fetching, userID)
			if err != nil {
				log.Warningf("Failed to fetch profile: userId=%d, error=%v", userID, err)
				return
			}
			e.updateContact(u)
		})
	}()
}

func (e *Engine) updateContact(u models.User) {
	var effects []reconciler.Effect
	e.state, effects = e.rec.UpdateContact(e.state, u)
	e.apply(effects)
}
