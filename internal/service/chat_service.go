// Package service は開発用バックエンドのビジネスロジックを担当します
// ルームの作成・削除、メッセージの保存、ユーザー検索などの処理を提供します
package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	logging "github.com/op/go-logging"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/repo"
)

var log = logging.MustGetLogger("service")

const (
	MaxRoomNameLength   = 100
	MaxContentLength    = 5000
	MinSearchLength     = 2
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	searchLimit         = 20
)

// ChatService はチャットのビジネスロジックを提供します
type ChatService struct {
	repo repo.ChatRepo
	now  func() time.Time
}

func NewChatService(r repo.ChatRepo) *ChatService {
	return &ChatService{repo: r, now: time.Now}
}

func (s *ChatService) ListRooms(ctx context.Context) ([]models.Room, error) {
	return s.repo.ListRooms(ctx)
}

// CreateRoom はルームを作成します
// ルーム名は前後の空白を除いて1〜100文字
func (s *ChatService) CreateRoom(ctx context.Context, creator models.User, name string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxRoomNameLength {
		return models.Room{}, ErrInvalidRoomName
	}
	creator.Status = ""
	return s.repo.CreateRoom(ctx, models.Room{
		Name:      name,
		CreatedBy: creator.ID,
		CreatedAt: models.NewTimestamp(s.now()),
		Creator:   creator,
	})
}

// DeleteRoom はルームとそのメッセージを削除します
func (s *ChatService) DeleteRoom(ctx context.Context, id int64) error {
	err := s.repo.DeleteRoom(ctx, id)
	if errors.Is(err, repo.ErrRoomNotFound) {
		return ErrRoomNotFound
	}
	return err
}

// ResolveRoom はルームIDからグループルームを取得します
func (s *ChatService) ResolveRoom(ctx context.Context, key models.RoomKey) (models.Room, error) {
	id, err := strconv.ParseInt(string(key), 10, 64)
	if err != nil {
		return models.Room{}, ErrRoomNotFound
	}
	room, ok, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	return room, nil
}

func (s *ChatService) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, ok, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

// SearchUsers は氏名でユーザーを検索します（自分は除く）
// 2文字未満の検索語では空の一覧を返します
func (s *ChatService) SearchUsers(ctx context.Context, name string, self int64) ([]models.User, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinSearchLength {
		return []models.User{}, nil
	}
	return s.repo.SearchUsers(ctx, name, self, searchLimit)
}

// PrivateRoom は2人のDMルームIDを返します
// 相手が存在しない場合や自分自身の場合はエラーを返します
func (s *ChatService) PrivateRoom(ctx context.Context, self, other int64) (models.RoomKey, error) {
	if other <= 0 || other == self {
		return "", ErrInvalidPrivateRoom
	}
	if _, err := s.GetUser(ctx, other); err != nil {
		return "", err
	}
	return models.DMRoomID(self, other), nil
}

func validContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if n := utf8.RuneCountInString(content); n == 0 || n > MaxContentLength {
		return "", ErrInvalidContent
	}
	return content, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// SendRoomMessage はルームにメッセージを保存します
func (s *ChatService) SendRoomMessage(ctx context.Context, sender models.User, key models.RoomKey, content string) (models.Message, error) {
	content, err := validContent(content)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := s.ResolveRoom(ctx, key); err != nil {
		return models.Message{}, err
	}
	return s.repo.AddMessage(ctx, models.Message{
		RoomID:    key,
		UserID:    sender.ID,
		User:      publicUser(sender),
		Content:   content,
		Timestamp: models.NewTimestamp(s.now()),
	})
}

// SendPrivateMessage はDMを保存します
func (s *ChatService) SendPrivateMessage(ctx context.Context, sender models.User, other int64, content string) (models.Message, error) {
	content, err := validContent(content)
	if err != nil {
		return models.Message{}, err
	}
	key, err := s.PrivateRoom(ctx, sender.ID, other)
	if err != nil {
		return models.Message{}, err
	}
	return s.repo.AddMessage(ctx, models.Message{
		RoomID:     key,
		UserID:     sender.ID,
		ReceiverID: other,
		User:       publicUser(sender),
		Content:    content,
		Timestamp:  models.NewTimestamp(s.now()),
	})
}

// History はルームの最新 limit 件を古い順に返します
func (s *ChatService) History(ctx context.Context, key models.RoomKey, limit int) ([]models.Message, error) {
	if !key.IsPrivate() {
		if _, err := s.ResolveRoom(ctx, key); err != nil {
			return nil, err
		}
	}
	return s.repo.ListMessages(ctx, key, clampLimit(limit))
}

// DeleteMessage は自分のメッセージを削除済みにします
func (s *ChatService) DeleteMessage(ctx context.Context, user models.User, id int64) (models.Message, error) {
	m, ok, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	if m.UserID != user.ID {
		return models.Message{}, ErrNotMessageOwner
	}
	if err := s.repo.MarkDeleted(ctx, id); err != nil {
		return models.Message{}, err
	}
	m.Deleted = true
	m.Content = ""
	return m, nil
}

// MarkRead は reader 宛てのDMを既読にします
func (s *ChatService) MarkRead(ctx context.Context, key models.RoomKey, reader int64) (int, error) {
	return s.repo.MarkRead(ctx, key, reader)
}

// publicUser はメッセージに埋め込む送信者情報です（メールアドレスは含めない）
func publicUser(u models.User) models.User {
	return models.User{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, AvatarURL: u.AvatarURL}
}
