// Package repo は開発用バックエンドのデータ永続化を担当します
// ユーザー・ルーム・メッセージをメモリ上または Redis に保存します
package repo

import (
	"context"
	"errors"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrRoomNotFound = errors.New("room not found")
)

// Account はログイン情報を含むユーザーです
type Account struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

type ChatRepo interface {
	CreateUser(ctx context.Context, acc Account) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, bool, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, bool, error)
	SearchUsers(ctx context.Context, name string, excludeID int64, limit int) ([]models.User, error)

	CreateRoom(ctx context.Context, room models.Room) (models.Room, error)
	GetRoom(ctx context.Context, id int64) (models.Room, bool, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	DeleteRoom(ctx context.Context, id int64) error

	AddMessage(ctx context.Context, m models.Message) (models.Message, error)
	GetMessage(ctx context.Context, id int64) (models.Message, bool, error)
	ListMessages(ctx context.Context, room models.RoomKey, limit int) ([]models.Message, error)
	MarkDeleted(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, room models.RoomKey, readerID int64) (int, error)

	Close() error
}
