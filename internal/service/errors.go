package service

import "errors"

// カスタムエラー定義
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotMessageOwner    = errors.New("you can only delete your own messages")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token has expired")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidRoomName    = errors.New("room name must be between 1 and 100 characters")
	ErrInvalidContent     = errors.New("message content must be between 1 and 5000 characters")
	ErrInvalidPrivateRoom = errors.New("invalid private room")
)
