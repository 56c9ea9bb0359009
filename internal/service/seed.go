package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/icrowley/fake"
)

// DemoPassword はデモ用に生成したユーザーの共通パスワードです
const DemoPassword = "password"

// SeedUser は初期データのユーザーです
type SeedUser struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// SeedRoom は初期データのルームです（作成者はメールアドレスで指定）
type SeedRoom struct {
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
}

// Seed は開発用サーバーの起動時に投入する初期データです
type Seed struct {
	Users []SeedUser `json:"users"`
	Rooms []SeedRoom `json:"rooms"`
}

// LoadSeed はJSONファイルから初期データを読み込みます
func LoadSeed(path string) (Seed, error) {
	var s Seed
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return s, nil
}

// DemoSeed は n 人のランダムなユーザーと lobby ルームを生成します
func DemoSeed(n int) Seed {
	var s Seed
	for i := 0; i < n; i++ {
		first, last := fake.FirstName(), fake.LastName()
		s.Users = append(s.Users, SeedUser{
			Email:     fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
			Password:  DemoPassword,
			FirstName: first,
			LastName:  last,
		})
	}
	if n > 0 {
		s.Rooms = append(s.Rooms, SeedRoom{Name: "lobby", CreatedBy: s.Users[0].Email})
	}
	return s
}

// Apply は初期データを投入します
// 登録済みのメールアドレスは読み飛ばすため、再起動時に繰り返し適用できます
func (s Seed) Apply(ctx context.Context, auth *AuthService, chat *ChatService) error {
	for _, u := range s.Users {
		_, _, err := auth.Register(ctx, u.Email, u.Password, u.FirstName, u.LastName)
		if err != nil && !errors.Is(err, ErrEmailTaken) {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	if len(s.Rooms) == 0 {
		return nil
	}
	existing, err := chat.ListRooms(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}
	for _, r := range s.Rooms {
		if names[r.Name] {
			continue
		}
		acc, ok, err := auth.repo.GetAccountByEmail(ctx, r.CreatedBy)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("seed room %s: %w", r.Name, ErrUserNotFound)
		}
		if _, err := chat.CreateRoom(ctx, acc.User, r.Name); err != nil {
			return fmt.Errorf("seed room %s: %w", r.Name, err)
		}
		names[r.Name] = true
	}
	log.Infof("Seed applied: users=%d, rooms=%d", len(s.Users), len(s.Rooms))
	return nil
}
