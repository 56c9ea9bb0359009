package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/repo"
)

// AuthService はユーザー登録・ログイン・トークン検証を提供します
type AuthService struct {
	repo   repo.ChatRepo
	secret []byte
	ttl    time.Duration
	cost   int // bcrypt のコスト
	now    func() time.Time
}

func NewAuthService(r repo.ChatRepo, secret string, ttl time.Duration) *AuthService {
	return &AuthService{repo: r, secret: []byte(secret), ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now}
}

// SetHashCost はパスワードハッシュのコストを変更します（範囲外の値は bcrypt が補正）
func (s *AuthService) SetHashCost(cost int) {
	s.cost = cost
}

// Register はユーザーを作成してトークンを発行します
func (s *AuthService) Register(ctx context.Context, email, password, firstName, lastName string) (models.User, string, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return models.User{}, "", ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.User{}, "", err
	}
	u, err := s.repo.CreateUser(ctx, repo.Account{
		User:         models.User{Email: email, FirstName: strings.TrimSpace(firstName), LastName: strings.TrimSpace(lastName), Status: "offline"},
		PasswordHash: string(hash),
	})
	if errors.Is(err, repo.ErrEmailTaken) {
		return models.User{}, "", ErrEmailTaken
	}
	if err != nil {
		return models.User{}, "", err
	}
	token, err := s.Issue(u.ID)
	return u, token, err
}

// Login はメールアドレスとパスワードを確認してトークンを発行します
func (s *AuthService) Login(ctx context.Context, email, password string) (models.User, string, error) {
	acc, ok, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		return models.User{}, "", err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return models.User{}, "", ErrInvalidCredentials
	}
	token, err := s.Issue(acc.ID)
	return acc.User, token, err
}

// Issue はユーザーIDを sub に持つHS256トークンを発行します
func (s *AuthService) Issue(userID int64) (string, error) {
	now := s.now()
	claims := jwt.StandardClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify はトークンの署名と有効期限を確認してユーザーIDを返します
func (s *AuthService) Verify(token string) (int64, error) {
	var claims jwt.StandardClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return 0, ErrTokenExpired
		}
		return 0, ErrInvalidToken
	}
	if !parsed.Valid {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// Authenticate はトークンを検証してユーザーを返します
func (s *AuthService) Authenticate(ctx context.Context, token string) (models.User, error) {
	id, err := s.Verify(token)
	if err != nil {
		return models.User{}, err
	}
	u, ok, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, ErrInvalidToken
	}
	return u, nil
}
