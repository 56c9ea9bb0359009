// Package gateway はチャットバックエンドのREST APIクライアントです
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	logging "github.com/op/go-logging"

	"github.com/Hola62/realtime-chat-app/internal/models"
)

var log = logging.MustGetLogger("gateway")

var (
	// ErrUnauthorized はトークンが無い・無効な場合に返されます（再ログインが必要）
	ErrUnauthorized = errors.New("gateway: unauthorized")
	// ErrMalformed はレスポンスに必要な項目が無い場合に返されます
	ErrMalformed = errors.New("gateway: malformed response")
)

// MinSearchLength 未満の検索語ではリクエストを送りません
const MinSearchLength = 2

// maxBodySize はレスポンスボディの読み取り上限です
const maxBodySize = 4 << 20

// APIError は2xx以外のレスポンスを表します
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Message)
}

// Client はベアラートークン認証のRESTクライアントです
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New は新しい Client を作成します
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken は以降のリクエストに付与するトークンを設定します
func (c *Client) SetToken(token string) { c.token = token }

// Token は現在のトークンを返します
func (c *Client) Token() string { return c.token }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult はログインの結果です
type LoginResult struct {
	AccessToken string      `json:"access_token"`
	User        models.User `json:"user"`
}

// Login はメールアドレスとパスワードでトークンを取得します
// 認証情報が誤っている場合は ErrUnauthorized を返します
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var res LoginResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &res); err != nil {
		return LoginResult{}, err
	}
	if res.AccessToken == "" {
		return LoginResult{}, fmt.Errorf("%w: login without access_token", ErrMalformed)
	}
	return res, nil
}

// Me は現在のユーザーを取得します
// 2xx以外はすべてセッションが無効とみなして ErrUnauthorized を返します
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &u)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		log.Warningf("Session rejected: status=%d, message=%s", apiErr.Status, apiErr.Message)
		return models.User{}, fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	}
	if err != nil {
		return models.User{}, err
	}
	if u.ID == 0 {
		return models.User{}, fmt.Errorf("%w: user without id", ErrMalformed)
	}
	return u, nil
}

// ListRooms はルーム一覧を取得します
func (c *Client) ListRooms(ctx context.Context) ([]models.Room, error) {
	var res struct {
		Rooms []models.Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/rooms", nil, &res); err != nil {
		return nil, err
	}
	if res.Rooms == nil {
		res.Rooms = []models.Room{}
	}
	return res.Rooms, nil
}

type createRoomRequest struct {
	Name string `json:"name"`
}

// CreateRoom はルームを作成します
func (c *Client) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	var res struct {
		Room *models.Room `json:"room"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat/rooms", createRoomRequest{Name: name}, &res); err != nil {
		return models.Room{}, err
	}
	if res.Room == nil || res.Room.ID == 0 {
		return models.Room{}, fmt.Errorf("%w: create room without room", ErrMalformed)
	}
	return *res.Room, nil
}

// DeleteRoom はルームを削除します
func (c *Client) DeleteRoom(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/chat/rooms/"+strconv.FormatInt(id, 10), nil, nil)
}

// SearchUsers は名前でユーザーを検索します
// 検索語が MinSearchLength 文字未満の場合はリクエストせずに空の一覧を返します
func (c *Client) SearchUsers(ctx context.Context, name string) ([]models.User, error) {
	name = strings.TrimSpace(name)
	if len([]rune(name)) < MinSearchLength {
		return []models.User{}, nil
	}
	var res struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/profile/search_users?name="+url.QueryEscape(name), nil, &res); err != nil {
		return nil, err
	}
	if res.Users == nil {
		res.Users = []models.User{}
	}
	return res.Users, nil
}

// GetUser は他のユーザーの公開プロフィールを取得します
func (c *Client) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/profile/users/"+strconv.FormatInt(id, 10), nil, &u); err != nil {
		return models.User{}, err
	}
	if u.ID == 0 {
		u.ID = id
	}
	return u, nil
}

// Health はバックエンドの死活確認を行います
func (c *Client) Health(ctx context.Context) error {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &res); err != nil {
		return err
	}
	if res.Status != "ok" {
		return fmt.Errorf("gateway: unhealthy: status=%s", res.Status)
	}
	return nil
}

// do はリクエストを送信し、2xxの場合はレスポンスを out にデコードします
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		log.Warningf("Request failed: method=%s, path=%s, error=%v", method, path, err)
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return err
	}
	log.Debugf("Response: method=%s, path=%s, status=%d", method, path, resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, errorMessage(data, resp.Status))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data, resp.Status)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// errorMessage はエラーレスポンスからメッセージを取り出します（"error" または "message"）
func errorMessage(data []byte, fallback string) string {
	var res struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.Unmarshal(data, &res); err == nil {
		switch {
		case res.Error != "":
			return res.Error
		case res.Message != "":
			return res.Message
		case res.Msg != "":
			return res.Msg
		}
	}
	return fallback
}
