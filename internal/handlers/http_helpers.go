// Package handlers は開発用バックエンドのHTTP・リアルタイムのハンドラーです
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("handlers")

// errorResponse はエラーレスポンスの構造
type errorResponse struct {
	Error string `json:"error"` // エラーメッセージ
}

// respondJSON はJSONレスポンスを返します
// payloadがnilの場合は空のレスポンスを返します
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// respondError はエラーレスポンスを返します
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON はリクエストボディからJSONをデコードします
// 失敗した場合はエラーレスポンスを返してfalseを返します
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	// 大きすぎるリクエストを防ぐ（1MB制限）
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			respondError(w, http.StatusBadRequest, "Invalid JSON payload")
			return false
		}
		respondError(w, http.StatusBadRequest, "Bad request")
		return false
	}
	return true
}

// clientMessage はサービス層のエラーをクライアント向けの文に整えます
func clientMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	r := []rune(msg)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// bearerToken は Authorization ヘッダーまたは token クエリからトークンを取り出します
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
