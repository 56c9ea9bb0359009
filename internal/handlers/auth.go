package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

type ctxKey int

const userKey ctxKey = iota

// CurrentUser はミドルウェアで認証済みのユーザーを返します
func CurrentUser(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(s *service.AuthService) *AuthHandler { return &AuthHandler{svc: s} }

type authResponse struct {
	Message     string      `json:"message"`
	User        models.User `json:"user"`
	AccessToken string      `json:"access_token"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, token, err := h.svc.Register(r.Context(), in.Email, in.Password, in.FirstName, in.LastName)
	switch {
	case errors.Is(err, service.ErrEmailTaken):
		respondError(w, http.StatusConflict, clientMessage(err))
		return
	case err != nil:
		log.Errorf("Register error: email=%s, error=%v", in.Email, err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	log.Infof("User registered: userId=%d", u.ID)
	respondJSON(w, http.StatusCreated, authResponse{Message: "Registration successful", User: u, AccessToken: token})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, token, err := h.svc.Login(r.Context(), in.Email, in.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, clientMessage(err))
		return
	case err != nil:
		log.Errorf("Login error: email=%s, error=%v", in.Email, err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Message: "Login successful", User: u, AccessToken: token})
}

// Me はトークンの持ち主を返します
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	respondJSON(w, http.StatusOK, u)
}

// RequireUser はBearerトークンを検証し、ユーザーをコンテキストに格納するミドルウェアです
func (h *AuthHandler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "Missing authorization token")
			return
		}
		u, err := h.svc.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, service.ErrInvalidToken) || errors.Is(err, service.ErrTokenExpired) {
				respondError(w, http.StatusUnauthorized, clientMessage(err))
				return
			}
			log.Errorf("Authenticate error: %v", err)
			respondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}
