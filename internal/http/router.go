package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Hola62/realtime-chat-app/internal/handlers"
)

// Handlers はルーターに登録するハンドラーの一式です
type Handlers struct {
	Auth      *handlers.AuthHandler
	Chat      *handlers.ChatHandler
	WebSocket *handlers.WebSocketHandler
	SocketIO  *handlers.SocketIOHandler
}

func NewRouter(h Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Auth.Register)
		r.Post("/login", h.Auth.Login)
		r.With(h.Auth.RequireUser).Get("/me", h.Auth.Me)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.Auth.RequireUser)

		r.Route("/chat/rooms", func(r chi.Router) {
			r.Get("/", h.Chat.ListRooms)
			r.Post("/", h.Chat.CreateRoom)
			r.Delete("/{roomId}", h.Chat.DeleteRoom)
		})

		r.Route("/profile", func(r chi.Router) {
			r.Get("/me", h.Auth.Me)
			r.Get("/search_users", h.Chat.SearchUsers)
			r.Get("/users/{userId}", h.Chat.GetUser)
		})
	})

	// リアルタイムのエンドポイントはトークンを自身で検証する
	r.Get("/ws", h.WebSocket.HandleWebSocket)
	if h.SocketIO != nil {
		r.Handle("/socket.io/", h.SocketIO)
	}

	return r
}
