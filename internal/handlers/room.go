package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Hola62/realtime-chat-app/internal/models"
	"github.com/Hola62/realtime-chat-app/internal/service"
)

// ChatHandler はルームとユーザープロフィールのRESTハンドラーです
type ChatHandler struct {
	svc *service.ChatService
	hub *ChatHub
}

func NewChatHandler(s *service.ChatService, hub *ChatHub) *ChatHandler {
	return &ChatHandler{svc: s, hub: hub}
}

// writeServiceError はサービス層のエラーをHTTPステータスに対応付けます
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		respondError(w, http.StatusNotFound, clientMessage(err))
	case errors.Is(err, service.ErrInvalidRoomName),
		errors.Is(err, service.ErrInvalidContent),
		errors.Is(err, service.ErrInvalidPrivateRoom):
		respondError(w, http.StatusBadRequest, clientMessage(err))
	case errors.Is(err, service.ErrNotMessageOwner):
		respondError(w, http.StatusForbidden, clientMessage(err))
	default:
		log.Errorf("%s error: %v", op, err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *ChatHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.ListRooms(r.Context())
	if err != nil {
		writeServiceError(w, "List rooms", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (h *ChatHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var in createRoomRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	u, _ := CurrentUser(r.Context())
	room, err := h.svc.CreateRoom(r.Context(), u, in.Name)
	if err != nil {
		writeServiceError(w, "Create room", err)
		return
	}
	log.Infof("Room created: roomId=%d, userId=%d", room.ID, u.ID)
	respondJSON(w, http.StatusCreated, map[string]any{"message": "Room created", "room": room})
}

// DeleteRoom はルームを削除し、参加中の接続をルームから外します
func (h *ChatHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "roomId"), "room id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, err := h.svc.ResolveRoom(r.Context(), models.RoomKeyFromID(id))
	if err != nil {
		writeServiceError(w, "Delete room", err)
		return
	}
	if err := h.svc.DeleteRoom(r.Context(), id); err != nil {
		writeServiceError(w, "Delete room", err)
		return
	}
	if h.hub != nil {
		h.hub.DropRoom(room.Key())
	}
	log.Infof("Room deleted: roomId=%d", id)
	respondJSON(w, http.StatusOK, map[string]any{"message": "Room deleted"})
}

func (h *ChatHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	u, _ := CurrentUser(r.Context())
	users, err := h.svc.SearchUsers(r.Context(), r.URL.Query().Get("name"), u.ID)
	if err != nil {
		writeServiceError(w, "Search users", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *ChatHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "userId"), "user id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Get user", err)
		return
	}
	u.Email = ""
	if h.hub != nil {
		u.Status = h.hub.Status(u.ID)
	}
	respondJSON(w, http.StatusOK, u)
}
