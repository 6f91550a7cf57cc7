package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/emberchat/ember/internal/metrics"
	"github.com/emberchat/ember/internal/models"
	"github.com/emberchat/ember/internal/store"
)

// maxNameLen and maxTextLen are the truncation bounds for user-supplied
// fields. Deliberate permissiveness: oversize input is cut, not rejected.
const (
	maxNameLen = 32
	maxTextLen = 500
)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Username string `json:"username"`
}

// CreateRoomResponse represents the room creation response.
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

// RoomResponse represents the get room response.
type RoomResponse struct {
	Room models.Room `json:"room"`
}

// HistoryResponse represents the room history response.
type HistoryResponse struct {
	Messages []models.Message `json:"messages"`
	Meta     models.RoomMeta  `json:"meta"`
}

// PostMessageRequest represents the post message request.
type PostMessageRequest struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// PostMessageResponse represents the post message response.
type PostMessageResponse struct {
	Message models.Message `json:"message"`
}

// CreateRoom handles room creation.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validation runs before any rate limit budget is consumed
	username := strings.TrimSpace(req.Username)
	if username == "" {
		h.Error(w, http.StatusBadRequest, "Username is required.")
		return
	}

	ip := realIP(r)
	if h.enforceTiers(w, r, ip, h.roomCreateTiers(ip)...) {
		return
	}

	room, err := h.store.CreateRoom(r.Context(), truncate(username, maxNameLen))
	if err != nil {
		if errors.Is(err, store.ErrRoomIDExhausted) {
			h.Error(w, http.StatusServiceUnavailable, "Could not allocate a room id. Please try again.")
			return
		}
		h.logger.Error().Err(err).Msg("room creation failed")
		h.Error(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	metrics.RoomsCreated.Inc()
	h.JSON(w, http.StatusCreated, CreateRoomResponse{RoomID: room.ID})
}

// GetRoom handles fetching a room descriptor.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("room lookup failed")
		h.Error(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "Room not found.")
		return
	}

	h.JSON(w, http.StatusOK, RoomResponse{Room: *room})
}

// GetHistory handles fetching a room's message history snapshot.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	history, err := h.store.GetRoomWithHistory(r.Context(), roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("history lookup failed")
		h.Error(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	if history == nil {
		h.Error(w, http.StatusNotFound, "Room not found.")
		return
	}

	h.JSON(w, http.StatusOK, HistoryResponse{
		Messages: history.Messages,
		Meta:     history.Meta,
	})
}

// PostMessage handles posting a message to a room over HTTP.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// Validation runs before any rate limit budget is consumed
	text := strings.TrimSpace(req.Text)
	username := strings.TrimSpace(req.Username)
	if text == "" {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		h.Error(w, http.StatusBadRequest, "Message cannot be empty.")
		return
	}
	if username == "" {
		metrics.MessagesRejected.WithLabelValues("validation").Inc()
		h.Error(w, http.StatusBadRequest, "Username is required.")
		return
	}

	ip := realIP(r)
	if h.enforceTiers(w, r, ip, h.messageTiers(ip, roomID)...) {
		metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
		return
	}

	msg := &models.Message{
		User: truncate(username, maxNameLen),
		Text: truncate(text, maxTextLen),
	}

	accepted, err := h.store.AppendMessage(r.Context(), roomID, msg)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("message store failed")
		h.Error(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}
	if !accepted {
		// The room expired between the client's last read and this write;
		// an expected race, answered like any other missing room.
		metrics.MessagesRejected.WithLabelValues("room_not_found").Inc()
		h.Error(w, http.StatusNotFound, "Room not found.")
		return
	}

	metrics.MessagesPosted.WithLabelValues("http").Inc()
	h.hub.Broadcast(roomID, *msg)

	h.JSON(w, http.StatusCreated, PostMessageResponse{Message: *msg})
}
