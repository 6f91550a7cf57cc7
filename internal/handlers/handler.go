package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/api/middleware"
	"github.com/emberchat/ember/internal/config"
	"github.com/emberchat/ember/internal/hub"
	"github.com/emberchat/ember/internal/ratelimit"
	"github.com/emberchat/ember/internal/store"
)

// Handler contains shared dependencies for all HTTP and WebSocket handlers.
type Handler struct {
	store     store.RoomStore
	limiter   *ratelimit.Limiter
	blocker   *ratelimit.Blocker
	whitelist *ratelimit.Whitelist
	hub       *hub.Hub
	cfg       *config.Config
	logger    zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	st store.RoomStore,
	limiter *ratelimit.Limiter,
	blocker *ratelimit.Blocker,
	whitelist *ratelimit.Whitelist,
	h *hub.Hub,
	cfg *config.Config,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		store:     st,
		limiter:   limiter,
		blocker:   blocker,
		whitelist: whitelist,
		hub:       h,
		cfg:       cfg,
		logger:    logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// enforceTiers runs the declared rate limit tiers for ip and writes the 429
// response for the first violated one. Whitelisted IPs skip limiting
// entirely. Returns true when the request was rejected.
func (h *Handler) enforceTiers(w http.ResponseWriter, r *http.Request, ip string, tiers ...ratelimit.Tier) bool {
	if h.whitelist.Contains(ip) {
		return false
	}

	v := h.limiter.Enforce(r.Context(), tiers...)
	if v == nil {
		return false
	}

	h.blocker.RecordViolation(r.Context(), ip)
	w.Header().Set("Retry-After", strconv.FormatInt(v.Result.ResetSeconds, 10))
	h.Error(w, http.StatusTooManyRequests, v.Tier.Message)
	return true
}

// roomCreateTiers are the limits gating room creation, in evaluation order.
func (h *Handler) roomCreateTiers(ip string) []ratelimit.Tier {
	return []ratelimit.Tier{
		{
			Name:    "room_create_burst",
			Key:     "ratelimit:rooms:create:" + ip,
			Limit:   h.cfg.RoomCreateLimit,
			Window:  h.cfg.RoomCreateWindow,
			Message: "Too many rooms created. Please wait a bit.",
		},
		{
			Name:    "room_create_daily",
			Key:     "ratelimit:rooms:create:daily:" + ip,
			Limit:   h.cfg.RoomCreateDailyLimit,
			Window:  h.cfg.RoomCreateDailyWindow,
			Message: "Room creation limit reached for today.",
		},
	}
}

// messageTiers are the limits gating HTTP message posts, in evaluation order.
func (h *Handler) messageTiers(ip, roomID string) []ratelimit.Tier {
	return []ratelimit.Tier{
		{
			Name:    "message_burst",
			Key:     "ratelimit:messages:" + ip,
			Limit:   h.cfg.MessageRateLimit,
			Window:  h.cfg.MessageRateWindow,
			Message: "Too many messages. Please slow down.",
		},
		{
			Name:    "message_hourly",
			Key:     "ratelimit:messages:" + ip + ":" + roomID + ":hourly",
			Limit:   h.cfg.MessageHourlyLimit,
			Window:  h.cfg.MessageHourlyWindow,
			Message: "Message limit reached for the last hour.",
		},
	}
}

// wsMessageTier is the limit gating messages sent over a live connection.
func (h *Handler) wsMessageTier(ip, roomID string) ratelimit.Tier {
	return ratelimit.Tier{
		Name:    "ws_messages",
		Key:     "ratelimit:ws:messages:" + ip + ":" + roomID,
		Limit:   h.cfg.MessageRateLimit,
		Window:  h.cfg.MessageRateWindow,
		Message: "Too many messages. Please slow down.",
	}
}

// realIP is indirected for the handlers package.
func realIP(r *http.Request) string {
	return middleware.RealIP(r)
}

// truncate limits a string to max runes. Oversize display names and message
// bodies are truncated, not rejected.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
