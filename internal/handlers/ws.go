package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emberchat/ember/internal/hub"
	"github.com/emberchat/ember/internal/metrics"
	"github.com/emberchat/ember/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxInbound = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Anonymous rooms are joined from anywhere, mirroring the wide-open CORS
	// policy of the HTTP API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsPost is an outbound post request received over a live connection.
type wsPost struct {
	User string `json:"user"`
	Text string `json:"text"`
}

// Subscribe upgrades the connection and runs one chat session: a one-time
// history snapshot followed by every message subsequently accepted for the
// room, with inbound frames translated into message posts. The subscription
// is removed on every exit path.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	roomID := r.URL.Query().Get("roomId")
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if roomID == "" || username == "" {
		h.closeWithError(conn, "Missing roomId or username.")
		return
	}

	room, err := h.store.GetRoom(r.Context(), roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("room lookup failed")
		h.closeWithError(conn, "Something went wrong. Please try again.")
		return
	}
	if room == nil {
		h.closeWithError(conn, "Room not found.")
		return
	}

	client := hub.NewClient(roomID, truncate(username, maxNameLen))
	h.hub.Subscribe(client)
	defer h.hub.Unsubscribe(client)

	go h.writePump(conn, client)

	// Snapshot after registration: broadcasts racing this read are parked by
	// the client and deduplicated against the snapshot, so the subscriber
	// misses nothing and sees nothing twice.
	history, err := h.store.GetRoomWithHistory(r.Context(), roomID)
	if err != nil {
		h.logger.Error().Err(err).Str("room_id", roomID).Msg("history snapshot failed")
		client.SendError("Something went wrong. Please try again.")
		return
	}
	var msgs []models.Message
	if history != nil {
		msgs = history.Messages
	}
	client.DeliverSnapshot(msgs)

	h.readLoop(conn, client, realIP(r))
}

// closeWithError reports a terminal error on a fresh connection and closes it.
func (h *Handler) closeWithError(conn *websocket.Conn, text string) {
	frame, _ := json.Marshal(map[string]string{"type": hub.FrameError, "error": text})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

// writePump is the single writer for one connection. It drains the client's
// frame queue and keeps the connection alive with pings, preserving the
// order frames were queued.
func (h *Handler) writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-client.Frames():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				client.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}
		case <-client.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readLoop processes inbound post requests until the transport closes. Faults
// are answered with connection-private error frames and never terminate
// sibling connections.
func (h *Handler) readLoop(conn *websocket.Conn, client *hub.Client, ip string) {
	conn.SetReadLimit(maxInbound)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("room_id", client.RoomID()).Msg("websocket read failed")
			}
			return
		}

		var req wsPost
		if err := json.Unmarshal(data, &req); err != nil {
			client.SendError("Invalid message payload.")
			continue
		}

		// Validation runs before any rate limit budget is consumed
		text := strings.TrimSpace(req.Text)
		user := strings.TrimSpace(req.User)
		if user == "" {
			user = client.Username()
		}
		if text == "" {
			metrics.MessagesRejected.WithLabelValues("validation").Inc()
			client.SendError("Message text is required.")
			continue
		}

		ctx := context.Background()
		if !h.whitelist.Contains(ip) {
			if v := h.limiter.Enforce(ctx, h.wsMessageTier(ip, client.RoomID())); v != nil {
				metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
				h.blocker.RecordViolation(ctx, ip)
				client.SendError(v.Tier.Message)
				continue
			}
		}

		msg := &models.Message{
			User: truncate(user, maxNameLen),
			Text: truncate(text, maxTextLen),
		}

		accepted, err := h.store.AppendMessage(ctx, client.RoomID(), msg)
		if err != nil {
			h.logger.Error().Err(err).Str("room_id", client.RoomID()).Msg("message store failed")
			client.SendError("Something went wrong. Please try again.")
			continue
		}
		if !accepted {
			metrics.MessagesRejected.WithLabelValues("room_not_found").Inc()
			client.SendError("Room not found.")
			continue
		}

		metrics.MessagesPosted.WithLabelValues("ws").Inc()
		h.hub.Broadcast(client.RoomID(), *msg)
	}
}
