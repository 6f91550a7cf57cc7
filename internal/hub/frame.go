package hub

import (
	"encoding/json"

	"github.com/emberchat/ember/internal/models"
)

// Wire frames sent to subscribers. A connection receives exactly one history
// frame on subscription, then message frames as writes are accepted. Error
// frames are private to one connection.
const (
	FrameHistory = "history"
	FrameMessage = "message"
	FrameError   = "error"
)

type historyFrame struct {
	Type     string           `json:"type"`
	Messages []models.Message `json:"messages"`
}

type messageFrame struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func marshalHistory(msgs []models.Message) []byte {
	if msgs == nil {
		msgs = []models.Message{}
	}
	data, _ := json.Marshal(historyFrame{Type: FrameHistory, Messages: msgs})
	return data
}

func marshalMessage(msg models.Message) []byte {
	data, _ := json.Marshal(messageFrame{Type: FrameMessage, Message: msg})
	return data
}

func marshalError(text string) []byte {
	data, _ := json.Marshal(errorFrame{Type: FrameError, Error: text})
	return data
}
