package models

// Room represents an ephemeral chat room stored in Redis.
// Rooms are immutable after creation and disappear by key expiry;
// absence of the record is deletion.
type Room struct {
	ID        string `json:"id"`        // Short code (8 chars)
	CreatedAt int64  `json:"createdAt"` // Unix ms
	CreatedBy string `json:"createdBy"` // Display name of the creator
}

// RoomMeta describes the current state of a room's bounded history.
type RoomMeta struct {
	TTLSeconds        *int64 `json:"ttlSeconds"` // nil when the room carries no TTL
	MessageLimit      int    `json:"messageLimit"`
	MessagesRemaining int    `json:"messagesRemaining"`
}
