package models

// Message represents a chat message stored in a room's history.
// Messages are immutable; the whole history is trimmed from the oldest
// end or dropped with the room, never edited.
type Message struct {
	ID        string `json:"id"`        // ULID
	User      string `json:"user"`      // Display name (max 32 chars)
	Text      string `json:"text"`      // Body (max 500 chars)
	CreatedAt int64  `json:"createdAt"` // Unix ms
}
