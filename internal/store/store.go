package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/emberchat/ember/internal/models"
)

// createAttempts bounds room id generation retries on collision.
const createAttempts = 5

// ErrRoomIDExhausted is returned when room id generation collides on every
// attempt. Fatal for the one creation call only.
var ErrRoomIDExhausted = errors.New("store: failed to create a unique room id")

// RoomHistory is the snapshot returned by GetRoomWithHistory. The three reads
// composing it are not atomic; staleness is bounded by TTL granularity.
type RoomHistory struct {
	Room     models.Room      `json:"room"`
	Messages []models.Message `json:"messages"`
	Meta     models.RoomMeta  `json:"meta"`
}

// RoomStore is the storage capability the chat engine depends on. The Redis
// implementation backs production; MemoryStore backs development and tests.
// Both linearize AppendMessage as a single atomic step gated on room
// existence.
type RoomStore interface {
	Close() error
	Ping(ctx context.Context) error

	// CreateRoom generates a unique short id and persists the room record
	// with the configured TTL, retrying a bounded number of times on id
	// collision.
	CreateRoom(ctx context.Context, createdBy string) (*models.Room, error)

	// GetRoom returns (nil, nil) when the room is absent or expired.
	GetRoom(ctx context.Context, id string) (*models.Room, error)

	// GetRoomWithHistory returns (nil, nil) when the room is absent.
	GetRoomWithHistory(ctx context.Context, id string) (*RoomHistory, error)

	// AppendMessage appends to the room's history, trims it to the message
	// limit and refreshes both TTLs, all in one atomic step gated on the
	// room record existing. Returns (false, nil) when the room is absent;
	// an expired room mid-session is an expected race, not an error.
	AppendMessage(ctx context.Context, roomID string, msg *models.Message) (bool, error)
}

// NewRoomID returns a short opaque room code: the first 8 hex chars of a v4
// UUID. Uniqueness among live rooms is enforced by the conditional create,
// not by the generator.
func NewRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
