package store

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/emberchat/ember/internal/models"
)

// MemoryStore implements RoomStore in process memory. It backs development
// runs without Redis and the test suite. Expiry is lazy: records past their
// deadline are treated as absent and dropped on access.
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*memoryRoom
	counters map[string]*memoryCounter
	flags    map[string]time.Time

	roomTTL      time.Duration
	messageLimit int

	now       func() time.Time
	newRoomID func() string
}

type memoryRoom struct {
	room      models.Room
	messages  []models.Message
	expiresAt time.Time
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory room store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		rooms:        make(map[string]*memoryRoom),
		counters:     make(map[string]*memoryCounter),
		flags:        make(map[string]time.Time),
		roomTTL:      opts.RoomTTL,
		messageLimit: opts.MessageLimit,
		now:          time.Now,
		newRoomID:    NewRoomID,
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Ping is a no-op for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// liveRoom returns the entry for id if it exists and has not expired,
// dropping it otherwise. Callers must hold s.mu.
func (s *MemoryStore) liveRoom(id string) *memoryRoom {
	entry, ok := s.rooms[id]
	if !ok {
		return nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.rooms, id)
		return nil
	}
	return entry
}

// CreateRoom persists a new room, retrying on id collision up to the
// creation bound.
func (s *MemoryStore) CreateRoom(ctx context.Context, createdBy string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < createAttempts; attempt++ {
		id := s.newRoomID()
		if s.liveRoom(id) != nil {
			continue
		}

		room := models.Room{
			ID:        id,
			CreatedAt: s.now().UnixMilli(),
			CreatedBy: createdBy,
		}
		s.rooms[id] = &memoryRoom{
			room:      room,
			expiresAt: s.now().Add(s.roomTTL),
		}
		return &room, nil
	}

	return nil, ErrRoomIDExhausted
}

// GetRoom fetches a room record. Returns (nil, nil) when absent or expired.
func (s *MemoryStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveRoom(id)
	if entry == nil {
		return nil, nil
	}
	room := entry.room
	return &room, nil
}

// GetRoomWithHistory returns the room, a copy of its history and the meta
// block. Returns (nil, nil) when the room is absent.
func (s *MemoryStore) GetRoomWithHistory(ctx context.Context, id string) (*RoomHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveRoom(id)
	if entry == nil {
		return nil, nil
	}

	msgs := make([]models.Message, len(entry.messages))
	copy(msgs, entry.messages)

	var ttlSeconds *int64
	if remaining := entry.expiresAt.Sub(s.now()); remaining > 0 {
		secs := int64(remaining.Seconds())
		ttlSeconds = &secs
	}

	left := s.messageLimit - len(msgs)
	if left < 0 {
		left = 0
	}

	return &RoomHistory{
		Room:     entry.room,
		Messages: msgs,
		Meta: models.RoomMeta{
			TTLSeconds:        ttlSeconds,
			MessageLimit:      s.messageLimit,
			MessagesRemaining: left,
		},
	}, nil
}

// AppendMessage appends, trims and refreshes the expiry under one lock,
// mirroring the Redis script. The room record and its history live in the
// same entry, so their TTLs can never diverge.
func (s *MemoryStore) AppendMessage(ctx context.Context, roomID string, msg *models.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = s.now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.liveRoom(roomID)
	if entry == nil {
		return false, nil
	}

	entry.messages = append(entry.messages, *msg)
	if len(entry.messages) > s.messageLimit {
		entry.messages = entry.messages[len(entry.messages)-s.messageLimit:]
	}
	entry.expiresAt = s.now().Add(s.roomTTL)

	return true, nil
}

// IncrWindow atomically increments a fixed-window counter, starting the
// window on the first increment. Implements ratelimit.CounterStore.
func (s *MemoryStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.counters[key]
	if !ok || !s.now().Before(counter.expiresAt) {
		counter = &memoryCounter{expiresAt: s.now().Add(window)}
		s.counters[key] = counter
	}
	counter.count++
	return counter.count, nil
}

// SetFlag sets an expiring marker key.
func (s *MemoryStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags[key] = s.now().Add(ttl)
	return nil
}

// HasFlag reports whether a marker key exists.
func (s *MemoryStore) HasFlag(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.flags[key]
	if !ok {
		return false, nil
	}
	if !s.now().Before(deadline) {
		delete(s.flags, key)
		return false, nil
	}
	return true, nil
}
