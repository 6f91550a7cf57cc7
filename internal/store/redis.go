package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/emberchat/ember/internal/metrics"
	"github.com/emberchat/ember/internal/models"
)

// appendScript is the atomic step behind AppendMessage: gate on room
// existence, append, trim to the newest N entries, refresh both TTLs.
// Readers never observe a partial application.
var appendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("RPUSH", KEYS[2], ARGV[1])
redis.call("LTRIM", KEYS[2], -tonumber(ARGV[2]), -1)
redis.call("EXPIRE", KEYS[2], tonumber(ARGV[3]))
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
return 1
`)

// incrWindowScript implements the fixed-window counter: the expiry is set in
// the same logical moment the first increment is observed.
var incrWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return current
`)

// Options configures a room store's TTL and history bound.
type Options struct {
	RoomTTL      time.Duration
	MessageLimit int
}

// RedisStore implements RoomStore on Redis. Room records and histories live
// under per-room keys that expire together; the rate limit counters and block
// flags share the same client.
type RedisStore struct {
	client       *redis.Client
	roomTTL      time.Duration
	messageLimit int

	newRoomID func() string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, opts Options) (*RedisStore, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(ropts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{
		client:       client,
		roomTTL:      opts.RoomTTL,
		messageLimit: opts.MessageLimit,
		newRoomID:    NewRoomID,
	}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomKey returns the key for a room record.
func roomKey(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// messagesKey returns the key for a room's message history list.
func messagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// CreateRoom persists a new room with a conditional create (SET NX EX).
// A collision triggers a retry with a freshly generated id, bounded by
// createAttempts.
func (s *RedisStore) CreateRoom(ctx context.Context, createdBy string) (*models.Room, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		room := &models.Room{
			ID:        s.newRoomID(),
			CreatedAt: time.Now().UnixMilli(),
			CreatedBy: createdBy,
		}

		data, err := json.Marshal(room)
		if err != nil {
			return nil, err
		}

		ok, err := s.client.SetNX(ctx, roomKey(room.ID), data, s.roomTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return room, nil
		}
	}

	return nil, ErrRoomIDExhausted
}

// GetRoom fetches a room record. Returns (nil, nil) when absent.
func (s *RedisStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	raw, err := s.client.Get(ctx, roomKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var room models.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// GetRoomWithHistory reads the room record, the full history and the
// remaining TTL in one pipeline. The reads are a snapshot, not a
// transaction.
func (s *RedisStore) GetRoomWithHistory(ctx context.Context, id string) (*RoomHistory, error) {
	pipe := s.client.Pipeline()
	roomCmd := pipe.Get(ctx, roomKey(id))
	listCmd := pipe.LRange(ctx, messagesKey(id), 0, -1)
	ttlCmd := pipe.TTL(ctx, roomKey(id))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	raw, err := roomCmd.Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var room models.Room
	if err := json.Unmarshal([]byte(raw), &room); err != nil {
		return nil, err
	}

	entries := listCmd.Val()
	msgs := make([]models.Message, 0, len(entries))
	for _, entry := range entries {
		var msg models.Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}

	var ttlSeconds *int64
	if ttl := ttlCmd.Val(); ttl > 0 {
		secs := int64(ttl.Seconds())
		ttlSeconds = &secs
	}

	remaining := s.messageLimit - len(msgs)
	if remaining < 0 {
		remaining = 0
	}

	return &RoomHistory{
		Room:     room,
		Messages: msgs,
		Meta: models.RoomMeta{
			TTLSeconds:        ttlSeconds,
			MessageLimit:      s.messageLimit,
			MessagesRemaining: remaining,
		},
	}, nil
}

// AppendMessage stores a message in the room's history via the atomic append
// script. Returns (false, nil) when the room record no longer exists.
func (s *RedisStore) AppendMessage(ctx context.Context, roomID string, msg *models.Message) (bool, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}

	start := time.Now()
	stored, err := appendScript.Run(ctx, s.client,
		[]string{roomKey(roomID), messagesKey(roomID)},
		data, s.messageLimit, int(s.roomTTL.Seconds()),
	).Int()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return false, err
	}

	return stored == 1, nil
}

// IncrWindow atomically increments a fixed-window counter, starting the
// window on the first increment. Implements ratelimit.CounterStore.
func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	start := time.Now()
	count, err := incrWindowScript.Run(ctx, s.client, []string{key}, int(window.Seconds())).Int64()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return count, err
}

// SetFlag sets an expiring marker key, used for temporary IP blocks.
func (s *RedisStore) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// HasFlag reports whether a marker key exists.
func (s *RedisStore) HasFlag(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}
