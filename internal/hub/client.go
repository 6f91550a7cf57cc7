package hub

import (
	"sync"

	"github.com/emberchat/ember/internal/models"
)

// sendBuffer bounds the per-connection outbound queue. A subscriber that
// falls this far behind is skipped rather than allowed to stall broadcasts.
const sendBuffer = 64

// Client is one live subscription. The transport (a WebSocket write pump)
// consumes Frames; the hub produces into it. A client starts in catch-up
// mode: broadcasts arriving between registration and the history snapshot
// are parked in pending, then deduplicated against the snapshot so the
// subscriber sees each message exactly once and in order.
type Client struct {
	roomID   string
	username string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	live    bool
	pending []models.Message
}

// NewClient creates a subscription handle for a room.
func NewClient(roomID, username string) *Client {
	return &Client{
		roomID:   roomID,
		username: username,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// RoomID returns the room this client is subscribed to.
func (c *Client) RoomID() string {
	return c.roomID
}

// Username returns the display name given at subscription time.
func (c *Client) Username() string {
	return c.username
}

// Frames returns the outbound frame queue consumed by the transport.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close marks the client unwritable. Safe to call from any goroutine, any
// number of times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SendError queues a connection-private error frame, best-effort.
func (c *Client) SendError(text string) {
	c.enqueue(marshalError(text))
}

// DeliverSnapshot sends the one-time history frame and flushes any broadcasts
// parked during catch-up, dropping those already present in the snapshot.
// After this call the client receives broadcasts directly.
func (c *Client) DeliverSnapshot(history []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enqueue(marshalHistory(history))

	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		seen[msg.ID] = struct{}{}
	}
	for _, msg := range c.pending {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		c.enqueue(marshalMessage(msg))
	}

	c.pending = nil
	c.live = true
}

// deliver hands a broadcast to the client. During catch-up the message is
// parked; afterwards it is queued for the transport. Returns false when the
// client is unwritable (closed or backed up) and the frame was skipped.
func (c *Client) deliver(msg models.Message, frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live {
		select {
		case <-c.done:
			return false
		default:
		}
		c.pending = append(c.pending, msg)
		return true
	}

	return c.enqueue(frame)
}

// enqueue attempts a non-blocking send to the transport queue. A closed or
// full client is skipped, never blocked on.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
