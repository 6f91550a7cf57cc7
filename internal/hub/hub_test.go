package hub

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/emberchat/ember/internal/models"
)

func newTestHub() *Hub {
	return New(zerolog.Nop())
}

func msg(id, text string) models.Message {
	return models.Message{ID: id, User: "alice", Text: text, CreatedAt: 1}
}

// readFrame pops one frame off the client's queue, failing on an empty queue.
func readFrame(t *testing.T, c *Client) map[string]json.RawMessage {
	t.Helper()
	select {
	case data := <-c.Frames():
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", data, err)
		}
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func frameType(t *testing.T, frame map[string]json.RawMessage) string {
	t.Helper()
	var typ string
	if err := json.Unmarshal(frame["type"], &typ); err != nil {
		t.Fatal(err)
	}
	return typ
}

func frameMessage(t *testing.T, frame map[string]json.RawMessage) models.Message {
	t.Helper()
	var m models.Message
	if err := json.Unmarshal(frame["message"], &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func frameHistory(t *testing.T, frame map[string]json.RawMessage) []models.Message {
	t.Helper()
	var msgs []models.Message
	if err := json.Unmarshal(frame["messages"], &msgs); err != nil {
		t.Fatal(err)
	}
	return msgs
}

func TestSnapshotThenBroadcasts(t *testing.T) {
	h := newTestHub()
	c := NewClient("room1", "alice")
	h.Subscribe(c)
	defer h.Unsubscribe(c)

	c.DeliverSnapshot([]models.Message{msg("m1", "one"), msg("m2", "two")})
	h.Broadcast("room1", msg("m3", "three"))
	h.Broadcast("room1", msg("m4", "four"))

	first := readFrame(t, c)
	if frameType(t, first) != FrameHistory {
		t.Fatalf("first frame type = %q, want history", frameType(t, first))
	}
	history := frameHistory(t, first)
	if len(history) != 2 || history[0].ID != "m1" || history[1].ID != "m2" {
		t.Fatalf("history = %+v", history)
	}

	for _, want := range []string{"m3", "m4"} {
		frame := readFrame(t, c)
		if frameType(t, frame) != FrameMessage {
			t.Fatalf("frame type = %q, want message", frameType(t, frame))
		}
		if got := frameMessage(t, frame); got.ID != want {
			t.Fatalf("message id = %q, want %q", got.ID, want)
		}
	}
}

func TestEmptySnapshot(t *testing.T) {
	h := newTestHub()
	c := NewClient("room1", "alice")
	h.Subscribe(c)
	defer h.Unsubscribe(c)

	c.DeliverSnapshot(nil)

	frame := readFrame(t, c)
	if frameType(t, frame) != FrameHistory {
		t.Fatalf("frame type = %q, want history", frameType(t, frame))
	}
	if history := frameHistory(t, frame); len(history) != 0 {
		t.Fatalf("history = %+v, want empty", history)
	}
}

// A broadcast racing the snapshot read is parked during catch-up and
// deduplicated against the snapshot: the subscriber sees each message exactly
// once, in order.
func TestCatchupDeduplication(t *testing.T) {
	h := newTestHub()
	c := NewClient("room1", "alice")
	h.Subscribe(c)
	defer h.Unsubscribe(c)

	// m2 lands in both the snapshot and the broadcast stream; m3 was
	// appended after the snapshot read.
	h.Broadcast("room1", msg("m2", "two"))
	h.Broadcast("room1", msg("m3", "three"))
	c.DeliverSnapshot([]models.Message{msg("m1", "one"), msg("m2", "two")})

	first := readFrame(t, c)
	history := frameHistory(t, first)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}

	frame := readFrame(t, c)
	if got := frameMessage(t, frame); got.ID != "m3" {
		t.Fatalf("post-catchup message id = %q, want m3 (m2 must not repeat)", got.ID)
	}

	select {
	case data := <-c.Frames():
		t.Fatalf("unexpected extra frame %q", data)
	default:
	}
}

func TestRoomIsolation(t *testing.T) {
	h := newTestHub()
	c1 := NewClient("room1", "alice")
	c2 := NewClient("room2", "bob")
	h.Subscribe(c1)
	h.Subscribe(c2)
	defer h.Unsubscribe(c1)
	defer h.Unsubscribe(c2)
	c1.DeliverSnapshot(nil)
	c2.DeliverSnapshot(nil)
	readFrame(t, c1) // history
	readFrame(t, c2) // history

	h.Broadcast("room1", msg("m1", "one"))

	frame := readFrame(t, c1)
	if got := frameMessage(t, frame); got.ID != "m1" {
		t.Fatalf("room1 client got %q", got.ID)
	}

	select {
	case data := <-c2.Frames():
		t.Fatalf("room2 client received foreign frame %q", data)
	default:
	}
}

func TestUnsubscribeDropsEmptyRoom(t *testing.T) {
	h := newTestHub()
	c1 := NewClient("room1", "alice")
	c2 := NewClient("room1", "bob")
	h.Subscribe(c1)
	h.Subscribe(c2)

	if got := h.Subscribers("room1"); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}

	h.Unsubscribe(c1)
	if got := h.Subscribers("room1"); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	h.Unsubscribe(c2)
	if got := h.Subscribers("room1"); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
	if _, ok := h.rooms["room1"]; ok {
		t.Fatal("empty room entry not dropped from registry")
	}

	// Idempotent
	h.Unsubscribe(c2)
}

func TestBroadcastSkipsUnwritable(t *testing.T) {
	h := newTestHub()
	slow := NewClient("room1", "alice")
	healthy := NewClient("room1", "bob")
	h.Subscribe(slow)
	h.Subscribe(healthy)
	defer h.Unsubscribe(slow)
	defer h.Unsubscribe(healthy)
	slow.DeliverSnapshot(nil)
	healthy.DeliverSnapshot(nil)
	readFrame(t, healthy)

	// Fill the slow client's queue; nobody is draining it
	for i := 0; i < sendBuffer+10; i++ {
		h.Broadcast("room1", msg(fmt.Sprintf("m%d", i), "x"))
	}

	// The healthy client saw every frame its buffer could hold, and the
	// backed-up client never blocked the broadcast.
	frame := readFrame(t, healthy)
	if got := frameMessage(t, frame); got.ID != "m0" {
		t.Fatalf("healthy client first message = %q, want m0", got.ID)
	}
}

func TestBroadcastSkipsClosed(t *testing.T) {
	h := newTestHub()
	closed := NewClient("room1", "alice")
	open := NewClient("room1", "bob")
	h.Subscribe(closed)
	h.Subscribe(open)
	defer h.Unsubscribe(open)
	closed.DeliverSnapshot(nil)
	open.DeliverSnapshot(nil)
	readFrame(t, open)

	closed.Close()
	h.Broadcast("room1", msg("m1", "one"))

	frame := readFrame(t, open)
	if got := frameMessage(t, frame); got.ID != "m1" {
		t.Fatalf("open client got %q", got.ID)
	}
}

func TestPerConnectionOrdering(t *testing.T) {
	h := newTestHub()
	c := NewClient("room1", "alice")
	h.Subscribe(c)
	defer h.Unsubscribe(c)
	c.DeliverSnapshot(nil)
	readFrame(t, c)

	for i := 0; i < 20; i++ {
		h.Broadcast("room1", msg(fmt.Sprintf("m%d", i), "x"))
	}
	for i := 0; i < 20; i++ {
		frame := readFrame(t, c)
		want := fmt.Sprintf("m%d", i)
		if got := frameMessage(t, frame); got.ID != want {
			t.Fatalf("frame %d: id = %q, want %q", i, got.ID, want)
		}
	}
}

// Exercises concurrent subscribe/unsubscribe/broadcast under the race
// detector.
func TestConcurrentChurn(t *testing.T) {
	h := newTestHub()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			room := fmt.Sprintf("room%d", n%2)
			for j := 0; j < 50; j++ {
				c := NewClient(room, "alice")
				h.Subscribe(c)
				c.DeliverSnapshot(nil)
				h.Broadcast(room, msg(fmt.Sprintf("m%d-%d", n, j), "x"))
				h.Unsubscribe(c)
			}
		}(i)
	}

	wg.Wait()

	if got := h.Subscribers("room0") + h.Subscribers("room1"); got != 0 {
		t.Fatalf("leaked %d registry entries", got)
	}
}

func TestCloseAll(t *testing.T) {
	h := newTestHub()
	c := NewClient("room1", "alice")
	h.Subscribe(c)

	h.CloseAll()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed by CloseAll")
	}
	if got := h.Subscribers("room1"); got != 0 {
		t.Fatalf("subscribers = %d after CloseAll", got)
	}
}
