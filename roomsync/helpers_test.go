package roomsync

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, room string) (*roomEnv, *ManualClock) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	clock := NewManualClock(epoch)
	env := &roomEnv{
		room:    room,
		cfg:     DefaultConfig(),
		loop:    NewLoop(1024, log),
		spawn:   InlineSpawner,
		clock:   clock,
		log:     log,
		metrics: newMetrics(nil),
		scope:   newScope(context.Background(), room),
	}
	return env, clock
}

// stubBackend answers from fields; nil funcs return zero values.
type stubBackend struct {
	recent  func(roomID string, limit int) ([]MessageRow, error)
	author  func(id string) (*Author, error)
	active  func(since time.Time) ([]Author, error)
	lookups int
}

func (b *stubBackend) ListRooms(context.Context) ([]Room, error) { return nil, nil }

func (b *stubBackend) CreateRoom(_ context.Context, r NewRoom) (Room, error) {
	return Room{ID: r.Name, Name: r.Name}, nil
}

func (b *stubBackend) RecentMessages(_ context.Context, roomID string, limit int) ([]MessageRow, error) {
	if b.recent == nil {
		return nil, nil
	}
	return b.recent(roomID, limit)
}

func (b *stubBackend) Author(_ context.Context, id string) (*Author, error) {
	b.lookups++
	if b.author == nil {
		return nil, nil
	}
	return b.author(id)
}

func (b *stubBackend) ActiveAuthors(_ context.Context, since time.Time) ([]Author, error) {
	if b.active == nil {
		return nil, nil
	}
	return b.active(since)
}

func (b *stubBackend) InsertMessage(_ context.Context, m NewMessage) (MessageRow, error) {
	return MessageRow{ID: "sent", RoomID: m.RoomID, AuthorID: m.AuthorID, Content: m.Content}, nil
}

// fakeChannel records what is sent and lets the test push deliveries.
type fakeChannel struct {
	topic Topic

	mu      sync.Mutex
	fn      func(Event)
	onClose func(error)
	sent    []Event
	closed  bool
}

func (c *fakeChannel) Topic() Topic { return c.topic }

func (c *fakeChannel) OnEvent(fn func(Event)) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *fakeChannel) Send(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) push(ev Event) {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (c *fakeChannel) typingSent(t *testing.T) []bool {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []bool
	for _, ev := range c.sent {
		var p TypingPayload
		if err := UnmarshalPayload(ev, &p); err != nil {
			t.Fatalf("bad typing payload: %v", err)
		}
		out = append(out, p.Typing)
	}
	return out
}

func mustEvent(t *testing.T, typ string, payload any) Event {
	t.Helper()
	ev, err := NewEvent(typ, payload)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}
