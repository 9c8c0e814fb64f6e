package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomsync-go/internal/badgerstore"
	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/roomsync"
	"github.com/vovakirdan/roomsync-go/roomsync/rest"
)

type fixture struct {
	server *Server
	srv    *httptest.Server
	store  *badgerstore.Store
	hub    *hub.Hub
	api    *rest.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	store, err := badgerstore.Open("", log)
	require.NoError(t, err)
	h := hub.New(log)
	s := New(Options{Store: store, Hub: h, Log: log, InsecureSkipVerify: true})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close()
	})
	return &fixture{server: s, srv: srv, store: store, hub: h, api: rest.NewClient(srv.URL + "/api")}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
}

func TestRoomsAPI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	room, err := f.api.CreateRoom(ctx, roomsync.NewRoom{Name: "general"})
	require.NoError(t, err)
	require.NotEmpty(t, room.ID)

	rooms, err := f.api.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	require.Equal(t, "general", rooms[0].Name)

	_, err = f.api.CreateRoom(ctx, roomsync.NewRoom{})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestPostMessagePublishesInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	room, err := f.api.CreateRoom(ctx, roomsync.NewRoom{Name: "general"})
	require.NoError(t, err)

	got := make(chan roomsync.Event, 1)
	sub := f.hub.Subscribe(roomsync.Topic{Category: roomsync.CategoryMessages, Room: room.ID}, func(ev roomsync.Event) {
		got <- ev
	})
	defer sub.Close()

	row, err := f.api.InsertMessage(ctx, roomsync.NewMessage{RoomID: room.ID, AuthorID: "u1", Content: "hello"})
	require.NoError(t, err)

	select {
	case ev := <-got:
		var p roomsync.InsertPayload
		require.NoError(t, roomsync.UnmarshalPayload(ev, &p))
		require.Equal(t, row.ID, p.Record.ID)
	case <-time.After(time.Second):
		t.Fatal("insert was not published")
	}

	rows, err := f.api.RecentMessages(ctx, room.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPostMessageUnknownRoom(t *testing.T) {
	f := newFixture(t)
	body, err := json.Marshal(rest.PostMessageRequest{UserID: "u1", Content: "hi"})
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/api/rooms/nope/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthorsAPI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.api.Author(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, a)

	_, err = f.api.PutAuthor(ctx, roomsync.Author{ID: "u1", Username: "ann"})
	require.NoError(t, err)

	a, err = f.api.Author(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "ann", a.Username)

	active, err := f.api.ActiveAuthors(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type collector struct {
	mu     sync.Mutex
	events []roomsync.Event
}

func (c *collector) add(ev roomsync.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestWebsocketTransport(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := roomsync.DefaultConfig()
	cfg.URL = f.wsURL()
	ann := roomsync.NewWSTransport(cfg, "u1", nil)
	bob := roomsync.NewWSTransport(cfg, "u2", nil)
	require.NoError(t, ann.Connect(ctx))
	require.NoError(t, bob.Connect(ctx))
	defer ann.Close()
	defer bob.Close()

	topic := roomsync.Topic{Category: roomsync.CategoryTyping, Room: "r1"}
	annCh, err := ann.Open(ctx, topic)
	require.NoError(t, err)
	bobCh, err := bob.Open(ctx, topic)
	require.NoError(t, err)

	var annGot, bobGot collector
	annCh.OnEvent(annGot.add)
	bobCh.OnEvent(bobGot.add)

	ev, err := roomsync.NewEvent(roomsync.EventTyping, roomsync.TypingPayload{UserID: "u1", Username: "ann", Typing: true})
	require.NoError(t, err)
	require.NoError(t, annCh.Send(ctx, ev))

	require.Eventually(t, func() bool { return bobGot.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, annGot.len())

	messages := roomsync.Topic{Category: roomsync.CategoryMessages, Room: "r1"}
	msgCh, err := ann.Open(ctx, messages)
	require.NoError(t, err)
	require.Error(t, msgCh.Send(ctx, ev))

	require.NoError(t, bobCh.Close())
	require.NoError(t, annCh.Close())
}

func TestClientsConvergeOverServer(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := f.api.CreateRoom(ctx, roomsync.NewRoom{Name: "general"})
	require.NoError(t, err)
	_, err = f.api.PutAuthor(ctx, roomsync.Author{ID: "u1", Username: "ann"})
	require.NoError(t, err)
	_, err = f.api.PutAuthor(ctx, roomsync.Author{ID: "u2", Username: "bob"})
	require.NoError(t, err)

	start := func(user roomsync.User) *roomsync.Client {
		cfg := roomsync.DefaultConfig()
		cfg.URL = f.wsURL()
		tr := roomsync.NewWSTransport(cfg, user.ID, nil)
		require.NoError(t, tr.Connect(ctx))
		t.Cleanup(func() { _ = tr.Close() })

		c, err := roomsync.NewClient(cfg, user, rest.NewClient(f.srv.URL+"/api"), tr)
		require.NoError(t, err)
		go func() { _ = c.Run(ctx) }()
		t.Cleanup(func() { _ = c.Close() })
		require.NoError(t, c.SwitchRoom(room))
		require.Eventually(t, func() bool { return c.View().State == roomsync.StateActive }, 5*time.Second, 10*time.Millisecond)
		return c
	}
	ann := start(roomsync.User{ID: "u1", Username: "ann"})
	bob := start(roomsync.User{ID: "u2", Username: "bob"})

	require.Eventually(t, func() bool {
		return len(ann.View().Online) == 2 && len(bob.View().Online) == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, ann.SendMessage("hello bob"))
	require.Eventually(t, func() bool {
		msgs := bob.View().Messages
		return len(msgs) == 1 && msgs[0].Content == "hello bob" && msgs[0].Author.Username == "ann"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(ann.View().Messages) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestClientRecoversFromDroppedConnection(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	room, err := f.api.CreateRoom(ctx, roomsync.NewRoom{Name: "general"})
	require.NoError(t, err)

	cfg := roomsync.DefaultConfig()
	cfg.URL = f.wsURL()
	cfg.RetryInitialBackoff = 10 * time.Millisecond
	cfg.RetryMaxBackoff = 50 * time.Millisecond
	tr := roomsync.NewWSTransport(cfg, "u1", nil)
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	c, err := roomsync.NewClient(cfg, roomsync.User{ID: "u1", Username: "ann"}, f.api, tr)
	require.NoError(t, err)
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.SwitchRoom(room))
	require.Eventually(t, func() bool { return c.View().State == roomsync.StateActive }, 5*time.Second, 10*time.Millisecond)

	f.server.CloseSessions()
	require.Eventually(t, func() bool {
		v := c.View()
		return v.State == roomsync.StateActivating && roomsync.CodeOf(v.LastError) == roomsync.ErrorConnection
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Retry())
	require.Eventually(t, func() bool { return c.View().State == roomsync.StateActive }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.View().LastError)

	_, err = f.api.InsertMessage(ctx, roomsync.NewMessage{RoomID: room.ID, AuthorID: "u2", Content: "after reconnect"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := c.View().Messages
		return len(msgs) == 1 && msgs[0].Content == "after reconnect"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSlowClientSessionIsClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ss := &session{
		srv:    &Server{log: slog.New(slog.DiscardHandler)},
		out:    make(chan roomsync.Outbound, 1),
		cancel: cancel,
	}

	ss.ack(1)
	require.NoError(t, ctx.Err())
	ss.ack(2)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.Len(t, ss.out, 1)
}
