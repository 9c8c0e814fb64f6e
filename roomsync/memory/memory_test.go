package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/roomsync"
)

func TestBackendRecentMessagesNewestPage(t *testing.T) {
	b := NewBackend(nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	b.SetNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	b.UpsertAuthor(roomsync.Author{ID: "u1", Username: "ann"})

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		_, err := b.InsertMessage(ctx, roomsync.NewMessage{RoomID: "r1", AuthorID: "u1", Content: text})
		require.NoError(t, err)
	}

	rows, err := b.RecentMessages(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "three", rows[0].Content)
	require.Equal(t, "two", rows[1].Content)
	require.NotNil(t, rows[0].Author)
	require.Equal(t, "ann", rows[0].Author.Username)
}

func TestBackendAuthorNotFound(t *testing.T) {
	b := NewBackend(nil)
	a, err := b.Author(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestBackendActiveAuthors(t *testing.T) {
	b := NewBackend(nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.UpsertAuthor(roomsync.Author{ID: "old", LastSeen: now.Add(-time.Hour)})
	b.UpsertAuthor(roomsync.Author{ID: "new", LastSeen: now.Add(-time.Minute)})

	active, err := b.ActiveAuthors(context.Background(), now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "new", active[0].ID)
}

func TestBackendRejectsInvalidInput(t *testing.T) {
	b := NewBackend(nil)
	ctx := context.Background()

	_, err := b.CreateRoom(ctx, roomsync.NewRoom{})
	require.Equal(t, roomsync.ErrorInvalidRoom, roomsync.CodeOf(err))

	_, err = b.InsertMessage(ctx, roomsync.NewMessage{RoomID: "r1", AuthorID: "u1", Content: strings.Repeat("x", 5001)})
	require.True(t, roomsync.IsValidationError(err))
}

func TestInsertIsPublished(t *testing.T) {
	h := hub.New(nil)
	b := NewBackend(h)
	tr := NewTransport(h)
	ctx := context.Background()

	ch, err := tr.Open(ctx, roomsync.Topic{Category: roomsync.CategoryMessages, Room: "r1"})
	require.NoError(t, err)
	defer ch.Close()

	row, err := b.InsertMessage(ctx, roomsync.NewMessage{RoomID: "r1", AuthorID: "u1", Content: "hi"})
	require.NoError(t, err)

	var got []roomsync.Event
	ch.OnEvent(func(ev roomsync.Event) { got = append(got, ev) })
	require.Len(t, got, 1)

	var p roomsync.InsertPayload
	require.NoError(t, roomsync.UnmarshalPayload(got[0], &p))
	require.Equal(t, row.ID, p.Record.ID)
	require.Nil(t, p.Record.Author)
}

func TestChannelTrackAndClose(t *testing.T) {
	h := hub.New(nil)
	tr := NewTransport(h)
	ctx := context.Background()
	topic := roomsync.Topic{Category: roomsync.CategoryPresence, Room: "r1"}

	ch, err := tr.Open(ctx, topic)
	require.NoError(t, err)

	ev, err := roomsync.NewEvent(roomsync.EventTrack, roomsync.PresenceEntry{UserID: "u1", Username: "ann"})
	require.NoError(t, err)
	require.NoError(t, ch.Send(ctx, ev))
	require.Len(t, h.Online(topic), 1)

	var kinds []string
	ch.OnEvent(func(ev roomsync.Event) {
		var p roomsync.PresencePayload
		require.NoError(t, roomsync.UnmarshalPayload(ev, &p))
		kinds = append(kinds, p.Kind)
	})
	require.Equal(t, []string{roomsync.PresenceSync, roomsync.PresenceJoin, roomsync.PresenceSync}, kinds)

	require.NoError(t, ch.Close())
	require.Empty(t, h.Online(topic))
	require.ErrorIs(t, ch.Send(ctx, ev), roomsync.ErrClosed)
}

func TestDropEndsOpenChannels(t *testing.T) {
	h := hub.New(nil)
	tr := NewTransport(h)
	ctx := context.Background()
	topic := roomsync.Topic{Category: roomsync.CategoryTyping, Room: "r1"}

	dropped, err := tr.Open(ctx, topic)
	require.NoError(t, err)
	closed, err := tr.Open(ctx, topic)
	require.NoError(t, err)

	var got []error
	dropped.OnClose(func(err error) { got = append(got, err) })
	closed.OnClose(func(err error) { got = append(got, err) })
	require.NoError(t, closed.Close())

	cause := errors.New("network down")
	tr.Drop(cause)
	require.Equal(t, []error{cause}, got, "a closed channel reports nothing")
	require.Zero(t, h.Subscribers(topic))

	late := 0
	dropped.OnClose(func(error) { late++ })
	require.Equal(t, 1, late)

	again, err := tr.Open(ctx, topic)
	require.NoError(t, err)
	defer again.Close()
	require.Equal(t, 1, h.Subscribers(topic))
}
