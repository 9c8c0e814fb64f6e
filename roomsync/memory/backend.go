// Package memory provides an in-process Backend and Transport sharing one
// hub, for tests, demos and embedded use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/roomsync"
)

// Backend keeps rooms, messages and authors in memory. Every inserted
// message is published as an insert event on the room's messages topic.
type Backend struct {
	mu       sync.RWMutex
	hub      *hub.Hub
	now      func() time.Time
	validate *validator.Validate

	rooms    []roomsync.Room
	messages map[string][]roomsync.MessageRow
	authors  map[string]roomsync.Author
}

// NewBackend creates an empty backend publishing on h.
func NewBackend(h *hub.Hub) *Backend {
	return &Backend{
		hub:      h,
		now:      time.Now,
		validate: validator.New(),
		messages: make(map[string][]roomsync.MessageRow),
		authors:  make(map[string]roomsync.Author),
	}
}

// SetNow replaces the timestamp source.
func (b *Backend) SetNow(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

// ListRooms returns rooms in creation order.
func (b *Backend) ListRooms(_ context.Context) ([]roomsync.Room, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]roomsync.Room(nil), b.rooms...), nil
}

// CreateRoom validates and stores a room.
func (b *Backend) CreateRoom(_ context.Context, req roomsync.NewRoom) (roomsync.Room, error) {
	if err := b.validate.Struct(req); err != nil {
		return roomsync.Room{}, roomsync.WrapError(roomsync.ErrorInvalidRoom, "invalid room", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	room := roomsync.Room{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CreatedAt:   b.now().UTC(),
	}
	b.rooms = append(b.rooms, room)
	return room, nil
}

// AddRoom stores a room with a caller-chosen id.
func (b *Backend) AddRoom(room roomsync.Room) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = b.now().UTC()
	}
	b.rooms = append(b.rooms, room)
	sort.SliceStable(b.rooms, func(i, j int) bool { return b.rooms[i].CreatedAt.Before(b.rooms[j].CreatedAt) })
}

// UpsertAuthor creates or replaces a profile.
func (b *Backend) UpsertAuthor(a roomsync.Author) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authors[a.ID] = a
}

// RecentMessages returns the newest limit messages of a room, newest first.
func (b *Backend) RecentMessages(_ context.Context, roomID string, limit int) ([]roomsync.MessageRow, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := append([]roomsync.MessageRow(nil), b.messages[roomID]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return lo.Map(rows, func(row roomsync.MessageRow, _ int) roomsync.MessageRow {
		return b.withProfile(row)
	}), nil
}

// Author returns nil, nil for an unknown id.
func (b *Backend) Author(_ context.Context, id string) (*roomsync.Author, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.authors[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// ActiveAuthors returns the authors last seen at or after since.
func (b *Backend) ActiveAuthors(_ context.Context, since time.Time) ([]roomsync.Author, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	active := lo.Filter(lo.Values(b.authors), func(a roomsync.Author, _ int) bool {
		return !a.LastSeen.Before(since)
	})
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}

// InsertMessage stores msg, refreshes the author's last-seen time and
// publishes the insert.
func (b *Backend) InsertMessage(_ context.Context, msg roomsync.NewMessage) (roomsync.MessageRow, error) {
	if err := b.validate.Struct(msg); err != nil {
		return roomsync.MessageRow{}, roomsync.WrapError(roomsync.ErrorMessageTooLong, "invalid message", err)
	}
	b.mu.Lock()
	now := b.now().UTC()
	row := roomsync.MessageRow{
		ID:        uuid.NewString(),
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: now,
	}
	b.messages[msg.RoomID] = append(b.messages[msg.RoomID], row)
	if a, ok := b.authors[msg.AuthorID]; ok {
		a.LastSeen = now
		b.authors[msg.AuthorID] = a
	}
	b.mu.Unlock()

	b.publish(row)
	return row, nil
}

// publish emits the change-stream insert, which carries the bare row.
func (b *Backend) publish(row roomsync.MessageRow) {
	if b.hub == nil {
		return
	}
	ev, err := roomsync.NewEvent(roomsync.EventInsert, roomsync.InsertPayload{Record: row})
	if err != nil {
		return
	}
	b.hub.Publish(roomsync.Topic{Category: roomsync.CategoryMessages, Room: row.RoomID}, ev)
}

func (b *Backend) withProfile(row roomsync.MessageRow) roomsync.MessageRow {
	if a, ok := b.authors[row.AuthorID]; ok {
		meta := a.Meta()
		row.Author = &meta
	}
	return row
}

var _ roomsync.Backend = (*Backend)(nil)
