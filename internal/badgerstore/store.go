// Package badgerstore persists rooms, messages and author profiles in
// BadgerDB for the server.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomsync-go/roomsync"
)

const (
	roomPrefix   = "room:"
	authorPrefix = "author:"
	msgPrefix    = "msg:"
)

// Store implements roomsync.Backend on a badger database.
type Store struct {
	db       *badger.DB
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Open opens the database at path, or an in-memory one when path is empty.
func Open(path string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore.Open: %w", err)
	}
	return New(db, log), nil
}

// New wraps an open database.
func New(db *badger.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, log: log, validate: validator.New(), now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// messageKey is "msg:{room}:{unix_nano padded to 19 digits}:{id}" so that
// a prefix scan returns a room's messages in creation order.
func messageKey(room string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", msgPrefix, room, at.UnixNano(), id))
}

// ListRooms returns rooms ordered by creation time.
func (s *Store) ListRooms(_ context.Context) ([]roomsync.Room, error) {
	var rooms []roomsync.Room
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(roomPrefix), false, 0, func(val []byte) error {
			var r roomsync.Room
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			rooms = append(rooms, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore.ListRooms: %w", err)
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

// Room returns nil, nil for an unknown id.
func (s *Store) Room(_ context.Context, id string) (*roomsync.Room, error) {
	var r roomsync.Room
	found, err := s.get([]byte(roomPrefix+id), &r)
	if err != nil {
		return nil, fmt.Errorf("badgerstore.Room: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}

// CreateRoom validates and stores a new room.
func (s *Store) CreateRoom(_ context.Context, req roomsync.NewRoom) (roomsync.Room, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return roomsync.Room{}, roomsync.WrapError(roomsync.ErrorInvalidRoom, "invalid room", err)
	}
	room := roomsync.Room{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.put([]byte(roomPrefix+room.ID), room); err != nil {
		return roomsync.Room{}, fmt.Errorf("badgerstore.CreateRoom: %w", err)
	}
	s.log.Info("room created", "room", room.ID, "name", room.Name)
	return room, nil
}

// RecentMessages returns the newest limit messages of a room, newest
// first, joined with their author profiles.
func (s *Store) RecentMessages(_ context.Context, roomID string, limit int) ([]roomsync.MessageRow, error) {
	var rows []roomsync.MessageRow
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(msgPrefix + roomID + ":")
		err := scan(txn, prefix, true, limit, func(val []byte) error {
			var row roomsync.MessageRow
			if err := json.Unmarshal(val, &row); err != nil {
				return err
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			return err
		}

		profiles := make(map[string]*roomsync.AuthorMeta)
		for _, id := range lo.Uniq(lo.Map(rows, func(r roomsync.MessageRow, _ int) string { return r.AuthorID })) {
			a, err := getAuthor(txn, id)
			if err != nil {
				return err
			}
			if a != nil {
				profiles[id] = lo.ToPtr(a.Meta())
			}
		}
		for i := range rows {
			rows[i].Author = profiles[rows[i].AuthorID]
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore.RecentMessages: %w", err)
	}
	return rows, nil
}

// Author returns nil, nil when no profile exists.
func (s *Store) Author(_ context.Context, id string) (*roomsync.Author, error) {
	var a *roomsync.Author
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = getAuthor(txn, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore.Author: %w", err)
	}
	return a, nil
}

// ActiveAuthors returns the authors last seen at or after since.
func (s *Store) ActiveAuthors(_ context.Context, since time.Time) ([]roomsync.Author, error) {
	var authors []roomsync.Author
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(authorPrefix), false, 0, func(val []byte) error {
			var a roomsync.Author
			if err := json.Unmarshal(val, &a); err != nil {
				return err
			}
			if !a.LastSeen.Before(since) {
				authors = append(authors, a)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore.ActiveAuthors: %w", err)
	}
	return authors, nil
}

// UpsertAuthor creates or replaces a profile.
func (s *Store) UpsertAuthor(_ context.Context, a roomsync.Author) error {
	if a.ID == "" {
		return roomsync.NewError(roomsync.ErrorInvalidConfig, "author id is required")
	}
	if err := s.put([]byte(authorPrefix+a.ID), a); err != nil {
		return fmt.Errorf("badgerstore.UpsertAuthor: %w", err)
	}
	return nil
}

// Touch moves an existing author's last-seen time forward to at.
func (s *Store) Touch(_ context.Context, authorID string, at time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return touch(txn, authorID, at)
	})
	if err != nil {
		return fmt.Errorf("badgerstore.Touch: %w", err)
	}
	return nil
}

// InsertMessage stores a message and touches its author in one transaction.
func (s *Store) InsertMessage(_ context.Context, msg roomsync.NewMessage) (roomsync.MessageRow, error) {
	if err := s.validate.Struct(msg); err != nil {
		return roomsync.MessageRow{}, roomsync.WrapError(roomsync.ErrorMessageTooLong, "invalid message", err)
	}
	row := roomsync.MessageRow{
		ID:        uuid.NewString(),
		RoomID:    msg.RoomID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(row)
	if err != nil {
		return roomsync.MessageRow{}, fmt.Errorf("badgerstore.InsertMessage: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(row.RoomID, row.CreatedAt, row.ID), data); err != nil {
			return err
		}
		return touch(txn, row.AuthorID, row.CreatedAt)
	})
	if err != nil {
		return roomsync.MessageRow{}, fmt.Errorf("badgerstore.InsertMessage: %w", err)
	}
	return row, nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Store) get(key []byte, v any) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return found, err
}

func getAuthor(txn *badger.Txn, id string) (*roomsync.Author, error) {
	item, err := txn.Get([]byte(authorPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a roomsync.Author
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &a) }); err != nil {
		return nil, err
	}
	return &a, nil
}

func touch(txn *badger.Txn, authorID string, at time.Time) error {
	a, err := getAuthor(txn, authorID)
	if err != nil || a == nil || !at.After(a.LastSeen) {
		return err
	}
	a.LastSeen = at.UTC()
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return txn.Set([]byte(authorPrefix+authorID), data)
}

// scan visits the values under prefix, newest key first when reverse is
// set, stopping after limit values when limit > 0.
func scan(txn *badger.Txn, prefix []byte, reverse bool, limit int, fn func([]byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	seek := prefix
	if reverse {
		// Past every key under prefix.
		seek = append(append([]byte{}, prefix...), 0xFF)
	}
	n := 0
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && n == limit {
			break
		}
		if err := it.Item().Value(fn); err != nil {
			return err
		}
		n++
	}
	return nil
}

var _ roomsync.Backend = (*Store)(nil)
