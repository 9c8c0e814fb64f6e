//go:generate go run go.uber.org/mock/mockgen -source=backend.go -destination=mocks/mock_backend.go -package=mocks
package roomsync

import (
	"context"
	"time"
)

// Backend is the query/insert collaborator.
type Backend interface {
	// ListRooms returns rooms ordered by creation time.
	ListRooms(ctx context.Context) ([]Room, error)
	CreateRoom(ctx context.Context, room NewRoom) (Room, error)
	// RecentMessages returns at most limit of the newest messages of a room,
	// joined with the author directory, in any order.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]MessageRow, error)
	// Author returns nil, nil when no profile exists.
	Author(ctx context.Context, id string) (*Author, error)
	// ActiveAuthors returns the authors last seen at or after since.
	ActiveAuthors(ctx context.Context, since time.Time) ([]Author, error)
	InsertMessage(ctx context.Context, msg NewMessage) (MessageRow, error)
}
