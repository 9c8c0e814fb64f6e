package roomsync

import (
	"strings"
	"time"
)

// UnknownUser is the label shown when no author metadata could be resolved.
const UnknownUser = "Unknown User"

// Room is a chat room as listed by the room directory.
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// User identifies the local participant.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName returns username, then email, then the fallback label.
func (u User) DisplayName() string {
	return displayName(u.Username, u.Email)
}

// AuthorMeta is the display metadata resolved for a message author.
type AuthorMeta struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Email     string `json:"email,omitempty"`
}

// DisplayName returns username, then email, then the fallback label.
func (m AuthorMeta) DisplayName() string {
	return displayName(m.Username, m.Email)
}

// Author is a row of the author directory.
type Author struct {
	ID        string    `json:"id"`
	Username  string    `json:"username,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// Meta projects the author onto message display metadata.
func (a Author) Meta() AuthorMeta {
	return AuthorMeta{Username: a.Username, AvatarURL: a.AvatarURL, Email: a.Email}
}

// MessageRow is a message as stored by the backend. Author is nil when the
// profile join found nothing.
type MessageRow struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	AuthorID  string      `json:"user_id"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Author    *AuthorMeta `json:"profile,omitempty"`
}

// NewMessage is the insert request for a message.
type NewMessage struct {
	RoomID   string `json:"room_id" validate:"required"`
	AuthorID string `json:"user_id" validate:"required"`
	Content  string `json:"content" validate:"required,max=5000"`
}

// NewRoom is the insert request for a room.
type NewRoom struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

// Message is an entry of a room's ordered message sequence.
type Message struct {
	ID        string
	RoomID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	Author    AuthorMeta

	seq uint64
}

// MessageView is a message with its derived render hints.
type MessageView struct {
	Message
	ShowHeader bool
}

// PresenceEntry is one online user as reported by the presence channel.
type PresenceEntry struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// DisplayName returns username, then email, then the fallback label.
func (p PresenceEntry) DisplayName() string {
	return displayName(p.Username, p.Email)
}

func presenceFromAuthor(a Author) PresenceEntry {
	return PresenceEntry{
		UserID:    a.ID,
		Username:  a.Username,
		AvatarURL: a.AvatarURL,
		Email:     a.Email,
		Role:      a.Role,
		LastSeen:  a.LastSeen,
	}
}

func displayName(username, email string) string {
	if s := strings.TrimSpace(username); s != "" {
		return s
	}
	if s := strings.TrimSpace(email); s != "" {
		return s
	}
	return UnknownUser
}
