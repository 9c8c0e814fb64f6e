package roomsync

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category is the kind of stream an EventChannel carries.
type Category string

const (
	CategoryMessages Category = "messages"
	CategoryTyping   Category = "typing"
	CategoryPresence Category = "presence"
)

// Event types carried on channels.
const (
	EventInsert   = "insert"
	EventTyping   = "typing"
	EventPresence = "presence"
	EventTrack    = "track"
)

// Presence event kinds.
const (
	PresenceSync  = "sync"
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// Topic scopes a channel to one room and one category.
type Topic struct {
	Category Category
	Room     string
}

// String renders the topic as "{category}:{room}".
func (t Topic) String() string {
	return string(t.Category) + ":" + t.Room
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(s string) (Topic, error) {
	cat, room, ok := strings.Cut(s, ":")
	if !ok || room == "" {
		return Topic{}, fmt.Errorf("invalid topic %q", s)
	}
	switch Category(cat) {
	case CategoryMessages, CategoryTyping, CategoryPresence:
	default:
		return Topic{}, fmt.Errorf("unknown topic category %q", cat)
	}
	return Topic{Category: Category(cat), Room: room}, nil
}

// RoomTopics returns the three topics bound to a room.
func RoomTopics(room string) [3]Topic {
	return [3]Topic{
		{Category: CategoryMessages, Room: room},
		{Category: CategoryTyping, Room: room},
		{Category: CategoryPresence, Room: room},
	}
}

// Event is one delivery on a channel.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event.
func NewEvent(typ string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, WrapError(ErrorMalformedPayload, "failed to marshal "+typ+" payload", err)
	}
	return Event{Type: typ, Payload: raw}, nil
}

// InsertPayload is a change-stream insert on the message table.
type InsertPayload struct {
	Record MessageRow `json:"record"`
}

// TypingPayload is the broadcast sent by a typing announcer.
type TypingPayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

// PresencePayload is a sync/join/leave event on a presence topic.
type PresencePayload struct {
	Kind    string          `json:"kind"`
	Entries []PresenceEntry `json:"entries"`
}

// UnmarshalPayload decodes an event payload into target.
func UnmarshalPayload(ev Event, v any) error {
	if len(ev.Payload) == 0 {
		return NewError(ErrorMalformedPayload, "empty "+ev.Type+" payload")
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return WrapError(ErrorMalformedPayload, "failed to unmarshal "+ev.Type+" payload", err)
	}
	return nil
}
