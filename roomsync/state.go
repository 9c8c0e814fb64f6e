package roomsync

// RoomState is the activation state of the room switcher.
type RoomState int

const (
	// StateIdle means no room has been requested yet.
	StateIdle RoomState = iota

	// StateActivating means teardown is done and the target room is loading
	// its history or opening its channels.
	StateActivating

	// StateActive means all three channels of the room are attached.
	StateActive

	// StateClosed means the client has been closed.
	StateClosed
)

// String returns the string representation of a RoomState.
func (s RoomState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change of the room switcher.
type StateEvent struct {
	Room     string
	OldState RoomState
	NewState RoomState
	Error    error // Optional error that left the room in its state
}

// PresenceState tracks where the online set of a room comes from.
type PresenceState int

const (
	// PresenceUninitialized means nothing is known yet.
	PresenceUninitialized PresenceState = iota

	// PresenceFallback means the set comes from the recently-active query.
	PresenceFallback

	// PresenceLive means the set comes exclusively from presence events.
	PresenceLive
)

// String returns the string representation of a PresenceState.
func (s PresenceState) String() string {
	switch s {
	case PresenceUninitialized:
		return "uninitialized"
	case PresenceFallback:
		return "fallback"
	case PresenceLive:
		return "live"
	default:
		return "unknown"
	}
}
