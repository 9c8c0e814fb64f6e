package roomsync

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// TypingEntry is a remote author currently typing.
type TypingEntry struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

type typingSlot struct {
	entry TypingEntry
	timer *Timer
}

// typingCoordinator announces the local user's typing with a debounced
// false-event and aggregates the typing broadcasts of everybody else.
type typingCoordinator struct {
	env      *roomEnv
	self     User
	debounce time.Duration
	expiry   time.Duration
	channel  *boundChannel

	announcer *Timer
	remote    map[string]*typingSlot
	order     []string

	onChange func()
}

func newTypingCoordinator(env *roomEnv, self User, debounce, expiry time.Duration, onChange func()) *typingCoordinator {
	t := &typingCoordinator{
		env:       env,
		self:      self,
		debounce:  debounce,
		expiry:    expiry,
		announcer: NewTimer(env.loop, env.clock),
		remote:    make(map[string]*typingSlot),
		onChange:  onChange,
	}
	env.scope.onTeardown(t.cancelAll)
	return t
}

// attach binds the room's typing channel. Loop only.
func (t *typingCoordinator) attach(ch *boundChannel) {
	t.channel = ch
}

// edit is a local content edit: announce typing=true and restart the
// debounce window. Loop only.
func (t *typingCoordinator) edit() {
	if t.channel == nil {
		return
	}
	t.broadcast(true)
	t.announcer.Arm(t.debounce, func() {
		t.broadcast(false)
	})
}

// stop ends a pending announcement right away. Loop only.
func (t *typingCoordinator) stop() {
	if !t.announcer.Armed() {
		return
	}
	t.announcer.Cancel()
	t.broadcast(false)
}

func (t *typingCoordinator) broadcast(typing bool) {
	ev, err := NewEvent(EventTyping, TypingPayload{
		UserID:   t.self.ID,
		Username: t.self.DisplayName(),
		Typing:   typing,
	})
	if err != nil {
		t.env.log.Error("typing payload", "error", err)
		return
	}
	t.channel.send(t.env.scope.ctx, ev, func(err error) {
		if err != nil {
			t.env.log.Warn("typing broadcast failed", "room", t.env.room, "typing", typing, "error", err)
		}
	})
}

// onRemote applies a typing broadcast. Every true-event refreshes the
// entry's own expiry so a sender that vanished mid-typing is dropped
// locally. Loop only.
func (t *typingCoordinator) onRemote(p TypingPayload) {
	if p.UserID == t.self.ID {
		return
	}
	if !p.Typing {
		if t.remove(p.UserID) {
			t.onChange()
		}
		return
	}
	slot, ok := t.remote[p.UserID]
	if !ok {
		slot = &typingSlot{timer: NewTimer(t.env.loop, t.env.clock)}
		t.remote[p.UserID] = slot
		t.order = append(t.order, p.UserID)
	}
	name := strings.TrimSpace(p.Username)
	changed := !ok || slot.entry.Name != name
	slot.entry = TypingEntry{UserID: p.UserID, Name: name, ExpiresAt: t.env.clock.Now().Add(t.expiry)}
	userID := p.UserID
	slot.timer.Arm(t.expiry, func() {
		t.env.log.Debug("typing entry expired", "room", t.env.room, "user", userID)
		if t.remove(userID) {
			t.onChange()
		}
	})
	if changed {
		t.onChange()
	}
}

func (t *typingCoordinator) remove(userID string) bool {
	slot, ok := t.remote[userID]
	if !ok {
		return false
	}
	slot.timer.Cancel()
	delete(t.remote, userID)
	t.order = lo.Without(t.order, userID)
	return true
}

// names returns the typing display names in first-seen order.
func (t *typingCoordinator) names() []string {
	return lo.Map(t.order, func(id string, _ int) string {
		return t.remote[id].entry.Name
	})
}

func (t *typingCoordinator) cancelAll() {
	t.announcer.Cancel()
	for _, slot := range t.remote {
		slot.timer.Cancel()
	}
	t.remote = make(map[string]*typingSlot)
	t.order = nil
}

// TypingSummary renders "A is typing…", "A and B are typing…" or
// "A, B, and C are typing…". It returns "" for no names.
func TypingSummary(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1] + " are typing…"
	}
}
