package roomsync

import "context"

// scope is the lifetime of one room activation. Tearing it down cancels
// in-flight fetches, closes the room's channels, cancels its timers and
// turns every guarded callback into a no-op.
type scope struct {
	room     string
	ctx      context.Context
	cancel   context.CancelFunc
	dead     bool
	cleanups []func()
}

func newScope(parent context.Context, room string) *scope {
	ctx, cancel := context.WithCancel(parent)
	return &scope{room: room, ctx: ctx, cancel: cancel}
}

// guard wraps a loop callback so it only runs while the scope is alive.
// onStale is called instead when the scope has been torn down.
func (s *scope) guard(fn func(), onStale func()) func() {
	return func() {
		if s.dead {
			if onStale != nil {
				onStale()
			}
			return
		}
		fn()
	}
}

// onTeardown registers a cleanup run at teardown, in reverse order.
func (s *scope) onTeardown(fn func()) {
	s.cleanups = append(s.cleanups, fn)
}

// teardown is idempotent. Loop only.
func (s *scope) teardown() {
	if s.dead {
		return
	}
	s.dead = true
	s.cancel()
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}
