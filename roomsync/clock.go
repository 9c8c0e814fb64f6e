package roomsync

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time so timers can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Stopper
}

// Stopper cancels a scheduled firing; Stop reports whether it was pending.
type Stopper interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Stopper {
	return time.AfterFunc(d, fn)
}

// sleep waits for d on clock, returning early with ctx's error.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	wake := make(chan struct{})
	var once sync.Once
	stop := clock.AfterFunc(d, func() { once.Do(func() { close(wake) }) })
	defer stop.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	}
}

// Timer is a single cancellable timer whose callback runs on the loop.
// Arm replaces a pending firing; a firing that was already queued when
// Cancel or Arm ran is dropped by the generation check.
type Timer struct {
	loop    *Loop
	clock   Clock
	gen     uint64
	pending Stopper
}

// NewTimer binds a timer to a loop and clock.
func NewTimer(loop *Loop, clock Clock) *Timer {
	return &Timer{loop: loop, clock: clock}
}

// Arm cancels any pending firing and schedules fn after d. Loop only.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.Cancel()
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() {
		t.loop.Dispatch(func() {
			if t.gen != gen || t.pending == nil {
				return
			}
			t.pending = nil
			fn()
		})
	})
}

// Cancel prevents the pending firing, if any. Loop only.
func (t *Timer) Cancel() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Armed reports whether a firing is pending. Loop only.
func (t *Timer) Armed() bool { return t.pending != nil }
