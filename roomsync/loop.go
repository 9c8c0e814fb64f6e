package roomsync

import (
	"context"
	"log/slog"
	"sync"
)

// Loop runs callbacks one at a time on a single logical thread. Channel
// deliveries, timer firings and fetch completions are all posted here, so
// engine state needs no locking. The queue is unbounded: a callback is only
// discarded once the loop is closed.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	warnAt int
	warned bool
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// NewLoop creates a loop. size is the backlog above which the loop logs
// that it is falling behind.
func NewLoop(size int, log *slog.Logger) *Loop {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = discardLogger()
	}
	return &Loop{
		queue:  make([]func(), 0, size),
		warnAt: size,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Dispatch queues fn to run on the loop. It is safe to call from any
// goroutine and never blocks; it reports false only when the loop is
// closed.
func (l *Loop) Dispatch(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	backlog := len(l.queue)
	warn := backlog >= l.warnAt && !l.warned
	if warn {
		l.warned = true
	}
	l.mu.Unlock()

	if warn {
		l.log.Warn("event loop falling behind", "backlog", backlog)
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes queued callbacks until ctx is done or Close is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn, ok := l.next()
			if !ok {
				break
			}
			l.execute(fn)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

// Drain runs every callback queued so far, including the ones they queue,
// on the calling goroutine. It must not be used concurrently with Run.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		l.execute(fn)
		n++
	}
}

// Pending returns the number of queued callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops the loop; pending callbacks are discarded.
func (l *Loop) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	if len(l.queue) == 0 {
		l.warned = false
	}
	return fn, true
}

// Done is closed once the loop has been closed.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) execute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loop callback panicked", "panic", r)
		}
	}()
	fn()
}

// Spawner runs blocking work (network calls) off the loop.
type Spawner func(fn func())

// GoSpawner starts every job in its own goroutine.
func GoSpawner(fn func()) { go fn() }

// InlineSpawner runs the job on the caller's goroutine. Together with
// Drain it makes a client fully deterministic.
func InlineSpawner(fn func()) { fn() }
