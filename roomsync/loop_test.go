package roomsync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoopRunsCallbacksInOrder(t *testing.T) {
	l := NewLoop(16, nil)
	var got []int
	l.Dispatch(func() {
		got = append(got, 1)
		l.Dispatch(func() { got = append(got, 3) })
	})
	l.Dispatch(func() { got = append(got, 2) })

	require.Equal(t, 3, l.Drain())
	require.Equal(t, []int{1, 2, 3}, got)
}

func TestLoopRecoversPanics(t *testing.T) {
	l := NewLoop(4, nil)
	ran := false
	l.Dispatch(func() { panic("boom") })
	l.Dispatch(func() { ran = true })
	l.Drain()
	require.True(t, ran)
}

func TestLoopKeepsBacklogBeyondSize(t *testing.T) {
	l := NewLoop(2, nil)
	got := 0
	for i := 0; i < 100; i++ {
		require.True(t, l.Dispatch(func() { got++ }))
	}
	require.Equal(t, 100, l.Pending())
	require.Equal(t, 100, l.Drain())
	require.Equal(t, 100, got)
	require.Zero(t, l.Pending())
}

func TestLoopRunKeepsEveryCallback(t *testing.T) {
	l := NewLoop(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	const producers, each = 8, 500
	seen := make([][]int, producers)
	var rejected atomic.Int32
	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				if !l.Dispatch(func() { seen[p] = append(seen[p], i) }) {
					rejected.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	done := make(chan struct{})
	require.True(t, l.Dispatch(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not catch up")
	}

	require.Zero(t, rejected.Load())
	for p := range producers {
		require.Len(t, seen[p], each)
		for i, v := range seen[p] {
			require.Equal(t, i, v, "producer %d out of order", p)
		}
	}
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestLoopClosedDiscards(t *testing.T) {
	l := NewLoop(4, nil)
	l.Close()
	l.Close()
	require.False(t, l.Dispatch(func() {}))
	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestLoopRunStopsOnContext(t *testing.T) {
	l := NewLoop(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan struct{})
	l.Dispatch(func() { close(ran) })

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	<-ran
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestTimerFiresOnLoop(t *testing.T) {
	l := NewLoop(16, nil)
	clock := NewManualClock(epoch)
	timer := NewTimer(l, clock)

	fired := 0
	timer.Arm(time.Second, func() { fired++ })
	require.True(t, timer.Armed())

	clock.Advance(999 * time.Millisecond)
	l.Drain()
	require.Zero(t, fired)

	clock.Advance(time.Millisecond)
	require.Zero(t, fired, "callbacks only run on the loop")
	l.Drain()
	require.Equal(t, 1, fired)
	require.False(t, timer.Armed())
}

func TestTimerFiresBehindBacklog(t *testing.T) {
	l := NewLoop(1, nil)
	clock := NewManualClock(epoch)
	timer := NewTimer(l, clock)

	for i := 0; i < 10; i++ {
		l.Dispatch(func() {})
	}
	fired := false
	timer.Arm(time.Second, func() { fired = true })
	clock.Advance(time.Second)
	l.Drain()
	require.True(t, fired)
	require.False(t, timer.Armed())
}

func TestTimerRearmReplaces(t *testing.T) {
	l := NewLoop(16, nil)
	clock := NewManualClock(epoch)
	timer := NewTimer(l, clock)

	var got []string
	timer.Arm(time.Second, func() { got = append(got, "first") })
	clock.Advance(500 * time.Millisecond)
	timer.Arm(time.Second, func() { got = append(got, "second") })

	clock.Advance(600 * time.Millisecond)
	l.Drain()
	require.Empty(t, got)

	clock.Advance(400 * time.Millisecond)
	l.Drain()
	require.Equal(t, []string{"second"}, got)
	require.Zero(t, clock.Pending())
}

func TestTimerCancelDropsQueuedFiring(t *testing.T) {
	l := NewLoop(16, nil)
	clock := NewManualClock(epoch)
	timer := NewTimer(l, clock)

	fired := false
	timer.Arm(time.Second, func() { fired = true })
	clock.Advance(time.Second) // firing is now queued on the loop
	timer.Cancel()
	l.Drain()
	require.False(t, fired)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Attempts: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	require.Equal(t, 100*time.Millisecond, p.backoff(1))
	require.Equal(t, 200*time.Millisecond, p.backoff(2))
	require.Equal(t, 300*time.Millisecond, p.backoff(3))
	require.Equal(t, 300*time.Millisecond, p.backoff(4))

	env, _ := newTestEnv(t, "r")
	calls := 0
	err := retry(context.Background(), RetryPolicy{Attempts: 3}, env.clock, env.log, "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return NewError(ErrorFetch, "not yet")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = retry(context.Background(), RetryPolicy{Attempts: 2}, env.clock, env.log, "op", func(context.Context) error {
		calls++
		return NewError(ErrorFetch, "down")
	})
	require.Equal(t, ErrorFetch, CodeOf(err))
	require.Equal(t, 2, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	env, _ := newTestEnv(t, "r")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retry(ctx, RetryPolicy{Attempts: 3, InitialBackoff: time.Hour}, env.clock, env.log, "op", func(context.Context) error {
		calls++
		return NewError(ErrorFetch, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestScopeTeardown(t *testing.T) {
	s := newScope(context.Background(), "r")
	var order []int
	s.onTeardown(func() { order = append(order, 1) })
	s.onTeardown(func() { order = append(order, 2) })

	ran, stale := false, false
	guarded := s.guard(func() { ran = true }, func() { stale = true })

	s.teardown()
	s.teardown()
	guarded()

	require.Equal(t, []int{2, 1}, order)
	require.False(t, ran)
	require.True(t, stale)
	require.Error(t, s.ctx.Err())
}
