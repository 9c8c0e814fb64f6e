package roomsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTyping(t *testing.T) (*typingCoordinator, *fakeChannel, *roomEnv, *ManualClock, *int) {
	t.Helper()
	env, clock := newTestEnv(t, "r1")
	changes := 0
	tc := newTypingCoordinator(env, User{ID: "me", Username: "Me"}, 2000*time.Millisecond, 6*time.Second, func() { changes++ })
	fake := &fakeChannel{topic: Topic{Category: CategoryTyping, Room: "r1"}}
	tc.attach(bindChannel(env.loop, env.spawn, fake, nil))
	return tc, fake, env, clock, &changes
}

func TestTypingDebounceSendsOneFalse(t *testing.T) {
	tc, fake, env, clock, _ := newTyping(t)

	for i := 0; i < 5; i++ {
		tc.edit()
		env.loop.Drain()
		clock.Advance(400 * time.Millisecond)
		env.loop.Drain()
	}
	// The last edit happened 400ms ago.
	clock.Advance(1599 * time.Millisecond)
	env.loop.Drain()
	require.Equal(t, []bool{true, true, true, true, true}, fake.typingSent(t))

	clock.Advance(time.Millisecond)
	env.loop.Drain()
	require.Equal(t, []bool{true, true, true, true, true, false}, fake.typingSent(t))

	clock.Advance(time.Minute)
	env.loop.Drain()
	require.Len(t, fake.typingSent(t), 6)
}

func TestTypingStopSendsFalseOnce(t *testing.T) {
	tc, fake, env, clock, _ := newTyping(t)

	tc.stop()
	require.Empty(t, fake.typingSent(t), "nothing pending")

	tc.edit()
	tc.stop()
	tc.stop()
	clock.Advance(5 * time.Second)
	env.loop.Drain()
	require.Equal(t, []bool{true, false}, fake.typingSent(t))
}

func TestTypingTeardownSendsNothing(t *testing.T) {
	tc, fake, env, clock, _ := newTyping(t)

	tc.edit()
	env.scope.teardown()
	clock.Advance(5 * time.Second)
	env.loop.Drain()
	require.Equal(t, []bool{true}, fake.typingSent(t))
	require.Zero(t, clock.Pending())
}

func TestTypingIgnoresEditsBeforeAttach(t *testing.T) {
	env, clock := newTestEnv(t, "r1")
	tc := newTypingCoordinator(env, User{ID: "me"}, time.Second, 6*time.Second, func() {})
	tc.edit()
	require.Zero(t, clock.Pending())
}

func TestRemoteTypingAggregation(t *testing.T) {
	tc, _, env, clock, changes := newTyping(t)

	tc.onRemote(TypingPayload{UserID: "me", Username: "Me", Typing: true})
	require.Empty(t, tc.names(), "own broadcasts are ignored")

	tc.onRemote(TypingPayload{UserID: "b", Username: "Bob", Typing: true})
	tc.onRemote(TypingPayload{UserID: "a", Username: "Alice", Typing: true})
	tc.onRemote(TypingPayload{UserID: "b", Username: "Bob", Typing: true})
	require.Equal(t, []string{"Bob", "Alice"}, tc.names())
	require.Equal(t, 2, *changes, "a refresh without a rename is not a change")

	tc.onRemote(TypingPayload{UserID: "b", Typing: false})
	require.Equal(t, []string{"Alice"}, tc.names())
	tc.onRemote(TypingPayload{UserID: "zed", Typing: false})
	require.Equal(t, 3, *changes)

	clock.Advance(5 * time.Second)
	env.loop.Drain()
	tc.onRemote(TypingPayload{UserID: "c", Username: "Cara", Typing: true})
	clock.Advance(time.Second)
	env.loop.Drain()
	require.Equal(t, []string{"Cara"}, tc.names(), "Alice expired")
}

func TestRemoteTypingRefreshExtendsExpiry(t *testing.T) {
	tc, _, env, clock, _ := newTyping(t)

	tc.onRemote(TypingPayload{UserID: "a", Username: "Alice", Typing: true})
	clock.Advance(5 * time.Second)
	env.loop.Drain()
	tc.onRemote(TypingPayload{UserID: "a", Username: "Alice", Typing: true})
	clock.Advance(5 * time.Second)
	env.loop.Drain()
	require.Equal(t, []string{"Alice"}, tc.names())

	clock.Advance(time.Second)
	env.loop.Drain()
	require.Empty(t, tc.names())
}

func TestTypingSummary(t *testing.T) {
	require.Equal(t, "", TypingSummary(nil))
	require.Equal(t, "Alice is typing…", TypingSummary([]string{"Alice"}))
	require.Equal(t, "Alice and Bob are typing…", TypingSummary([]string{"Alice", "Bob"}))
	require.Equal(t, "Alice, Bob, and Cara are typing…", TypingSummary([]string{"Alice", "Bob", "Cara"}))
}
