package roomsync

import (
	"context"
	"fmt"
	"log/slog"
)

// roomEnv is what the per-room components share: the loop they run on,
// the scope that bounds their lifetime and the ambient services.
type roomEnv struct {
	room    string
	cfg     Config
	loop    *Loop
	spawn   Spawner
	clock   Clock
	log     *slog.Logger
	metrics *metrics
	scope   *scope
}

// async runs work off the loop and posts the callback it returns, if any,
// back onto the loop. The callback is dropped when the room is gone.
func (e *roomEnv) async(work func(ctx context.Context) func()) {
	ctx := e.scope.ctx
	e.spawn(func() {
		apply := work(ctx)
		if apply == nil {
			return
		}
		e.loop.Dispatch(e.scope.guard(apply, e.stale))
	})
}

func (e *roomEnv) stale() {
	e.metrics.staleTotal.Inc()
	e.log.Debug("stale completion dropped", "room", e.room)
}

// roomSession is everything bound to one activation: the three engines
// and the RoomSubscriptionSet.
type roomSession struct {
	env      *roomEnv
	room     Room
	messages *messageSync
	typing   *typingCoordinator
	presence *presenceTracker
	channels map[Category]*boundChannel
	err      error
}

// roomSwitcher is the only owner of channels. Switching tears the old room
// down completely before the new room fetches its history, and only then
// are the new channels opened. Loop only.
type roomSwitcher struct {
	c       *Client
	state   RoomState
	session *roomSession
}

func newRoomSwitcher(c *Client) *roomSwitcher {
	return &roomSwitcher{c: c}
}

// switchTo activates room, superseding whatever is active or activating.
func (s *roomSwitcher) switchTo(room Room) {
	if s.state == StateClosed {
		return
	}
	if cur := s.session; cur != nil && cur.room.ID == room.ID && cur.err == nil {
		s.c.log.Debug("room already selected", "room", room.ID, "state", s.state)
		return
	}
	s.teardown()

	sess := s.newSession(room)
	s.session = sess
	s.c.metrics.switchesTotal.Inc()
	s.setState(StateActivating, nil)
	s.c.log.Info("activating room", "room", room.ID, "name", room.Name)
	s.fetchHistory(sess)
}

// retry re-runs the activation of a room whose activation failed.
func (s *roomSwitcher) retry() {
	sess := s.session
	if sess == nil || sess.err == nil {
		return
	}
	s.switchTo(sess.room)
}

// teardown closes every channel and cancels every timer and fetch of the
// current room; late deliveries for it become no-ops.
func (s *roomSwitcher) teardown() {
	sess := s.session
	if sess == nil {
		return
	}
	sess.env.scope.teardown()
	s.session = nil
	s.c.metrics.onlineUsers.Set(0)
	s.c.log.Debug("room torn down", "room", sess.room.ID)
}

// active returns the session once its channels are attached.
func (s *roomSwitcher) active() *roomSession {
	if s.state != StateActive {
		return nil
	}
	return s.session
}

func (s *roomSwitcher) close() {
	s.teardown()
	s.setState(StateClosed, nil)
}

func (s *roomSwitcher) newSession(room Room) *roomSession {
	c := s.c
	env := &roomEnv{
		room:    room.ID,
		cfg:     c.cfg,
		loop:    c.loop,
		spawn:   c.spawn,
		clock:   c.clock,
		log:     c.log.With("room", room.ID),
		metrics: c.metrics,
		scope:   newScope(c.ctx, room.ID),
	}
	sess := &roomSession{
		env:      env,
		room:     room,
		channels: make(map[Category]*boundChannel, 3),
	}
	sess.messages = newMessageSync(env, c.backend, c.cfg.HistoryLimit, c.markDirty)
	sess.typing = newTypingCoordinator(env, c.self, c.cfg.TypingDebounce, c.cfg.TypingExpiry, c.markDirty)
	sess.presence = newPresenceTracker(env, c.backend, func() {
		c.metrics.onlineUsers.Set(float64(len(sess.presence.entries)))
		c.markDirty()
	})
	env.scope.onTeardown(func() {
		for _, ch := range sess.channels {
			ch.close(func(t Topic, err error) {
				env.log.Warn("channel close failed", "topic", t.String(), "error", err)
			})
		}
	})
	return sess
}

func (s *roomSwitcher) fetchHistory(sess *roomSession) {
	env := sess.env
	env.async(func(ctx context.Context) func() {
		var msgs []Message
		err := retry(ctx, env.cfg.Retry(), env.clock, env.log, "history", func(ctx context.Context) error {
			var err error
			msgs, err = sess.messages.loadHistory(ctx)
			return err
		})
		return func() {
			if err != nil {
				s.fail(sess, WrapError(ErrorFetch, "failed to load history of room "+sess.room.ID, err))
				return
			}
			sess.messages.applyHistory(msgs)
			s.openChannels(sess)
		}
	})
}

func (s *roomSwitcher) openChannels(sess *roomSession) {
	env := sess.env
	ctx := env.scope.ctx
	transport := s.c.transport
	env.spawn(func() {
		opened, err := openRoomChannels(ctx, transport, env)
		delivered := env.loop.Dispatch(func() {
			if env.scope.dead {
				closeRaw(opened, env.log)
				env.stale()
				return
			}
			if err != nil {
				closeRaw(opened, env.log)
				s.fail(sess, err)
				return
			}
			s.attach(sess, opened)
		})
		if !delivered {
			closeRaw(opened, env.log)
		}
	})
}

// openRoomChannels opens the three topics in order. On failure the
// channels that did open are returned so the caller can close them.
func openRoomChannels(ctx context.Context, transport Transport, env *roomEnv) ([]Channel, error) {
	topics := RoomTopics(env.room)
	opened := make([]Channel, 0, len(topics))
	for _, topic := range topics {
		var ch Channel
		err := retry(ctx, env.cfg.Retry(), env.clock, env.log, "open "+topic.String(), func(ctx context.Context) error {
			var err error
			ch, err = transport.Open(ctx, topic)
			return err
		})
		if err != nil {
			return opened, WrapError(ErrorChannelOpen, fmt.Sprintf("failed to open %s", topic), err)
		}
		opened = append(opened, ch)
	}
	return opened, nil
}

func closeRaw(chs []Channel, log *slog.Logger) {
	for _, ch := range chs {
		if err := ch.Close(); err != nil {
			log.Warn("channel close failed", "topic", ch.Topic().String(), "error", err)
		}
	}
}

// attach wires the opened channels to the engines and completes the
// activation. Loop only.
func (s *roomSwitcher) attach(sess *roomSession, chs []Channel) {
	env := sess.env
	onStale := func(Topic) { env.stale() }
	onLost := func(t Topic, err error) { s.lose(sess, t, err) }
	for _, raw := range chs {
		ch := bindChannel(env.loop, env.spawn, raw, onStale)
		ch.onLost = onLost
		sess.channels[raw.Topic().Category] = ch
	}

	var d Dispatcher
	d.SetOnInsert(func(p InsertPayload) { sess.messages.onInsert(p.Record) })
	d.SetOnTyping(sess.typing.onRemote)
	d.SetOnPresence(sess.presence.onEvent)
	d.SetOnMalformed(func(c Category, err error) {
		s.c.metrics.malformedTotal.WithLabelValues(string(c)).Inc()
		env.log.Warn("malformed event dropped", "category", string(c), "error", err)
	})

	sess.typing.attach(sess.channels[CategoryTyping])
	for cat, ch := range sess.channels {
		handler := d.Handler(cat)
		ch.attach(func(ev Event) {
			s.c.metrics.eventsTotal.WithLabelValues(string(cat)).Inc()
			handler(ev)
		})
	}

	s.setState(StateActive, nil)
	sess.presence.loadFallback()
	s.track(sess)
	env.log.Info("room active")
}

// track announces the local user on the presence channel.
func (s *roomSwitcher) track(sess *roomSession) {
	ch := sess.channels[CategoryPresence]
	self := s.c.self
	ev, err := NewEvent(EventTrack, PresenceEntry{
		UserID:    self.ID,
		Username:  self.Username,
		AvatarURL: self.AvatarURL,
		Email:     self.Email,
		LastSeen:  sess.env.clock.Now().UTC(),
	})
	if err != nil {
		sess.env.log.Error("presence payload", "error", err)
		return
	}
	ch.send(sess.env.scope.ctx, ev, func(err error) {
		if err != nil {
			sess.env.log.Warn("presence track failed", "error", err)
		}
	})
}

// lose fails an active room whose channel ended underneath it. The other
// channels are closed and remote typing is cleared; Retry rebuilds the
// room from scratch. Loop only.
func (s *roomSwitcher) lose(sess *roomSession, topic Topic, err error) {
	if sess.env.scope.dead || sess.err != nil {
		return
	}
	for _, ch := range sess.channels {
		ch.close(nil)
	}
	sess.typing.cancelAll()
	s.fail(sess, WrapError(ErrorConnection, "lost channel "+topic.String(), err))
}

func (s *roomSwitcher) fail(sess *roomSession, err error) {
	sess.err = err
	s.c.log.Error("room activation failed", "room", sess.room.ID, "error", err)
	s.setState(StateActivating, err)
	s.c.reportError(err)
}

func (s *roomSwitcher) setState(next RoomState, err error) {
	prev := s.state
	s.state = next
	room := ""
	if s.session != nil {
		room = s.session.room.ID
	}
	if prev != next || err != nil {
		s.c.stateChanged(StateEvent{Room: room, OldState: prev, NewState: next, Error: err})
	}
	s.c.markDirty()
}
