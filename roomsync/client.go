package roomsync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

// Client keeps one room of a chat synchronized: its ordered messages,
// who is typing and who is online. All state changes run on the client's
// loop; observers get immutable View snapshots.
type Client struct {
	cfg       Config
	self      User
	backend   Backend
	transport Transport
	log       *slog.Logger
	clock     Clock
	spawn     Spawner
	reg       prometheus.Registerer
	metrics   *metrics
	validate  *validator.Validate

	loop   *Loop
	ctx    context.Context
	cancel context.CancelFunc
	rooms  *roomSwitcher

	// runMu is held for as long as Run executes loop callbacks.
	runMu    sync.Mutex
	closed   atomic.Bool
	sending  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once

	// loop owned
	roomList []Room
	draft    string
	lastErr  error
	dirty    bool

	mu   sync.RWMutex
	view View

	cbMu     sync.RWMutex
	onChange func(View)
	onError  func(error)
	onState  func(StateEvent)
}

// View is an immutable snapshot of the client state.
type View struct {
	Room       Room
	State      RoomState
	Rooms      []Room
	Messages   []MessageView
	Typing     []string
	TypingText string
	Online     []PresenceEntry
	Presence   PresenceState
	Draft      string
	Sending    bool
	LastError  error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSpawner replaces the goroutine-per-job spawner.
func WithSpawner(s Spawner) Option {
	return func(c *Client) {
		if s != nil {
			c.spawn = s
		}
	}
}

// WithRegisterer registers the client metrics on reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.reg = reg }
}

// NewClient validates cfg and builds a client. Nothing happens until Run
// is called and a room is selected.
func NewClient(cfg Config, self User, backend Backend, transport Transport, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if self.ID == "" {
		return nil, NewError(ErrorInvalidConfig, "local user id is required")
	}
	if backend == nil || transport == nil {
		return nil, NewError(ErrorInvalidConfig, "backend and transport are required")
	}

	c := &Client{
		cfg:       cfg,
		self:      self,
		backend:   backend,
		transport: transport,
		log:       discardLogger(),
		clock:     RealClock(),
		spawn:     GoSpawner,
		validate:  validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = newMetrics(c.reg)
	c.loop = NewLoop(cfg.EventQueueSize, c.log)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.rooms = newRoomSwitcher(c)
	c.stopped = make(chan struct{})
	c.view = View{State: StateIdle}
	return c, nil
}

// OnChange registers the callback receiving every published View.
func (c *Client) OnChange(fn func(View)) {
	c.cbMu.Lock()
	c.onChange = fn
	c.cbMu.Unlock()
}

// OnError registers the callback for surfaced errors.
func (c *Client) OnError(fn func(error)) {
	c.cbMu.Lock()
	c.onError = fn
	c.cbMu.Unlock()
}

// OnStateChange registers the callback for room state transitions.
func (c *Client) OnStateChange(fn func(StateEvent)) {
	c.cbMu.Lock()
	c.onState = fn
	c.cbMu.Unlock()
}

// Run processes events until ctx is done or the client is closed.
func (c *Client) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	defer c.stopOnce.Do(func() { close(c.stopped) })
	if c.closed.Load() {
		return ErrClosed
	}
	return c.loop.Run(ctx)
}

// Close tears the active room down and stops the loop. While Run is
// executing, the teardown is dispatched onto the loop; otherwise it runs
// on the caller's goroutine with Run locked out.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	inline := c.runMu.TryLock()
	if !inline {
		done := make(chan struct{})
		if c.loop.Dispatch(func() { c.rooms.close(); c.publish(); close(done) }) {
			select {
			case <-done:
			case <-c.stopped:
				c.runMu.Lock()
				inline = true
			}
		} else {
			c.runMu.Lock()
			inline = true
		}
	}
	if inline {
		c.loop.Drain()
		c.rooms.close()
		c.publish()
		c.runMu.Unlock()
	}
	c.cancel()
	c.loop.Close()
	c.log.Info("client closed")
	return nil
}

// View returns the latest published snapshot.
func (c *Client) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// LoadRooms fetches the room directory and publishes it. The first room
// is selected when no room has been selected yet.
func (c *Client) LoadRooms(ctx context.Context) ([]Room, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	var rooms []Room
	err := retry(ctx, c.cfg.Retry(), c.clock, c.log, "rooms", func(ctx context.Context) error {
		var err error
		rooms, err = c.backend.ListRooms(ctx)
		return err
	})
	if err != nil {
		werr := WrapError(ErrorFetch, "failed to list rooms", err)
		c.loop.Dispatch(func() { c.reportError(werr) })
		return nil, werr
	}
	sortRooms(rooms)
	list := append([]Room(nil), rooms...)
	c.loop.Dispatch(func() {
		c.roomList = list
		c.markDirty()
		if c.rooms.session == nil && c.rooms.state == StateIdle && len(list) > 0 {
			c.rooms.switchTo(list[0])
		}
	})
	return rooms, nil
}

// CreateRoom validates and inserts a room, adds it to the directory and
// switches to it.
func (c *Client) CreateRoom(ctx context.Context, name, description string) (Room, error) {
	if c.closed.Load() {
		return Room{}, ErrClosed
	}
	req := NewRoom{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if err := c.validate.Struct(req); err != nil {
		return Room{}, WrapError(ErrorInvalidRoom, "invalid room", err)
	}
	room, err := c.backend.CreateRoom(ctx, req)
	if err != nil {
		return Room{}, WrapError(ErrorPublish, "failed to create room", err)
	}
	c.loop.Dispatch(func() {
		if !lo.ContainsBy(c.roomList, func(r Room) bool { return r.ID == room.ID }) {
			c.roomList = append(c.roomList, room)
			sortRooms(c.roomList)
			c.markDirty()
		}
		c.rooms.switchTo(room)
	})
	c.log.Info("room created", "room", room.ID, "name", room.Name)
	return room, nil
}

// SwitchRoom makes room the active room. The previous room is torn down
// before anything of the new one is fetched or subscribed. Selecting the
// active room again is a no-op unless its activation failed.
func (c *Client) SwitchRoom(room Room) error {
	if room.ID == "" {
		return NewError(ErrorInvalidRoom, "room id is required")
	}
	if c.closed.Load() || !c.loop.Dispatch(func() { c.rooms.switchTo(room) }) {
		return ErrClosed
	}
	return nil
}

// Retry re-runs a failed activation of the active room.
func (c *Client) Retry() error {
	if c.closed.Load() || !c.loop.Dispatch(c.rooms.retry) {
		return ErrClosed
	}
	return nil
}

// Compose records a draft edit and drives the typing announcement.
func (c *Client) Compose(text string) {
	c.loop.Dispatch(func() {
		if c.draft == text {
			return
		}
		c.draft = text
		if sess := c.rooms.active(); sess != nil {
			if strings.TrimSpace(text) == "" {
				sess.typing.stop()
			} else {
				sess.typing.edit()
			}
		}
		c.markDirty()
	})
}

// SendMessage submits text to the active room. Empty text and a second
// send while one is in flight fail immediately without any effect. On a
// backend failure the draft is restored and the error is surfaced through
// OnError.
func (c *Client) SendMessage(text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return ErrEmptyMessage
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if v := c.View(); v.State != StateActive {
		return ErrNoActiveRoom
	}
	if !c.sending.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}
	if !c.loop.Dispatch(func() { c.send(text, content) }) {
		c.sending.Store(false)
		return ErrClosed
	}
	return nil
}

// send runs on the loop.
func (c *Client) send(text, content string) {
	sess := c.rooms.active()
	if sess == nil {
		c.sending.Store(false)
		c.reportError(ErrNoActiveRoom)
		return
	}
	req := NewMessage{RoomID: sess.room.ID, AuthorID: c.self.ID, Content: content}
	if err := c.validate.Struct(req); err != nil {
		c.sending.Store(false)
		c.reportError(WrapError(ErrorMessageTooLong, "message rejected", err))
		return
	}
	c.draft = ""
	sess.typing.stop()
	c.markDirty()

	ctx := c.ctx
	c.spawn(func() {
		row, err := c.backend.InsertMessage(ctx, req)
		c.loop.Dispatch(func() {
			c.sending.Store(false)
			if err != nil {
				if c.draft == "" {
					c.draft = text
				}
				c.reportError(WrapError(ErrorPublish, "failed to send message", err))
				return
			}
			if !sess.env.scope.dead {
				sess.messages.onSent(row, c.self)
			}
			c.markDirty()
		})
	})
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	c.lastErr = err
	c.metrics.errorsTotal.WithLabelValues(CodeOf(err).String()).Inc()
	c.cbMu.RLock()
	fn := c.onError
	c.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
	c.markDirty()
}

func (c *Client) stateChanged(ev StateEvent) {
	if ev.NewState == StateActive {
		c.lastErr = nil
	}
	c.log.Debug("room state changed", "room", ev.Room, "from", ev.OldState, "to", ev.NewState)
	c.cbMu.RLock()
	fn := c.onState
	c.cbMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// markDirty schedules one publish for every burst of changes.
func (c *Client) markDirty() {
	if c.dirty {
		return
	}
	c.dirty = true
	if !c.loop.Dispatch(c.publish) {
		c.dirty = false
	}
}

func (c *Client) publish() {
	c.dirty = false
	v := View{
		State:     c.rooms.state,
		Rooms:     append([]Room(nil), c.roomList...),
		Draft:     c.draft,
		Sending:   c.sending.Load(),
		LastError: c.lastErr,
	}
	if sess := c.rooms.session; sess != nil {
		v.Room = sess.room
		v.Messages = append([]MessageView(nil), sess.messages.snapshot()...)
		v.Typing = sess.typing.names()
		v.TypingText = TypingSummary(v.Typing)
		v.Online = sess.presence.online()
		v.Presence = sess.presence.state
	}

	c.mu.Lock()
	c.view = v
	c.mu.Unlock()

	c.cbMu.RLock()
	fn := c.onChange
	c.cbMu.RUnlock()
	if fn != nil {
		fn(v)
	}
}

func sortRooms(rooms []Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
}

// IsExpected reports whether err only signals a normal shutdown.
func IsExpected(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrClosed)
}
