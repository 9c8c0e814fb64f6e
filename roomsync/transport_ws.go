package roomsync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/vovakirdan/roomsync-go/internal/wsconn"
)

// WSTransport multiplexes channels over one websocket connection. Each
// Open subscribes a topic and waits for the server's ack. When the
// connection drops every open channel ends through its OnClose callback,
// and the next Open dials again.
type WSTransport struct {
	cfg    Config
	userID string
	log    *slog.Logger

	writeCh chan Inbound
	nextRef atomic.Uint64
	dialMu  sync.Mutex

	mu        sync.Mutex
	conn      *wsconn.Conn
	connected bool
	closed    bool
	cancel    context.CancelFunc
	pending   map[uint64]chan Outbound
	channels  map[string]*wsChannel
}

// NewWSTransport creates an unconnected transport for cfg.URL.
func NewWSTransport(cfg Config, userID string, log *slog.Logger) *WSTransport {
	if log == nil {
		log = discardLogger()
	}
	return &WSTransport{
		cfg:      cfg,
		userID:   userID,
		log:      log,
		writeCh:  make(chan Inbound, 64),
		pending:  make(map[uint64]chan Outbound),
		channels: make(map[string]*wsChannel),
	}
}

// Connect dials the server, sends hello, and starts internal loops.
func (t *WSTransport) Connect(ctx context.Context) error {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()

	t.mu.Lock()
	closed, connected := t.closed, t.connected
	t.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case connected:
		return NewError(ErrorConnection, "already connected")
	}
	return t.dial(ctx)
}

// dial connects; dialMu must be held.
func (t *WSTransport) dial(ctx context.Context) error {
	if t.cfg.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return WrapError(ErrorInvalidConfig, "invalid URL", err)
	}

	dialCtx := ctx
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	var opts *websocket.DialOptions
	if t.cfg.Token != "" {
		opts = &websocket.DialOptions{HTTPHeader: http.Header{"Authorization": []string{"Bearer " + t.cfg.Token}}}
	}
	ws, _, err := websocket.Dial(dialCtx, u.String(), opts)
	if err != nil {
		return WrapError(ErrorConnection, "failed to dial "+u.Host, err)
	}
	conn := wsconn.New(ws, t.cfg.ReadTimeout, t.cfg.WriteTimeout)

	// Requests queued for a previous connection are void.
	for len(t.writeCh) > 0 {
		<-t.writeCh
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.connected = true
	t.mu.Unlock()

	go t.readLoop(runCtx, conn)
	go t.writeLoop(runCtx, conn)

	hello := Inbound{
		Type:  InboundHello,
		Hello: &HelloPayload{Protocol: ProtocolVersion, Token: t.cfg.Token, UserID: t.userID},
	}
	if _, err := t.request(dialCtx, hello); err != nil {
		t.disconnect(conn, err)
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return WrapError(ErrorConnection, "handshake failed", err)
	}
	t.log.Info("transport connected", "host", u.Host)
	return nil
}

// ensureConnected dials again after a lost connection.
func (t *WSTransport) ensureConnected(ctx context.Context) error {
	t.dialMu.Lock()
	defer t.dialMu.Unlock()

	t.mu.Lock()
	closed, connected := t.closed, t.connected
	t.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case connected:
		return nil
	}
	t.log.Info("transport reconnecting")
	return t.dial(ctx)
}

// Open subscribes topic on the connection, dialing first when the
// connection was lost.
func (t *WSTransport) Open(ctx context.Context, topic Topic) (Channel, error) {
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}
	ch := &wsChannel{t: t, topic: topic, sub: uuid.NewString()}

	// Registered first so that events following the ack are buffered.
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, NewError(ErrorConnection, "not connected")
	}
	t.channels[ch.sub] = ch
	t.mu.Unlock()

	if _, err := t.request(ctx, Inbound{Type: InboundSubscribe, Sub: ch.sub, Topic: topic.String()}); err != nil {
		t.forget(ch.sub)
		return nil, err
	}
	t.log.Debug("channel opened", "topic", topic.String(), "sub", ch.sub)
	return ch, nil
}

// Close shuts down the connection for good. Open channels end with
// ErrClosed.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	t.disconnect(nil, ErrClosed)
	if conn == nil {
		return nil
	}
	if err := conn.Close(websocket.StatusNormalClosure, "client close"); err != nil && !wsconn.IsExpectedDisconnect(nil, err) {
		return err
	}
	return nil
}

// request sends in and waits for its ack.
func (t *WSTransport) request(ctx context.Context, in Inbound) (Outbound, error) {
	in.Ref = t.nextRef.Add(1)
	wait := make(chan Outbound, 1)

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return Outbound{}, NewError(ErrorConnection, "not connected")
	}
	t.pending[in.Ref] = wait
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, in.Ref)
		t.mu.Unlock()
	}()

	select {
	case t.writeCh <- in:
	case <-ctx.Done():
		return Outbound{}, WrapError(ErrorTimeout, in.Type+" not sent", ctx.Err())
	}

	select {
	case out, ok := <-wait:
		if !ok {
			return Outbound{}, NewError(ErrorClosed, "connection closed before "+in.Type+" ack")
		}
		if out.Error != nil {
			return out, WrapError(ErrorConnection, in.Type+" rejected", out.Error)
		}
		return out, nil
	case <-ctx.Done():
		return Outbound{}, WrapError(ErrorTimeout, in.Type+" not acknowledged", ctx.Err())
	}
}

func (t *WSTransport) forget(sub string) {
	t.mu.Lock()
	delete(t.channels, sub)
	t.mu.Unlock()
}

func (t *WSTransport) readLoop(ctx context.Context, conn *wsconn.Conn) {
	for {
		var out Outbound
		if err := conn.Read(ctx, &out); err != nil {
			if !wsconn.IsExpectedDisconnect(ctx, err) {
				t.log.Warn("read loop exit", "error", err)
			}
			t.disconnect(conn, WrapError(ErrorConnection, "connection lost", err))
			return
		}
		t.route(out)
	}
}

func (t *WSTransport) route(out Outbound) {
	switch out.Type {
	case OutboundAck, OutboundError:
		t.mu.Lock()
		wait, ok := t.pending[out.Ref]
		if ok {
			delete(t.pending, out.Ref)
			wait <- out
		}
		t.mu.Unlock()
		if !ok && out.Error != nil {
			t.log.Warn("server error", "code", out.Error.Code, "msg", out.Error.Msg)
		}
	case OutboundEvent:
		t.mu.Lock()
		ch, ok := t.channels[out.Sub]
		t.mu.Unlock()
		if !ok || out.Event == nil {
			t.log.Debug("event for unknown subscription", "sub", out.Sub)
			return
		}
		ch.deliver(*out.Event)
	default:
		t.log.Debug("unknown envelope", "type", out.Type)
	}
}

func (t *WSTransport) writeLoop(ctx context.Context, conn *wsconn.Conn) {
	for {
		select {
		case in := <-t.writeCh:
			if err := conn.Write(ctx, in); err != nil {
				if !wsconn.IsExpectedDisconnect(ctx, err) {
					t.log.Warn("write loop exit", "error", err)
				}
				t.disconnect(conn, WrapError(ErrorConnection, "connection lost", err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// disconnect fails every pending request and ends every open channel
// with cause. A conn other than the current one is ignored; nil means the
// current one.
func (t *WSTransport) disconnect(conn *wsconn.Conn, cause error) {
	t.mu.Lock()
	if !t.connected || (conn != nil && conn != t.conn) {
		t.mu.Unlock()
		return
	}
	t.connected = false
	if t.cancel != nil {
		t.cancel()
	}
	for ref, wait := range t.pending {
		close(wait)
		delete(t.pending, ref)
	}
	channels := t.channels
	t.channels = make(map[string]*wsChannel)
	t.mu.Unlock()

	for _, ch := range channels {
		ch.end(cause)
	}
}

// wsChannel is one subscription on the connection.
type wsChannel struct {
	t     *WSTransport
	topic Topic
	sub   string

	mu      sync.Mutex
	fn      func(Event)
	onClose func(error)
	backlog []Event
	closed  bool
	endErr  error
}

func (c *wsChannel) Topic() Topic { return c.topic }

func (c *wsChannel) OnEvent(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
	for _, ev := range c.backlog {
		fn(ev)
	}
	c.backlog = nil
}

func (c *wsChannel) OnClose(fn func(error)) {
	c.mu.Lock()
	err := c.endErr
	if err == nil {
		c.onClose = fn
	}
	c.mu.Unlock()
	if err != nil && fn != nil {
		fn(err)
	}
}

// end terminates the channel after its connection went away.
func (c *wsChannel) end(cause error) {
	if cause == nil {
		cause = ErrClosed
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.endErr = cause
	c.fn = nil
	c.backlog = nil
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	if onClose != nil {
		onClose(cause)
	}
}

func (c *wsChannel) deliver(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.fn == nil {
		c.backlog = append(c.backlog, ev)
		return
	}
	c.fn(ev)
}

func (c *wsChannel) Send(ctx context.Context, ev Event) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, err := c.t.request(ctx, Inbound{Type: InboundSend, Sub: c.sub, Event: &ev})
	return err
}

// Close unsubscribes; it waits for the ack at most WriteTimeout.
func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.fn = nil
	c.onClose = nil
	c.backlog = nil
	c.mu.Unlock()
	c.t.forget(c.sub)

	timeout := c.t.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := c.t.request(ctx, Inbound{Type: InboundUnsubscribe, Sub: c.sub})
	if errors.Is(err, ErrClosed) || CodeOf(err) == ErrorConnection {
		// The server drops subscriptions with the connection.
		return nil
	}
	return err
}
