package memory

import (
	"context"
	"sync"

	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/roomsync"
)

// Transport opens channels on a hub.
type Transport struct {
	hub *hub.Hub

	mu   sync.Mutex
	open map[*channel]struct{}
}

// NewTransport returns a transport over h.
func NewTransport(h *hub.Hub) *Transport {
	return &Transport{hub: h, open: make(map[*channel]struct{})}
}

// Open subscribes to topic. Events that arrive before OnEvent is called
// are kept and replayed in order.
func (t *Transport) Open(ctx context.Context, topic roomsync.Topic) (roomsync.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, roomsync.WrapError(roomsync.ErrorChannelOpen, "open "+topic.String(), err)
	}
	ch := &channel{topic: topic, transport: t}
	ch.sub = t.hub.Subscribe(topic, ch.deliver)
	t.mu.Lock()
	t.open[ch] = struct{}{}
	t.mu.Unlock()
	return ch, nil
}

// Drop ends every channel the transport has open, the way a lost
// connection would: their OnClose callbacks receive err. Later Opens
// work as usual.
func (t *Transport) Drop(err error) {
	t.mu.Lock()
	open := t.open
	t.open = make(map[*channel]struct{})
	t.mu.Unlock()
	for ch := range open {
		ch.end(err)
	}
}

func (t *Transport) forget(ch *channel) {
	t.mu.Lock()
	delete(t.open, ch)
	t.mu.Unlock()
}

type channel struct {
	topic     roomsync.Topic
	sub       *hub.Subscription
	transport *Transport

	mu      sync.Mutex
	fn      func(roomsync.Event)
	onClose func(error)
	backlog []roomsync.Event
	closed  bool
	endErr  error
}

func (c *channel) Topic() roomsync.Topic { return c.topic }

func (c *channel) OnEvent(fn func(roomsync.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
	for _, ev := range c.backlog {
		fn(ev)
	}
	c.backlog = nil
}

func (c *channel) OnClose(fn func(error)) {
	c.mu.Lock()
	ended, err := c.closed && c.endErr != nil, c.endErr
	if !ended {
		c.onClose = fn
	}
	c.mu.Unlock()
	if ended && fn != nil {
		fn(err)
	}
}

func (c *channel) deliver(ev roomsync.Event) {
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

// Send broadcasts ev to the other subscribers. A track event on a presence
// topic records presence instead.
func (c *channel) Send(ctx context.Context, ev roomsync.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return roomsync.ErrClosed
	}
	if ev.Type == roomsync.EventTrack {
		var entry roomsync.PresenceEntry
		if err := roomsync.UnmarshalPayload(ev, &entry); err != nil {
			return err
		}
		c.sub.Track(entry)
		return nil
	}
	c.sub.Publish(ev)
	return nil
}

func (c *channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.fn = nil
	c.onClose = nil
	c.backlog = nil
	c.mu.Unlock()
	c.transport.forget(c)
	c.sub.Close()
	return nil
}

// end terminates the channel without a local Close.
func (c *channel) end(err error) {
	if err == nil {
		err = roomsync.ErrClosed
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.endErr = err
	c.fn = nil
	c.backlog = nil
	onClose := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	c.sub.Close()
	if onClose != nil {
		onClose(err)
	}
}
