//go:generate go run go.uber.org/mock/mockgen -source=channel.go -destination=mocks/mock_transport.go -package=mocks
package roomsync

import "context"

// Transport opens EventChannels. Open failures are connectivity errors and
// are not retried by the transport itself.
type Transport interface {
	Open(ctx context.Context, topic Topic) (Channel, error)
}

// Channel is a single subscribable stream for one room and one category.
// Callbacks fire in receipt order; nothing is guaranteed across channels.
// After Close returns the callback is never invoked again.
type Channel interface {
	Topic() Topic
	OnEvent(fn func(Event))
	// OnClose registers fn, called at most once when the channel ends for
	// any reason other than Close, such as a lost connection. A channel
	// that already ended calls fn right away.
	OnClose(fn func(error))
	Send(ctx context.Context, ev Event) error
	Close() error
}

// boundChannel forwards a raw channel onto the loop. Deliveries received
// before a handler is attached are buffered in order; deliveries executed
// after Close are dropped, whatever the raw channel does.
type boundChannel struct {
	raw     Channel
	loop    *Loop
	spawn   Spawner
	closed  bool
	handler func(Event)
	pending []Event
	onStale func(Topic)
	onLost  func(Topic, error)
}

func bindChannel(loop *Loop, spawn Spawner, raw Channel, onStale func(Topic)) *boundChannel {
	c := &boundChannel{raw: raw, loop: loop, spawn: spawn, onStale: onStale}
	raw.OnEvent(func(ev Event) {
		loop.Dispatch(func() { c.deliver(ev) })
	})
	raw.OnClose(func(err error) {
		loop.Dispatch(func() { c.lost(err) })
	})
	return c
}

func (c *boundChannel) Topic() Topic { return c.raw.Topic() }

func (c *boundChannel) deliver(ev Event) {
	if c.closed {
		if c.onStale != nil {
			c.onStale(c.raw.Topic())
		}
		return
	}
	if c.handler == nil {
		c.pending = append(c.pending, ev)
		return
	}
	c.handler(ev)
}

// lost handles the end of the raw channel. Nothing is reported once the
// channel was closed locally. Loop only.
func (c *boundChannel) lost(err error) {
	if c.closed {
		return
	}
	c.close(nil)
	if c.onLost != nil {
		c.onLost(c.raw.Topic(), err)
	}
}

// attach installs the handler and flushes buffered deliveries. Loop only.
func (c *boundChannel) attach(fn func(Event)) {
	c.handler = fn
	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		if c.closed {
			return
		}
		fn(ev)
	}
}

// send publishes off the loop; done, if set, is called back on the loop.
func (c *boundChannel) send(ctx context.Context, ev Event, done func(error)) {
	if c.closed {
		if done != nil {
			done(ErrClosed)
		}
		return
	}
	c.spawn(func() {
		err := c.raw.Send(ctx, ev)
		if err != nil {
			err = WrapError(ErrorPublish, "failed to publish on "+c.raw.Topic().String(), err)
		}
		if done != nil {
			c.loop.Dispatch(func() { done(err) })
		}
	})
}

// close stops deliveries immediately; the raw unsubscribe runs off the loop.
func (c *boundChannel) close(log func(Topic, error)) {
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	c.handler = nil
	c.spawn(func() {
		if err := c.raw.Close(); err != nil && log != nil {
			log(c.raw.Topic(), err)
		}
	})
}
