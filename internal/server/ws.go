package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/internal/wsconn"
	"github.com/vovakirdan/roomsync-go/roomsync"
)

const (
	outboundQueue = 256
	writeTimeout  = 10 * time.Second
)

// session is one websocket connection. Subscription ids are chosen by the
// client and scoped to the connection.
type session struct {
	srv    *Server
	conn   *wsconn.Conn
	out    chan roomsync.Outbound
	subs   map[string]*hub.Subscription
	cancel context.CancelFunc
	userID string
	hello  bool
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: s.opts.InsecureSkipVerify})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	s.connections.Inc()
	defer s.connections.Dec()

	sess := &session{
		srv:  s,
		conn: wsconn.New(ws, 0, writeTimeout),
		out:  make(chan roomsync.Outbound, outboundQueue),
		subs: make(map[string]*hub.Subscription),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess.cancel = cancel
	s.track(sess)
	defer s.untrack(sess)

	go sess.writeLoop(ctx, cancel)
	sess.readLoop(ctx)
	sess.closeAll()
	_ = sess.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) track(sess *session) {
	s.sessMu.Lock()
	s.sessions[sess] = struct{}{}
	s.sessMu.Unlock()
}

func (s *Server) untrack(sess *session) {
	s.sessMu.Lock()
	delete(s.sessions, sess)
	s.sessMu.Unlock()
}

// CloseSessions ends every open websocket session. http.Server.Shutdown
// does not wait for hijacked connections, so call it after Shutdown.
func (s *Server) CloseSessions() {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for sess := range s.sessions {
		sess.cancel()
	}
	s.log.Info("websocket sessions closed", "count", len(s.sessions))
}

func (ss *session) readLoop(ctx context.Context) {
	log := ss.srv.log
	for {
		var in roomsync.Inbound
		if err := ss.conn.Read(ctx, &in); err != nil {
			if !wsconn.IsExpectedDisconnect(ctx, err) {
				log.Warn("websocket read failed", "user", ss.userID, "error", err)
			}
			return
		}
		ss.handle(ctx, in)
	}
}

func (ss *session) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	for {
		select {
		case out := <-ss.out:
			if err := ss.conn.Write(ctx, out); err != nil {
				if !wsconn.IsExpectedDisconnect(ctx, err) {
					ss.srv.log.Warn("websocket write failed", "user", ss.userID, "error", err)
				}
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// push never blocks. A client too slow to drain its queue is
// disconnected, so it sees a lost connection rather than missing acks or
// events.
func (ss *session) push(out roomsync.Outbound) {
	select {
	case ss.out <- out:
	default:
		ss.srv.log.Warn("outbound queue full, closing session", "user", ss.userID, "type", out.Type, "sub", out.Sub)
		ss.cancel()
	}
}

func (ss *session) ack(ref uint64) {
	ss.push(roomsync.Outbound{Type: roomsync.OutboundAck, Ref: ref})
}

func (ss *session) fail(ref uint64, code, msg string) {
	ss.push(roomsync.Outbound{Type: roomsync.OutboundError, Ref: ref, Error: &roomsync.WireError{Code: code, Msg: msg}})
}

func (ss *session) handle(ctx context.Context, in roomsync.Inbound) {
	if !ss.hello && in.Type != roomsync.InboundHello {
		ss.fail(in.Ref, "handshake_required", "hello must be sent first")
		return
	}
	switch in.Type {
	case roomsync.InboundHello:
		if in.Hello == nil || in.Hello.Protocol != roomsync.ProtocolVersion {
			ss.fail(in.Ref, "unsupported_protocol", "unsupported protocol version")
			return
		}
		ss.hello = true
		ss.userID = in.Hello.UserID
		ss.srv.log.Info("websocket session started", "user", ss.userID)
		ss.ack(in.Ref)
	case roomsync.InboundSubscribe:
		ss.subscribe(in)
	case roomsync.InboundUnsubscribe:
		if sub, ok := ss.subs[in.Sub]; ok {
			sub.Close()
			delete(ss.subs, in.Sub)
		}
		ss.ack(in.Ref)
	case roomsync.InboundSend:
		ss.send(ctx, in)
	default:
		ss.fail(in.Ref, "unknown_type", "unknown envelope type "+in.Type)
	}
}

func (ss *session) subscribe(in roomsync.Inbound) {
	topic, err := roomsync.ParseTopic(in.Topic)
	if err != nil {
		ss.fail(in.Ref, "invalid_topic", err.Error())
		return
	}
	if in.Sub == "" {
		ss.fail(in.Ref, "invalid_sub", "subscription id is required")
		return
	}
	if _, dup := ss.subs[in.Sub]; dup {
		ss.fail(in.Ref, "duplicate_sub", "subscription id already in use")
		return
	}
	ss.ack(in.Ref)
	subID := in.Sub
	ss.subs[subID] = ss.srv.hub.Subscribe(topic, func(ev roomsync.Event) {
		ss.push(roomsync.Outbound{Type: roomsync.OutboundEvent, Sub: subID, Event: &ev})
	})
}

func (ss *session) send(ctx context.Context, in roomsync.Inbound) {
	sub, ok := ss.subs[in.Sub]
	if !ok {
		ss.fail(in.Ref, "unknown_sub", "not subscribed")
		return
	}
	if in.Event == nil {
		ss.fail(in.Ref, "invalid_event", "event is required")
		return
	}
	switch {
	case sub.Topic.Category == roomsync.CategoryMessages:
		ss.fail(in.Ref, "read_only", "messages are inserted through the API")
	case in.Event.Type == roomsync.EventTrack && sub.Topic.Category == roomsync.CategoryPresence:
		var entry roomsync.PresenceEntry
		if err := roomsync.UnmarshalPayload(*in.Event, &entry); err != nil {
			ss.fail(in.Ref, "invalid_event", err.Error())
			return
		}
		if ss.userID != "" {
			entry.UserID = ss.userID
		}
		sub.Track(entry)
		if err := ss.srv.store.Touch(ctx, entry.UserID, time.Now()); err != nil {
			ss.srv.log.Warn("touch failed", "user", entry.UserID, "error", err)
		}
		ss.ack(in.Ref)
	default:
		sub.Publish(*in.Event)
		ss.ack(in.Ref)
	}
}

func (ss *session) closeAll() {
	for id, sub := range ss.subs {
		sub.Close()
		delete(ss.subs, id)
	}
	ss.srv.log.Info("websocket session ended", "user", ss.userID)
}
