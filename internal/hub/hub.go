// Package hub fans channel events out to the subscribers of a topic and
// keeps the presence state of presence topics.
package hub

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomsync-go/roomsync"
)

// Deliver receives events for one subscription. It is called with the hub
// lock held, so it must not block and must not call back into the hub.
type Deliver func(roomsync.Event)

// Hub manages topic subscriptions and broadcasting.
type Hub struct {
	mu     sync.Mutex
	topics map[roomsync.Topic]*topic
	log    *slog.Logger
}

type topic struct {
	subs     map[string]*Subscription
	presence map[string]roomsync.PresenceEntry // subscription id -> entry
}

// Subscription is one subscriber of one topic.
type Subscription struct {
	ID    string
	Topic roomsync.Topic

	hub     *Hub
	deliver Deliver
	closed  bool
}

// New creates an empty hub.
func New(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		topics: make(map[roomsync.Topic]*topic),
		log:    log,
	}
}

// Subscribe registers deliver on t. A presence subscriber immediately
// receives a sync of the current online set.
func (h *Hub) Subscribe(t roomsync.Topic, deliver Deliver) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	tp, ok := h.topics[t]
	if !ok {
		tp = &topic{
			subs:     make(map[string]*Subscription),
			presence: make(map[string]roomsync.PresenceEntry),
		}
		h.topics[t] = tp
	}
	sub := &Subscription{ID: uuid.NewString(), Topic: t, hub: h, deliver: deliver}
	tp.subs[sub.ID] = sub
	h.log.Debug("subscribed", "topic", t.String(), "subscription", sub.ID, "subscribers", len(tp.subs))

	if t.Category == roomsync.CategoryPresence {
		h.emit(sub, presenceEvent(roomsync.PresenceSync, tp.online()))
	}
	return sub
}

// Publish delivers ev to every subscriber of t.
func (h *Hub) Publish(t roomsync.Topic, ev roomsync.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.broadcast(t, ev, "")
}

// Subscribers returns the number of subscriptions on t.
func (h *Hub) Subscribers(t roomsync.Topic) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tp, ok := h.topics[t]; ok {
		return len(tp.subs)
	}
	return 0
}

// Online returns the presence set of a presence topic.
func (h *Hub) Online(t roomsync.Topic) []roomsync.PresenceEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tp, ok := h.topics[t]; ok {
		return tp.online()
	}
	return nil
}

// Publish delivers ev to every other subscriber of the subscription's topic.
func (s *Subscription) Publish(ev roomsync.Event) int {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return 0
	}
	return h.broadcast(s.Topic, ev, s.ID)
}

// Track records entry as this subscription's presence. Everyone on the
// topic receives a join for it, then a sync of the full set.
func (s *Subscription) Track(entry roomsync.PresenceEntry) {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed || entry.UserID == "" {
		return
	}
	tp := h.topics[s.Topic]
	tp.presence[s.ID] = entry
	h.log.Debug("presence tracked", "topic", s.Topic.String(), "user", entry.UserID)

	h.broadcast(s.Topic, presenceEvent(roomsync.PresenceJoin, []roomsync.PresenceEntry{entry}), "")
	h.broadcast(s.Topic, presenceEvent(roomsync.PresenceSync, tp.online()), "")
}

// Close unsubscribes. When the subscription carried the last presence of
// its user, the remaining subscribers receive a leave and a sync.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	tp, ok := h.topics[s.Topic]
	if !ok {
		return
	}
	delete(tp.subs, s.ID)
	entry, tracked := tp.presence[s.ID]
	delete(tp.presence, s.ID)
	h.log.Debug("unsubscribed", "topic", s.Topic.String(), "subscription", s.ID, "subscribers", len(tp.subs))

	if tracked && !tp.hasUser(entry.UserID) {
		h.broadcast(s.Topic, presenceEvent(roomsync.PresenceLeave, []roomsync.PresenceEntry{entry}), "")
		h.broadcast(s.Topic, presenceEvent(roomsync.PresenceSync, tp.online()), "")
	}
	if len(tp.subs) == 0 {
		delete(h.topics, s.Topic)
	}
}

func (h *Hub) broadcast(t roomsync.Topic, ev roomsync.Event, except string) int {
	tp, ok := h.topics[t]
	if !ok {
		return 0
	}
	n := 0
	for id, sub := range tp.subs {
		if id == except {
			continue
		}
		h.emit(sub, ev)
		n++
	}
	return n
}

func (h *Hub) emit(sub *Subscription, ev roomsync.Event) {
	if sub.deliver != nil {
		sub.deliver(ev)
	}
}

// online returns one entry per user, sorted by user id.
func (tp *topic) online() []roomsync.PresenceEntry {
	entries := lo.UniqBy(lo.Values(tp.presence), func(e roomsync.PresenceEntry) string {
		return e.UserID
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}

func (tp *topic) hasUser(userID string) bool {
	return lo.ContainsBy(lo.Values(tp.presence), func(e roomsync.PresenceEntry) bool {
		return e.UserID == userID
	})
}

func presenceEvent(kind string, entries []roomsync.PresenceEntry) roomsync.Event {
	ev, _ := roomsync.NewEvent(roomsync.EventPresence, roomsync.PresencePayload{Kind: kind, Entries: entries})
	return ev
}
