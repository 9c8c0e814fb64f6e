package roomsync

import (
	"context"
	"sort"

	"github.com/samber/lo"
)

// presenceTracker reconciles sync snapshots and join/leave diffs into the
// online set of a room. The recently-active fallback only holds until the
// first sync; after that the set comes from presence events alone.
type presenceTracker struct {
	env     *roomEnv
	backend Backend

	state   PresenceState
	entries map[string]PresenceEntry

	onChange func()
}

func newPresenceTracker(env *roomEnv, backend Backend, onChange func()) *presenceTracker {
	return &presenceTracker{
		env:      env,
		backend:  backend,
		entries:  make(map[string]PresenceEntry),
		onChange: onChange,
	}
}

// loadFallback queries the authors seen within window. Its completion is
// scoped to the room and ignored once the tracker is live.
func (p *presenceTracker) loadFallback() {
	since := p.env.clock.Now().Add(-p.env.cfg.PresenceWindow)
	p.env.async(func(ctx context.Context) func() {
		authors, err := p.backend.ActiveAuthors(ctx, since)
		if err != nil {
			p.env.log.Warn("presence fallback query failed", "room", p.env.room, "error", err)
			return nil
		}
		return func() { p.applyFallback(authors) }
	})
}

// applyFallback populates the set from recently active authors. Loop only.
func (p *presenceTracker) applyFallback(authors []Author) {
	if p.state == PresenceLive {
		p.env.log.Debug("late presence fallback ignored", "room", p.env.room)
		return
	}
	p.entries = make(map[string]PresenceEntry, len(authors))
	for _, a := range authors {
		if a.ID == "" {
			continue
		}
		p.entries[a.ID] = presenceFromAuthor(a)
	}
	p.state = PresenceFallback
	p.onChange()
}

// onEvent applies a presence event. Loop only.
func (p *presenceTracker) onEvent(ev PresencePayload) {
	entries := lo.Filter(ev.Entries, func(e PresenceEntry, _ int) bool {
		return e.UserID != ""
	})
	if len(entries) != len(ev.Entries) {
		p.env.log.Debug("presence entries without user id dropped", "room", p.env.room, "count", len(ev.Entries)-len(entries))
	}

	switch ev.Kind {
	case PresenceSync:
		if p.state != PresenceLive {
			p.env.log.Debug("presence is live", "room", p.env.room, "discarded_fallback", len(p.entries))
		}
		p.entries = lo.SliceToMap(entries, func(e PresenceEntry) (string, PresenceEntry) {
			return e.UserID, e
		})
		p.state = PresenceLive
	case PresenceJoin:
		for _, e := range entries {
			p.entries[e.UserID] = e
		}
	case PresenceLeave:
		for _, e := range entries {
			delete(p.entries, e.UserID)
		}
	}
	p.onChange()
}

// online returns the set sorted by display name then user id, so that
// equivalent interleavings of join and leave render the same list.
func (p *presenceTracker) online() []PresenceEntry {
	list := lo.Values(p.entries)
	sort.Slice(list, func(i, j int) bool {
		ni, nj := list[i].DisplayName(), list[j].DisplayName()
		if ni != nj {
			return ni < nj
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}
