package roomsync

import (
	"context"
	"sort"
	"time"
)

// HeaderGap is the silence after which a message gets its author header
// back even when the author did not change.
const HeaderGap = 5 * time.Minute

// messageSync merges the history page of a room with its live insert
// stream into one deduplicated sequence ordered by creation time, ties
// broken by arrival. Entries are never removed or mutated.
type messageSync struct {
	env     *roomEnv
	backend Backend
	limit   int

	messages []Message
	views    []MessageView
	ids      map[string]struct{}
	authors  map[string]AuthorMeta
	nextSeq  uint64

	onChange func()
}

func newMessageSync(env *roomEnv, backend Backend, limit int, onChange func()) *messageSync {
	return &messageSync{
		env:      env,
		backend:  backend,
		limit:    limit,
		ids:      make(map[string]struct{}),
		authors:  make(map[string]AuthorMeta),
		onChange: onChange,
	}
}

// loadHistory fetches the newest page of the room and returns it in
// ascending creation order. It blocks and must run off the loop.
func (m *messageSync) loadHistory(ctx context.Context) ([]Message, error) {
	rows, err := m.backend.RecentMessages(ctx, m.env.room, m.limit)
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			continue
		}
		meta := AuthorMeta{}
		if row.Author != nil {
			meta = *row.Author
		}
		msgs = append(msgs, messageFromRow(row, meta))
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	if len(msgs) > m.limit {
		msgs = msgs[len(msgs)-m.limit:]
	}
	return msgs, nil
}

// applyHistory merges a loaded page. Loop only.
func (m *messageSync) applyHistory(msgs []Message) {
	for _, msg := range msgs {
		if _, ok := m.authors[msg.AuthorID]; !ok && msg.Author != (AuthorMeta{}) {
			m.authors[msg.AuthorID] = msg.Author
		}
		msg.seq = m.nextSeq
		m.nextSeq++
		m.merge(msg)
	}
	m.changed()
}

// onInsert handles one live insert. The arrival sequence is taken now so
// that a slow author lookup cannot reorder equal timestamps. Loop only.
func (m *messageSync) onInsert(row MessageRow) {
	if _, dup := m.ids[row.ID]; dup {
		m.env.metrics.duplicatesTotal.Inc()
		m.env.log.Debug("duplicate insert discarded", "room", m.env.room, "message", row.ID)
		return
	}
	seq := m.nextSeq
	m.nextSeq++

	if row.Author != nil {
		m.insert(messageFromRow(row, *row.Author), seq)
		return
	}
	if meta, ok := m.authors[row.AuthorID]; ok {
		m.insert(messageFromRow(row, meta), seq)
		return
	}
	m.env.async(func(ctx context.Context) func() {
		meta := m.lookupAuthor(ctx, row.AuthorID)
		return func() {
			m.authors[row.AuthorID] = meta
			m.insert(messageFromRow(row, meta), seq)
		}
	})
}

// onSent merges the row returned by a successful insert; the live echo of
// the same row is discarded later by id. Loop only.
func (m *messageSync) onSent(row MessageRow, self User) {
	if row.Author == nil {
		meta := AuthorMeta{Username: self.Username, AvatarURL: self.AvatarURL, Email: self.Email}
		row.Author = &meta
	}
	m.onInsert(row)
}

// lookupAuthor resolves author metadata. Missing or unreachable profiles
// resolve to empty metadata, which renders as the fallback label.
func (m *messageSync) lookupAuthor(ctx context.Context, id string) AuthorMeta {
	author, err := m.backend.Author(ctx, id)
	switch {
	case err != nil:
		m.env.log.Warn("author lookup failed, using fallback label", "author", id, "error", err)
		return AuthorMeta{}
	case author == nil:
		m.env.log.Debug("author not found, using fallback label", "author", id)
		return AuthorMeta{}
	default:
		return author.Meta()
	}
}

func (m *messageSync) insert(msg Message, seq uint64) {
	msg.seq = seq
	if m.merge(msg) {
		m.changed()
	}
}

// merge inserts msg after every entry ordered before or equal to it and
// reports whether the sequence changed.
func (m *messageSync) merge(msg Message) bool {
	if _, dup := m.ids[msg.ID]; dup {
		m.env.metrics.duplicatesTotal.Inc()
		return false
	}
	i := sort.Search(len(m.messages), func(i int) bool {
		return messageBefore(msg, m.messages[i])
	})
	m.messages = append(m.messages, Message{})
	copy(m.messages[i+1:], m.messages[i:])
	m.messages[i] = msg
	m.ids[msg.ID] = struct{}{}
	return true
}

func (m *messageSync) changed() {
	m.views = RenderHints(m.messages)
	if m.onChange != nil {
		m.onChange()
	}
}

// snapshot returns the engine's own views; callers copy before handing
// them out.
func (m *messageSync) snapshot() []MessageView {
	return m.views
}

func messageBefore(a, b Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func messageFromRow(row MessageRow, meta AuthorMeta) Message {
	return Message{
		ID:        row.ID,
		RoomID:    row.RoomID,
		AuthorID:  row.AuthorID,
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		Author:    meta,
	}
}

// RenderHints flags the messages that open a new author block: the first
// one, an author change, or a gap longer than HeaderGap.
func RenderHints(msgs []Message) []MessageView {
	views := make([]MessageView, len(msgs))
	for i, msg := range msgs {
		show := i == 0
		if i > 0 {
			prev := msgs[i-1]
			show = prev.AuthorID != msg.AuthorID || msg.CreatedAt.Sub(prev.CreatedAt) > HeaderGap
		}
		views[i] = MessageView{Message: msg, ShowHeader: show}
	}
	return views
}
