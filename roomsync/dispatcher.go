package roomsync

import "strings"

// Dispatcher routes channel events of one room to typed callbacks.
// Malformed payloads never reach the callbacks; they go to onMalformed.
type Dispatcher struct {
	onInsert    func(InsertPayload)
	onTyping    func(TypingPayload)
	onPresence  func(PresencePayload)
	onMalformed func(Category, error)
}

func (d *Dispatcher) SetOnInsert(fn func(InsertPayload))      { d.onInsert = fn }
func (d *Dispatcher) SetOnTyping(fn func(TypingPayload))      { d.onTyping = fn }
func (d *Dispatcher) SetOnPresence(fn func(PresencePayload))  { d.onPresence = fn }
func (d *Dispatcher) SetOnMalformed(fn func(Category, error)) { d.onMalformed = fn }

// Handler returns the channel handler for events of category c.
func (d *Dispatcher) Handler(c Category) func(Event) {
	return func(ev Event) { d.Dispatch(c, ev) }
}

func (d *Dispatcher) Dispatch(c Category, ev Event) {
	switch {
	case c == CategoryMessages && ev.Type == EventInsert:
		if d.onInsert == nil {
			return
		}
		var p InsertPayload
		if err := UnmarshalPayload(ev, &p); err != nil {
			d.fireMalformed(c, err)
			return
		}
		if p.Record.ID == "" || p.Record.AuthorID == "" {
			d.fireMalformed(c, NewError(ErrorMalformedPayload, "insert record without id or author"))
			return
		}
		d.onInsert(p)
	case c == CategoryTyping && ev.Type == EventTyping:
		if d.onTyping == nil {
			return
		}
		var p TypingPayload
		if err := UnmarshalPayload(ev, &p); err != nil {
			d.fireMalformed(c, err)
			return
		}
		if p.UserID == "" || strings.TrimSpace(p.Username) == "" {
			d.fireMalformed(c, NewError(ErrorMalformedPayload, "typing payload without user id or name"))
			return
		}
		d.onTyping(p)
	case c == CategoryPresence && ev.Type == EventPresence:
		if d.onPresence == nil {
			return
		}
		var p PresencePayload
		if err := UnmarshalPayload(ev, &p); err != nil {
			d.fireMalformed(c, err)
			return
		}
		switch p.Kind {
		case PresenceSync, PresenceJoin, PresenceLeave:
		default:
			d.fireMalformed(c, NewError(ErrorMalformedPayload, "unknown presence kind "+p.Kind))
			return
		}
		d.onPresence(p)
	default:
		d.fireMalformed(c, NewError(ErrorMalformedPayload, "unexpected event "+ev.Type+" on "+string(c)))
	}
}

func (d *Dispatcher) fireMalformed(c Category, err error) {
	if d.onMalformed != nil && err != nil {
		d.onMalformed(c, err)
	}
}
