package roomsync

const (
	ProtocolVersion = 1

	InboundHello       = "hello"
	InboundSubscribe   = "subscribe"
	InboundUnsubscribe = "unsubscribe"
	InboundSend        = "send"

	OutboundAck   = "ack"
	OutboundEvent = "event"
	OutboundError = "error"
)

// Inbound represents the envelope from client to server. Ref correlates
// the request with its ack; Sub names a subscription chosen by the client
// and unique per connection.
type Inbound struct {
	Type  string `json:"type"`
	Ref   uint64 `json:"ref,omitempty"`
	Sub   string `json:"sub,omitempty"`
	Topic string `json:"topic,omitempty"`
	Event *Event `json:"event,omitempty"`

	Hello *HelloPayload `json:"hello,omitempty"`
}

// Outbound is the envelope server -> client.
type Outbound struct {
	Type  string     `json:"type"`
	Ref   uint64     `json:"ref,omitempty"`
	Sub   string     `json:"sub,omitempty"`
	Event *Event     `json:"event,omitempty"`
	Error *WireError `json:"error,omitempty"`
}

// HelloPayload initiates the session.
type HelloPayload struct {
	Protocol int    `json:"protocol,omitempty"`
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// WireError describes a protocol error.
type WireError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (e *WireError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Msg
}
