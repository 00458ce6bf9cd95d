package bus

import "time"

// Event kinds published on the bus, grouped by namespace. Subscribers
// filter by prefix, e.g. "channel." receives every push-channel event.
const (
	// Push channel (server -> client).
	KindPresenceSnapshot = "channel.presence"
	KindMessageArrived   = "channel.message"
	KindChannelError     = "channel.error"

	// Derived-state changes (consumed by whatever renders the views).
	KindConversationUpdated = "conversation.updated"
	KindUnseenChanged       = "unseen.changed"

	// Session lifecycle.
	KindStatusChanged = "session.status_changed"
	KindAuthExpired   = "session.auth_expired"
	KindLoggedOut     = "session.logged_out"

	// Transient user-facing notices (toast equivalent).
	KindNotice = "ui.notice"
)

// Event is a domain event published on the bus.
type Event struct {
	ID      string
	Kind    string
	At      time.Time
	Payload any
}

// Notice is the payload for ui.notice events.
type Notice struct {
	Level string // "warn" or "error"
	Text  string
}
