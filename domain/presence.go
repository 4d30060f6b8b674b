package domain

import "time"

// PresenceRecord is ephemeral per-conversation per-user state. It is
// never persisted: it exists only while a session is connected and is
// reconstructed from live sessions on every sync.
type PresenceRecord struct {
	Conversation ConversationID
	UserID       string
	Handle       string
	Online       bool
	Typing       bool
	UpdatedAt    time.Time
}
