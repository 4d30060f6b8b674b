package event

import (
	"chatwire/domain"
	"time"
)

// DomainEvent is anything the delivery bus fans out. Events are scoped
// to a single conversation; no ordering guarantee exists across
// conversations.
type DomainEvent interface {
	ConversationID() domain.ConversationID
}

// MessageInserted is published after a message has been durably
// committed to the store. Delivery is at-least-once: a subscriber that
// misses it recovers the message from history on reconnect.
type MessageInserted struct {
	Message domain.Message
}

func (m MessageInserted) ConversationID() domain.ConversationID {
	return m.Message.Conversation
}

// PresenceUpdated carries one ephemeral presence change. Best-effort:
// a dropped update self-heals on the next track call or sync.
type PresenceUpdated struct {
	Record domain.PresenceRecord
}

func (p PresenceUpdated) ConversationID() domain.ConversationID {
	return p.Record.Conversation
}

// PresenceSynced is the full snapshot sent to a subscriber when it
// (re)joins a conversation, since ephemeral state has no history.
type PresenceSynced struct {
	Conversation domain.ConversationID
	Records      []domain.PresenceRecord
	At           time.Time
}

func (p PresenceSynced) ConversationID() domain.ConversationID {
	return p.Conversation
}
