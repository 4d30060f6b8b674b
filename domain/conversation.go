package domain

import "time"

type ConversationID uint64

// Conversation is an addressable thread of messages among a fixed
// participant set. A direct conversation has exactly two participants
// and its membership never changes after creation.
type Conversation struct {
	ID        ConversationID
	Name      string
	IsGroup   bool
	CreatedAt time.Time
}

// ConversationSummary is what the conversation list renders: the
// conversation itself, the peer's handle (direct conversations only)
// and the content of the most recent message.
type ConversationSummary struct {
	ID          ConversationID
	Name        string
	IsGroup     bool
	CreatedAt   time.Time
	OtherHandle string
	LastMessage string
}
