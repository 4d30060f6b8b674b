// Package domain contains core concepts of the chat system.
// This file defines Message entities and related rules.
// Messages are immutable and validated by the domain.
package domain

import (
	"time"
)

// Message represents an immutable chat entry. Seq is assigned by the
// store and strictly increases within a conversation; it is the primary
// order key, never the client clock.
type Message struct {
	Seq          uint64
	Conversation ConversationID
	SenderID     string
	SenderHandle string
	Content      string
	Type         string
	Lang         string
	CreatedAt    time.Time
}

const MessageTypeText = "text"
