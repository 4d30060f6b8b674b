//go:generate go run go.uber.org/mock/mockgen -source=bus.go -destination=../mocks/mock_bus.go -package=mocks
package bus

import (
	"context"
	"sync"

	"chatwire/contract"
	"chatwire/domain"
	"chatwire/domain/event"
)

// Authorizer decides whether a user may subscribe to a conversation.
// The conversation directory implements it.
type Authorizer interface {
	IsParticipant(userID string, conversationID domain.ConversationID) (bool, error)
}

// IDeliveryBus fans newly committed messages and ephemeral presence
// changes out to every live subscription of a conversation. The bus
// holds no durable state: a restart loses only in-flight fan-out, never
// committed messages, which stay recoverable from the message store.
type IDeliveryBus interface {
	Subscribe(ctx context.Context, sessionID, userID string, conversationID domain.ConversationID, sink contract.EventSink) (*Subscription, error)
	PublishMessage(evt event.MessageInserted)
	PublishPresence(evt event.DomainEvent)
}

// Subscription is the handle returned by Subscribe. Cancel is idempotent
// and immediately stops further fan-out to the subscriber; events already
// handed to the subscriber's transport are not retracted.
type Subscription struct {
	SessionID    string
	Conversation domain.ConversationID

	once     sync.Once
	registry contract.IRegistry
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.registry.Unsubscribe(s.SessionID, s.Conversation)
	})
}
