//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatwire/bus"
	"chatwire/domain"
	"chatwire/domain/event"
	"chatwire/errors"
	"chatwire/moderation"
	"chatwire/presence"
	"chatwire/repositories"
)

type IChatService interface {
	PostMessage(ctx context.Context, conversationID domain.ConversationID, senderID, senderHandle, content string) (domain.Message, error)
	GetMessages(userID string, conversationID domain.ConversationID, sinceSeq *uint64) ([]domain.Message, error)
	OpenDirect(meID, otherUserID string) (domain.Conversation, string, error)
	CreateGroup(meID, name string, memberIDs []string) (domain.Conversation, error)
	ListConversations(userID string) ([]domain.ConversationSummary, error)
	Authorize(userID string, conversationID domain.ConversationID) (bool, error)
}

// ChatService wires the append pipeline: authorize, sanitize, persist,
// then fan out. Publishing never waits on any subscriber, but it happens
// under a per-conversation lock spanning append and enqueue, so events
// reach the bus in store commit order.
type ChatService struct {
	log           *slog.Logger
	conversations repositories.IConversationRepository
	messages      repositories.IMessageRepository
	users         repositories.IUserRepository
	sanitizer     *moderation.Sanitizer
	deliveryBus   bus.IDeliveryBus
	tracker       presence.ITracker

	mu          sync.Mutex
	appendLocks map[domain.ConversationID]*sync.Mutex
}

func NewChatService(log *slog.Logger, conversations repositories.IConversationRepository,
	messages repositories.IMessageRepository, users repositories.IUserRepository,
	sanitizer *moderation.Sanitizer, deliveryBus bus.IDeliveryBus,
	tracker presence.ITracker) *ChatService {
	return &ChatService{
		log:           log,
		conversations: conversations,
		messages:      messages,
		users:         users,
		sanitizer:     sanitizer,
		deliveryBus:   deliveryBus,
		tracker:       tracker,
		appendLocks:   make(map[domain.ConversationID]*sync.Mutex),
	}
}

// PostMessage appends one message to a conversation. The store re-checks
// membership inside its transaction; the early guard here just avoids
// running moderation for callers that would be rejected anyway.
func (s *ChatService) PostMessage(ctx context.Context, conversationID domain.ConversationID,
	senderID, senderHandle, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	member, err := s.conversations.IsParticipant(senderID, conversationID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("post authorization: %w", err)
	}
	if !member {
		return domain.Message{}, errors.ErrNotParticipant
	}

	sanitized, lang := s.sanitizer.Sanitize(content)

	// The lock spans both the append and the enqueue. Releasing it
	// between the two would let a concurrent post commit A before B yet
	// enqueue B before A, and subscribers would see the inversion.
	lock := s.appendLock(conversationID)
	lock.Lock()
	message, err := s.messages.Append(conversationID, senderID, senderHandle, sanitized, lang)
	if err != nil {
		lock.Unlock()
		return domain.Message{}, err
	}
	s.deliveryBus.PublishMessage(event.MessageInserted{Message: message})
	lock.Unlock()

	// Sending ends the sender's typing state immediately.
	s.tracker.ForceOnline(conversationID, senderID)

	return message, nil
}

// GetMessages returns conversation history after the optional cursor,
// guarded so non-participants learn nothing.
func (s *ChatService) GetMessages(userID string, conversationID domain.ConversationID,
	sinceSeq *uint64) ([]domain.Message, error) {
	member, err := s.conversations.IsParticipant(userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("history authorization: %w", err)
	}
	if !member {
		return nil, errors.ErrNotParticipant
	}
	return s.messages.ListSince(conversationID, sinceSeq)
}

// OpenDirect resolves the peer and finds or creates the one-to-one
// conversation. Returns the peer's handle for display.
func (s *ChatService) OpenDirect(meID, otherUserID string) (domain.Conversation, string, error) {
	other, err := s.users.GetUserByID(otherUserID)
	if err != nil {
		return domain.Conversation{}, "", err // ErrUserNotFound for unknown peers
	}

	conversation, created, err := s.conversations.FindOrCreateDirect(meID, otherUserID)
	if err != nil {
		return domain.Conversation{}, "", err
	}
	if created {
		s.log.Info("Conversation opened", "conversation", conversation.ID, "with", other.Handle)
	}
	return conversation, other.Handle, nil
}

// CreateGroup creates a named conversation. The creator is always a
// member; every other member must be an existing user.
func (s *ChatService) CreateGroup(meID, name string, memberIDs []string) (domain.Conversation, error) {
	members := []string{meID}
	for _, id := range memberIDs {
		if id == meID {
			continue
		}
		if _, err := s.users.GetUserByID(id); err != nil {
			return domain.Conversation{}, err
		}
		members = append(members, id)
	}
	return s.conversations.CreateGroup(name, members)
}

func (s *ChatService) ListConversations(userID string) ([]domain.ConversationSummary, error) {
	return s.conversations.ListForUser(userID)
}

func (s *ChatService) Authorize(userID string, conversationID domain.ConversationID) (bool, error) {
	return s.conversations.IsParticipant(userID, conversationID)
}

func (s *ChatService) appendLock(conversationID domain.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.appendLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.appendLocks[conversationID] = lock
	}
	return lock
}
