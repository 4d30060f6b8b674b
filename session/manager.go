package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatwire/bus"
	"chatwire/domain"
	"chatwire/domain/event"
	"chatwire/errors"
	"chatwire/presence"
	"chatwire/repositories"

	"github.com/google/uuid"
)

type managerKey struct {
	user         string
	conversation domain.ConversationID
}

// Manager owns the registry of live sessions keyed by (user,
// conversation), with an explicit create/teardown lifecycle. Connecting
// twice for the same pair replaces the previous session.
//
// The (re)connect sequence is fixed: authorize, reconcile history via
// ListSince, open the bus subscription, publish the online snapshot.
// Both the reconciliation fetch and live deliveries may yield the same
// message; the timeline merge deduplicates by sequence.
type Manager struct {
	log       *slog.Logger
	directory repositories.IConversationRepository
	messages  repositories.IMessageRepository
	bus       bus.IDeliveryBus
	tracker   presence.ITracker

	mu       sync.Mutex
	sessions map[managerKey]*Session
}

func NewManager(log *slog.Logger, directory repositories.IConversationRepository,
	messages repositories.IMessageRepository, deliveryBus bus.IDeliveryBus,
	tracker presence.ITracker) *Manager {
	return &Manager{
		log:       log,
		directory: directory,
		messages:  messages,
		bus:       deliveryBus,
		tracker:   tracker,
		sessions:  make(map[managerKey]*Session),
	}
}

// Connect opens a session for one user on one conversation.
func (m *Manager) Connect(ctx context.Context, userID, handle string,
	conversationID domain.ConversationID) (*Session, error) {
	member, err := m.directory.IsParticipant(userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("connect authorization: %w", err)
	}
	if !member {
		return nil, errors.ErrNotParticipant
	}

	session := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Handle:       handle,
		Conversation: conversationID,
		timeline:     NewTimeline(),
		presence:     make(map[string]domain.PresenceRecord),
	}

	// Full history: no local cache exists yet.
	history, err := m.messages.ListSince(conversationID, nil)
	if err != nil {
		return nil, fmt.Errorf("history fetch: %w", err)
	}
	session.timeline.Merge(history...)

	if err = m.attach(ctx, session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	key := managerKey{userID, conversationID}
	if previous, ok := m.sessions[key]; ok {
		previous.subscription.Cancel()
	}
	m.sessions[key] = session
	m.mu.Unlock()

	m.log.Debug("Session connected",
		"session", session.ID, "user", handle, "conversation", conversationID)
	return session, nil
}

// Reconnect reconciles a session after a transport drop: fill the gap
// missed while disconnected, reopen the subscription, republish the
// online snapshot. Messages the bus redelivered before reconciliation
// completed are absorbed by the dedupe merge.
func (m *Manager) Reconnect(ctx context.Context, session *Session) error {
	member, err := m.directory.IsParticipant(session.UserID, session.Conversation)
	if err != nil {
		return fmt.Errorf("reconnect authorization: %w", err)
	}
	if !member {
		return errors.ErrNotParticipant
	}

	cursor := session.timeline.LastSeq()
	var since *uint64
	if cursor > 0 {
		since = &cursor
	}
	missed, err := m.messages.ListSince(session.Conversation, since)
	if err != nil {
		return fmt.Errorf("gap reconciliation: %w", err)
	}
	session.timeline.Merge(missed...)

	if err = m.attach(ctx, session); err != nil {
		return err
	}

	m.mu.Lock()
	key := managerKey{session.UserID, session.Conversation}
	if previous, ok := m.sessions[key]; ok && previous != session {
		previous.subscription.Cancel()
	}
	m.sessions[key] = session
	m.mu.Unlock()
	return nil
}

// Disconnect tears the session down: stop fan-out, drop the presence
// record, forget the session. Safe to call more than once.
func (m *Manager) Disconnect(session *Session) {
	session.mu.Lock()
	subscription := session.subscription
	session.mu.Unlock()
	if subscription != nil {
		subscription.Cancel()
	}

	m.tracker.Disconnect(session.Conversation, session.UserID)

	m.mu.Lock()
	key := managerKey{session.UserID, session.Conversation}
	if current, ok := m.sessions[key]; ok && current == session {
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	m.log.Debug("Session disconnected", "session", session.ID)
}

// Get returns the live session for (user, conversation), if any.
func (m *Manager) Get(userID string, conversationID domain.ConversationID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[managerKey{userID, conversationID}]
	return session, ok
}

// attach opens the bus subscription, announces the user online and hands
// the session its presence sync snapshot.
func (m *Manager) attach(ctx context.Context, session *Session) error {
	subscription, err := m.bus.Subscribe(ctx, session.ID, session.UserID, session.Conversation, session)
	if err != nil {
		return err
	}
	session.mu.Lock()
	session.subscription = subscription
	session.mu.Unlock()

	m.tracker.Track(session.Conversation, session.UserID, session.Handle, false)

	// The sync snapshot goes straight to the new subscriber: ephemeral
	// state cannot be recovered from history, so incremental diffs are
	// not enough after a (re)connect.
	return session.Consume(ctx, event.PresenceSynced{
		Conversation: session.Conversation,
		Records:      m.tracker.Snapshot(session.Conversation),
		At:           time.Now().UTC(),
	})
}
