//go:generate go run go.uber.org/mock/mockgen -source=tracker.go -destination=../mocks/mock_presence.go -package=mocks
package presence

import (
	"log/slog"
	"sync"
	"time"

	"chatwire/domain"
	"chatwire/domain/event"
)

// Publisher is the slice of the delivery bus the tracker needs.
type Publisher interface {
	PublishPresence(evt event.DomainEvent)
}

type ITracker interface {
	Track(conversationID domain.ConversationID, userID, handle string, typing bool)
	ForceOnline(conversationID domain.ConversationID, userID string)
	Disconnect(conversationID domain.ConversationID, userID string)
	Snapshot(conversationID domain.ConversationID) []domain.PresenceRecord
}

type key struct {
	conversation domain.ConversationID
	user         string
}

// Tracker owns all ephemeral presence state. Nothing here ever touches
// durable storage: records exist while sessions are connected, and a
// lost update self-heals on the next track call or sync snapshot.
//
// State machine per (conversation, user):
// Offline -> Online (subscribe) -> Typing (keystrokes) -> Online (idle
// timeout or send) -> Offline (unsubscribe).
type Tracker struct {
	mu          sync.Mutex
	records     map[key]domain.PresenceRecord
	publisher   Publisher
	idleTimeout time.Duration
	log         *slog.Logger
}

func NewTracker(publisher Publisher, idleTimeout time.Duration, log *slog.Logger) *Tracker {
	return &Tracker{
		records:     make(map[key]domain.PresenceRecord),
		publisher:   publisher,
		idleTimeout: idleTimeout,
		log:         log,
	}
}

// Track updates the in-memory record and publishes the change.
func (t *Tracker) Track(conversationID domain.ConversationID, userID, handle string, typing bool) {
	record := domain.PresenceRecord{
		Conversation: conversationID,
		UserID:       userID,
		Handle:       handle,
		Online:       true,
		Typing:       typing,
		UpdatedAt:    time.Now().UTC(),
	}

	t.mu.Lock()
	t.records[key{conversationID, userID}] = record
	t.mu.Unlock()

	t.publisher.PublishPresence(event.PresenceUpdated{Record: record})
}

// ForceOnline reverts Typing to Online regardless of timer state. Called
// when the user sends a message.
func (t *Tracker) ForceOnline(conversationID domain.ConversationID, userID string) {
	t.mu.Lock()
	record, ok := t.records[key{conversationID, userID}]
	if !ok || !record.Typing {
		t.mu.Unlock()
		return
	}
	record.Typing = false
	record.UpdatedAt = time.Now().UTC()
	t.records[key{conversationID, userID}] = record
	t.mu.Unlock()

	t.publisher.PublishPresence(event.PresenceUpdated{Record: record})
}

// Disconnect removes the record and publishes a final offline update.
// Idempotent: disconnecting an unknown session is a no-op.
func (t *Tracker) Disconnect(conversationID domain.ConversationID, userID string) {
	t.mu.Lock()
	record, ok := t.records[key{conversationID, userID}]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.records, key{conversationID, userID})
	t.mu.Unlock()

	record.Online = false
	record.Typing = false
	record.UpdatedAt = time.Now().UTC()
	t.publisher.PublishPresence(event.PresenceUpdated{Record: record})
}

// Snapshot returns the full current state of a conversation, used to
// sync a (re)connecting subscriber. Ephemeral state has no history, so
// the snapshot is the only way to rebuild it.
func (t *Tracker) Snapshot(conversationID domain.ConversationID) []domain.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	var records []domain.PresenceRecord
	for k, record := range t.records {
		if k.conversation == conversationID {
			records = append(records, record)
		}
	}
	return records
}

// SweepIdle reverts every Typing record not refreshed within the idle
// timeout back to Online, publishing each change. Returns how many
// records were reverted. Called periodically by the sweeper worker.
func (t *Tracker) SweepIdle(now time.Time) int {
	t.mu.Lock()
	var expired []domain.PresenceRecord
	for k, record := range t.records {
		if record.Typing && now.Sub(record.UpdatedAt) > t.idleTimeout {
			record.Typing = false
			record.UpdatedAt = now
			t.records[k] = record
			expired = append(expired, record)
		}
	}
	t.mu.Unlock()

	for _, record := range expired {
		t.publisher.PublishPresence(event.PresenceUpdated{Record: record})
	}
	if len(expired) > 0 {
		t.log.Debug("Typing state expired", "count", len(expired))
	}
	return len(expired)
}

// IdleTimeout exposes the configured window to the sweeper worker.
func (t *Tracker) IdleTimeout() time.Duration {
	return t.idleTimeout
}
