package session

import (
	"context"
	"sync"

	"chatwire/bus"
	"chatwire/domain"
	"chatwire/domain/event"
)

// Session is one user's live attachment to one conversation. It is the
// bus sink for that subscription: it folds message events into the
// timeline and reduces presence events latest-wins, then forwards the
// event to the transport when one is attached.
type Session struct {
	ID           string
	UserID       string
	Handle       string
	Conversation domain.ConversationID

	timeline *Timeline

	mu           sync.Mutex
	presence     map[string]domain.PresenceRecord
	subscription *bus.Subscription
	forward      func(e event.DomainEvent)
}

// Consume implements contract.EventSink.
func (s *Session) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageInserted:
		s.timeline.Merge(evt.Message)
	case event.PresenceUpdated:
		s.reduce(evt.Record)
	case event.PresenceSynced:
		s.replacePresence(evt.Records)
	}

	s.mu.Lock()
	forward := s.forward
	s.mu.Unlock()
	if forward != nil {
		forward(e)
	}
	return nil
}

// OnEvent attaches the transport callback invoked after local state has
// been updated for every delivered event.
func (s *Session) OnEvent(forward func(e event.DomainEvent)) {
	s.mu.Lock()
	s.forward = forward
	s.mu.Unlock()
}

// Timeline exposes the deduplicated, ordered message view.
func (s *Session) Timeline() *Timeline {
	return s.timeline
}

// Presence returns the reduced presence state of the conversation as
// this session currently sees it.
func (s *Session) Presence() []domain.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]domain.PresenceRecord, 0, len(s.presence))
	for _, record := range s.presence {
		records = append(records, record)
	}
	return records
}

// reduce applies latest-wins per user. Out-of-order presence updates
// carry no ordering guarantee beyond their timestamp.
func (s *Session) reduce(record domain.PresenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.presence[record.UserID]
	if ok && current.UpdatedAt.After(record.UpdatedAt) {
		return
	}
	if !record.Online {
		delete(s.presence, record.UserID)
		return
	}
	s.presence[record.UserID] = record
}

func (s *Session) replacePresence(records []domain.PresenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence = make(map[string]domain.PresenceRecord, len(records))
	for _, record := range records {
		if record.Online {
			s.presence[record.UserID] = record
		}
	}
}
