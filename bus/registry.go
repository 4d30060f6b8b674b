package bus

import (
	"sync"

	"chatwire/contract"
	"chatwire/domain"
)

// Registry tracks live subscriptions, keyed by conversation then
// session. A session may watch several conversations and a conversation
// usually has several sessions; teardown of one never affects the other.
type Registry struct {
	mu            sync.RWMutex
	subscriptions map[domain.ConversationID]map[string]contract.EventSink
}

func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[domain.ConversationID]map[string]contract.EventSink),
	}
}

// GetSinksForConversation snapshots the active sinks of a conversation.
// Returns nil when nobody is subscribed.
func (r *Registry) GetSinksForConversation(id domain.ConversationID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks, ok := r.subscriptions[id]
	if !ok {
		return nil
	}
	active := make([]contract.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		active = append(active, sink)
	}
	return active
}

// Subscribe registers a session's sink on a conversation, initializing
// the conversation entry on the fly.
func (r *Registry) Subscribe(sessionID string, id domain.ConversationID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subscriptions[id]; !ok {
		r.subscriptions[id] = make(map[string]contract.EventSink)
	}
	r.subscriptions[id][sessionID] = sink
}

// Unsubscribe removes one session from one conversation. Idempotent:
// removing an absent subscription is a no-op. Empty conversation entries
// are dropped to prevent the map from growing forever.
func (r *Registry) Unsubscribe(sessionID string, id domain.ConversationID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sinks, ok := r.subscriptions[id]
	if !ok {
		return
	}
	delete(sinks, sessionID)
	if len(sinks) == 0 {
		delete(r.subscriptions, id)
	}
}
