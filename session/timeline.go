// Package session manages per-user per-conversation subscription
// lifecycles and builds local timelines from observed events.
// It handles ordering, deduplication and reconciliation; it does not
// emit events or talk to transports directly.
package session

import (
	"sort"
	"sync"

	"chatwire/domain"
)

// Timeline is the subscriber-side view of one conversation's messages.
// Bus deliveries and history reconciliation may independently yield the
// same message; Merge deduplicates by sequence number so the result is
// identical regardless of arrival order.
type Timeline struct {
	mu       sync.Mutex
	seen     map[uint64]struct{}
	messages []domain.Message
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[uint64]struct{})}
}

// Merge inserts messages the timeline has not seen yet, keeping the
// ascending sequence order. Returns how many were actually added.
// Idempotent: merging the same message twice changes nothing.
func (t *Timeline) Merge(messages ...domain.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, message := range messages {
		if _, ok := t.seen[message.Seq]; ok {
			continue
		}
		t.seen[message.Seq] = struct{}{}
		t.messages = append(t.messages, message)
		added++
	}
	if added > 0 {
		sort.Slice(t.messages, func(i, j int) bool {
			return t.messages[i].Seq < t.messages[j].Seq
		})
	}
	return added
}

// Messages returns a copy of the ordered timeline.
func (t *Timeline) Messages() []domain.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// LastSeq is the reconciliation cursor: the highest sequence the
// timeline holds, zero when empty.
func (t *Timeline) LastSeq() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.messages) == 0 {
		return 0
	}
	return t.messages[len(t.messages)-1].Seq
}
