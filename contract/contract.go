//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chatwire/domain"
	"chatwire/domain/event"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself.
// Can be silly, focused.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives fanned-out events for one subscriber. Consume must
// honor the context deadline: the bus cancels slow sinks rather than
// stalling the fan-out loop.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry maps live subscriptions to their sinks, keyed by
// (conversation, session). One user may hold several sessions and one
// session may watch several conversations.
type IRegistry interface {
	GetSinksForConversation(id domain.ConversationID) []EventSink
	Subscribe(sessionID string, id domain.ConversationID, sink EventSink)
	Unsubscribe(sessionID string, id domain.ConversationID)
}
