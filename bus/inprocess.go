package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatwire/contract"
	"chatwire/domain"
	"chatwire/domain/event"
	"chatwire/errors"
)

// Ensure *InProcessBus satisfies both its own contract and the worker
// contract at compile time.
var (
	_ IDeliveryBus    = (*InProcessBus)(nil)
	_ contract.Worker = (*InProcessBus)(nil)
)

// InProcessBus is the in-memory Delivery Bus. Publishing enqueues onto a
// buffered channel and returns immediately, so a slow or disconnected
// subscriber never delays message durability. The fan-out loop delivers
// sequentially per event, which keeps per-subscriber delivery order
// equal to store commit order within a conversation.
//
// Delivery is at-least-once for messages (a drop is healed by history
// reconciliation on reconnect) and best-effort for presence (a drop is
// healed by the next heartbeat or sync).
type InProcessBus struct {
	log         *slog.Logger
	authorizer  Authorizer
	registry    *Registry
	events      chan event.DomainEvent
	sinkTimeout time.Duration
}

func NewInProcessBus(log *slog.Logger, authorizer Authorizer, registry *Registry,
	bufferSize int, sinkTimeout time.Duration) *InProcessBus {
	return &InProcessBus{
		log:         log,
		authorizer:  authorizer,
		registry:    registry,
		events:      make(chan event.DomainEvent, bufferSize),
		sinkTimeout: sinkTimeout,
	}
}

// Subscribe checks authorization against the conversation directory
// before registering the sink. A session of a non-participant gets
// ErrNotParticipant and learns nothing else.
func (b *InProcessBus) Subscribe(ctx context.Context, sessionID, userID string,
	conversationID domain.ConversationID, sink contract.EventSink) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	member, err := b.authorizer.IsParticipant(userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("subscribe authorization: %w", err)
	}
	if !member {
		return nil, errors.ErrNotParticipant
	}

	b.registry.Subscribe(sessionID, conversationID, sink)
	return &Subscription{
		SessionID:    sessionID,
		Conversation: conversationID,
		registry:     b.registry,
	}, nil
}

// PublishMessage enqueues a committed message for fan-out.
// Fire-and-forget: when the buffer is full the event is dropped with a
// warning, and subscribers recover it through ListSince on reconnect.
func (b *InProcessBus) PublishMessage(evt event.MessageInserted) {
	b.publish(evt)
}

// PublishPresence enqueues an ephemeral presence change or snapshot.
// Receivers reduce updates to latest-wins per (conversation, user).
func (b *InProcessBus) PublishPresence(evt event.DomainEvent) {
	b.publish(evt)
}

func (b *InProcessBus) publish(evt event.DomainEvent) {
	select {
	case b.events <- evt:
	default:
		b.log.Warn("Delivery bus buffer full, dropping event",
			"conversation", evt.ConversationID())
	}
}

// Run is the fan-out loop, executed under the supervisor.
func (b *InProcessBus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.log.Debug("Stopping delivery bus")
			return ctx.Err()
		case evt, ok := <-b.events:
			if !ok {
				return nil
			}
			b.Fanout(ctx, evt)
		}
	}
}

// Fanout delivers one event to every current subscriber of its
// conversation. Each sink gets a bounded delivery window; one that
// exceeds it is skipped for this event, not retried.
func (b *InProcessBus) Fanout(ctx context.Context, evt event.DomainEvent) {
	sinks := b.registry.GetSinksForConversation(evt.ConversationID())
	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, b.sinkTimeout)
		if err := sink.Consume(sinkCtx, evt); err != nil {
			b.log.Debug("Sink delivery failed",
				"conversation", evt.ConversationID(), "error", err)
		}
		cancel()
	}
}
