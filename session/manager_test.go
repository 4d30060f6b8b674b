package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"chatwire/bus"
	"chatwire/domain"
	"chatwire/domain/event"
	"chatwire/errors"
	"chatwire/presence"
	"chatwire/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	manager  *Manager
	messages repositories.IMessageRepository
	bus      bus.IDeliveryBus
	alice    domain.User
	bob      domain.User
	convID   domain.ConversationID
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	req := require.New(t)
	log := slog.Default()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	users := repositories.NewUserRepository(db)
	alice, err := users.CreateUser("alice", "hash-a")
	req.NoError(err)
	bob, err := users.CreateUser("bob", "hash-b")
	req.NoError(err)

	conversations := repositories.NewConversationRepository(db, log)
	conversation, _, err := conversations.FindOrCreateDirect(alice.ID, bob.ID)
	req.NoError(err)

	messages := repositories.NewMessageRepository(db, log)
	deliveryBus := bus.NewInProcessBus(log, conversations, bus.NewRegistry(), 64, time.Second)
	tracker := presence.NewTracker(deliveryBus, 2*time.Second, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = deliveryBus.Run(ctx) }()

	return &managerFixture{
		manager:  NewManager(log, conversations, messages, deliveryBus, tracker),
		messages: messages,
		bus:      deliveryBus,
		alice:    alice,
		bob:      bob,
		convID:   conversation.ID,
	}
}

// watch registers a forward callback that signals every delivered event.
func watch(session *Session) chan event.DomainEvent {
	delivered := make(chan event.DomainEvent, 64)
	session.OnEvent(func(e event.DomainEvent) { delivered <- e })
	return delivered
}

func awaitEvent(t *testing.T, delivered chan event.DomainEvent) event.DomainEvent {
	t.Helper()
	select {
	case e := <-delivered:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event delivery")
		return nil
	}
}

func Test_Connect_Loads_History_And_Presence(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	_, err := f.messages.Append(f.convID, f.bob.ID, f.bob.Handle, "earlier message", "en")
	req.NoError(err)

	session, err := f.manager.Connect(context.Background(), f.alice.ID, f.alice.Handle, f.convID)
	req.NoError(err)
	defer f.manager.Disconnect(session)

	timeline := session.Timeline().Messages()
	req.Len(timeline, 1)
	req.Equal("earlier message", timeline[0].Content)

	// The sync snapshot taken at attach time already contains the
	// connecting user.
	records := session.Presence()
	req.Len(records, 1)
	req.Equal(f.alice.ID, records[0].UserID)
	req.True(records[0].Online)
}

func Test_Connect_Rejects_Non_Participant(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	_, err := f.manager.Connect(context.Background(), "stranger-id", "stranger", f.convID)
	req.ErrorIs(err, errors.ErrNotParticipant)
}

func Test_Live_Delivery_Reaches_The_Session(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	session, err := f.manager.Connect(context.Background(), f.alice.ID, f.alice.Handle, f.convID)
	req.NoError(err)
	defer f.manager.Disconnect(session)
	delivered := watch(session)

	stored, err := f.messages.Append(f.convID, f.bob.ID, f.bob.Handle, "hi alice", "en")
	req.NoError(err)
	f.bus.PublishMessage(event.MessageInserted{Message: stored})

	for {
		if _, ok := awaitEvent(t, delivered).(event.MessageInserted); ok {
			break
		}
	}

	timeline := session.Timeline().Messages()
	req.Len(timeline, 1)
	req.Equal("hi alice", timeline[0].Content)
}

func Test_Reconnect_Fills_The_Gap_Exactly_Once(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	_, err := f.messages.Append(f.convID, f.bob.ID, f.bob.Handle, "before the drop", "en")
	req.NoError(err)

	session, err := f.manager.Connect(context.Background(), f.alice.ID, f.alice.Handle, f.convID)
	req.NoError(err)
	req.Equal(uint64(1), session.Timeline().LastSeq())

	// Transport drop: fan-out stops, messages keep landing in the store.
	f.manager.Disconnect(session)
	missedOne, err := f.messages.Append(f.convID, f.bob.ID, f.bob.Handle, "missed one", "en")
	req.NoError(err)
	missedTwo, err := f.messages.Append(f.convID, f.bob.ID, f.bob.Handle, "missed two", "en")
	req.NoError(err)

	req.NoError(f.manager.Reconnect(context.Background(), session))
	defer f.manager.Disconnect(session)
	delivered := watch(session)

	timeline := session.Timeline().Messages()
	req.Len(timeline, 3)
	req.Equal(uint64(3), session.Timeline().LastSeq())

	// Redelivery of the reconciled messages is absorbed by the merge.
	f.bus.PublishMessage(event.MessageInserted{Message: missedOne})
	f.bus.PublishMessage(event.MessageInserted{Message: missedTwo})
	seen := 0
	for seen < 2 {
		if _, ok := awaitEvent(t, delivered).(event.MessageInserted); ok {
			seen++
		}
	}
	req.Len(session.Timeline().Messages(), 3)
}

func Test_Connect_Twice_Replaces_The_Previous_Session(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	first, err := f.manager.Connect(context.Background(), f.alice.ID, f.alice.Handle, f.convID)
	req.NoError(err)
	second, err := f.manager.Connect(context.Background(), f.alice.ID, f.alice.Handle, f.convID)
	req.NoError(err)
	defer f.manager.Disconnect(second)

	current, ok := f.manager.Get(f.alice.ID, f.convID)
	req.True(ok)
	req.Same(second, current)
	req.NotSame(first, second)
}

func Test_Disconnect_Publishes_Offline_To_Peers(t *testing.T) {
	req := require.New(t)
	f := newManagerFixture(t)

	aliceSession, err := f.manager.Connect(context.Background(), f.alice.ID, f.alice.Handle, f.convID)
	req.NoError(err)
	defer f.manager.Disconnect(aliceSession)
	delivered := watch(aliceSession)

	bobSession, err := f.manager.Connect(context.Background(), f.bob.ID, f.bob.Handle, f.convID)
	req.NoError(err)

	// Wait until alice sees bob online.
	for {
		if updated, ok := awaitEvent(t, delivered).(event.PresenceUpdated); ok &&
			updated.Record.UserID == f.bob.ID && updated.Record.Online {
			break
		}
	}

	f.manager.Disconnect(bobSession)
	for {
		if updated, ok := awaitEvent(t, delivered).(event.PresenceUpdated); ok &&
			updated.Record.UserID == f.bob.ID && !updated.Record.Online {
			break
		}
	}

	for _, record := range aliceSession.Presence() {
		req.NotEqual(f.bob.ID, record.UserID)
	}
}
