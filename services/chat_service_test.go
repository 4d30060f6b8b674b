package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chatwire/bus"
	"chatwire/domain"
	"chatwire/domain/event"
	"chatwire/errors"
	"chatwire/moderation"
	"chatwire/presence"
	"chatwire/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

type chatFixture struct {
	service     *ChatService
	tracker     *presence.Tracker
	deliveryBus *bus.InProcessBus
	alice       domain.User
	bob         domain.User
	convID      domain.ConversationID
}

func newChatFixture(t *testing.T) *chatFixture {
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

	sanitizer, err := moderation.NewSanitizer('*', log)
	req.NoError(err)

	deliveryBus := bus.NewInProcessBus(log, conversations, bus.NewRegistry(), 64, time.Second)
	tracker := presence.NewTracker(deliveryBus, 2*time.Second, log)

	messages := repositories.NewMessageRepository(db, log)
	service := NewChatService(log, conversations, messages, users, sanitizer, deliveryBus, tracker)

	return &chatFixture{
		service:     service,
		tracker:     tracker,
		deliveryBus: deliveryBus,
		alice:       alice,
		bob:         bob,
		convID:      conversation.ID,
	}
}

// seqSink records the sequence of every delivered message event.
type seqSink struct {
	mu   sync.Mutex
	seqs []uint64
}

func (s *seqSink) Consume(_ context.Context, e event.DomainEvent) error {
	if evt, ok := e.(event.MessageInserted); ok {
		s.mu.Lock()
		s.seqs = append(s.seqs, evt.Message.Seq)
		s.mu.Unlock()
	}
	return nil
}

func (s *seqSink) delivered() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.seqs))
	copy(out, s.seqs)
	return out
}

func Test_Two_Users_Exchange_Messages(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)
	ctx := context.Background()

	first, err := f.service.PostMessage(ctx, f.convID, f.alice.ID, f.alice.Handle, "hello bob")
	req.NoError(err)
	req.Equal(uint64(1), first.Seq)

	second, err := f.service.PostMessage(ctx, f.convID, f.bob.ID, f.bob.Handle, "hello alice")
	req.NoError(err)
	req.Equal(uint64(2), second.Seq)

	// Both sides read the same ordered history.
	for _, user := range []domain.User{f.alice, f.bob} {
		history, err := f.service.GetMessages(user.ID, f.convID, nil)
		req.NoError(err)
		req.Len(history, 2)
		req.Equal("hello bob", history[0].Content)
		req.Equal("hello alice", history[1].Content)
	}
}

func Test_Concurrent_Posts_Deliver_In_Commit_Order(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.deliveryBus.Run(ctx) }()

	sink := &seqSink{}
	_, err := f.deliveryBus.Subscribe(ctx, "session-a", f.alice.ID, f.convID, sink)
	req.NoError(err)

	// Stay below the bus buffer so no event can be dropped even if the
	// fan-out loop lags behind the posters.
	const posts = 50
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.PostMessage(context.Background(), f.convID,
				f.alice.ID, f.alice.Handle, "ping")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	req.Eventually(func() bool {
		return len(sink.delivered()) == posts
	}, 2*time.Second, 10*time.Millisecond)

	// Delivery order matches store commit order, no inversions.
	for i, seq := range sink.delivered() {
		req.Equal(uint64(i+1), seq)
	}
}

func Test_PostMessage_Runs_Moderation(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	message, err := f.service.PostMessage(context.Background(), f.convID,
		f.alice.ID, f.alice.Handle, "bob you are a moron sometimes")
	req.NoError(err)
	req.Equal("bob you are a ***** sometimes", message.Content)

	history, err := f.service.GetMessages(f.bob.ID, f.convID, nil)
	req.NoError(err)
	req.Equal(message.Content, history[0].Content)
}

func Test_PostMessage_Ends_Typing_State(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	f.tracker.Track(f.convID, f.alice.ID, f.alice.Handle, true)

	_, err := f.service.PostMessage(context.Background(), f.convID,
		f.alice.ID, f.alice.Handle, "done typing")
	req.NoError(err)

	snapshot := f.tracker.Snapshot(f.convID)
	req.Len(snapshot, 1)
	req.False(snapshot[0].Typing)
}

func Test_Guards_Reject_Non_Participants(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	_, err := f.service.PostMessage(context.Background(), f.convID,
		"stranger-id", "stranger", "can I join")
	req.ErrorIs(err, errors.ErrNotParticipant)

	_, err = f.service.GetMessages("stranger-id", f.convID, nil)
	req.ErrorIs(err, errors.ErrNotParticipant)

	member, err := f.service.Authorize(f.alice.ID, f.convID)
	req.NoError(err)
	req.True(member)
	member, err = f.service.Authorize("stranger-id", f.convID)
	req.NoError(err)
	req.False(member)
}

func Test_OpenDirect_Resolves_The_Peer(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	conversation, otherHandle, err := f.service.OpenDirect(f.alice.ID, f.bob.ID)
	req.NoError(err)
	req.Equal(f.convID, conversation.ID)
	req.Equal("bob", otherHandle)

	_, _, err = f.service.OpenDirect(f.alice.ID, "unknown-id")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func Test_CreateGroup_Always_Includes_The_Creator(t *testing.T) {
	req := require.New(t)
	f := newChatFixture(t)

	conversation, err := f.service.CreateGroup(f.alice.ID, "plans", []string{f.bob.ID, f.alice.ID})
	req.NoError(err)
	req.True(conversation.IsGroup)

	member, err := f.service.Authorize(f.alice.ID, conversation.ID)
	req.NoError(err)
	req.True(member)
	member, err = f.service.Authorize(f.bob.ID, conversation.ID)
	req.NoError(err)
	req.True(member)

	_, err = f.service.CreateGroup(f.alice.ID, "ghosts", []string{"unknown-id"})
	req.ErrorIs(err, errors.ErrUserNotFound)
}
