//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"bytes"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"chatwire/domain"
	"chatwire/errors"

	"github.com/dgraph-io/badger/v4"
)

type IConversationRepository interface {
	FindOrCreateDirect(userA, userB string) (domain.Conversation, bool, error)
	CreateGroup(name string, memberIDs []string) (domain.Conversation, error)
	ListForUser(userID string) ([]domain.ConversationSummary, error)
	IsParticipant(userID string, conversationID domain.ConversationID) (bool, error)
	Participants(conversationID domain.ConversationID) ([]string, error)
}

// ConversationRepository resolves membership and conversation metadata.
// The find-or-create path is the only place in the system needing
// protection against concurrent duplicate creation: the canonical pair
// key acts as the uniqueness constraint and createMu serializes the
// check-then-create transaction. A concurrent loser re-reads the pair
// key and returns the winner's conversation.
type ConversationRepository struct {
	db       *badger.DB
	log      *slog.Logger
	createMu sync.Mutex
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

// ConversationRecord is the on-disk form of a conversation.
type ConversationRecord struct {
	ID        uint64 `cbor:"1,keyasint"`
	Name      string `cbor:"2,keyasint"`
	IsGroup   bool   `cbor:"3,keyasint"`
	CreatedAt int64  `cbor:"4,keyasint"`
}

// FindOrCreateDirect returns the one-to-one conversation holding both
// users, creating it together with its two participant rows when absent.
// Idempotent: calling it twice, including concurrently, yields the same
// conversation. The boolean reports whether a new conversation was
// created by this call.
func (c *ConversationRepository) FindOrCreateDirect(userA, userB string) (domain.Conversation, bool, error) {
	if userA == userB {
		return domain.Conversation{}, false, fmt.Errorf("%w: a direct conversation needs two distinct users", errors.ErrMissingField)
	}

	c.createMu.Lock()
	defer c.createMu.Unlock()

	var conversation domain.Conversation
	created := false
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(userA, userB))
		if err == nil {
			var id uint64
			if err = item.Value(func(val []byte) error {
				var err error
				id, err = decodeUint64(val)
				return err
			}); err != nil {
				return err
			}
			conversation, err = readConversation(txn, domain.ConversationID(id))
			return err
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		conversation, err = createConversation(txn, "", false, []string{userA, userB})
		if err != nil {
			return err
		}
		created = true
		return txn.Set(pairKey(userA, userB), encodeUint64(uint64(conversation.ID)))
	})
	if err != nil {
		return domain.Conversation{}, false, err
	}

	if created {
		c.log.Info("Direct conversation created",
			"conversation", conversation.ID, "userA", userA, "userB", userB)
	}
	return conversation, created, nil
}

// CreateGroup creates a named conversation with a fixed member set.
func (c *ConversationRepository) CreateGroup(name string, memberIDs []string) (domain.Conversation, error) {
	if len(memberIDs) < 2 {
		return domain.Conversation{}, fmt.Errorf("%w: a group needs at least two members", errors.ErrMissingField)
	}

	c.createMu.Lock()
	defer c.createMu.Unlock()

	var conversation domain.Conversation
	err := c.db.Update(func(txn *badger.Txn) error {
		var err error
		conversation, err = createConversation(txn, name, true, memberIDs)
		return err
	})
	if err != nil {
		return domain.Conversation{}, err
	}

	c.log.Info("Group conversation created", "conversation", conversation.ID, "members", len(memberIDs))
	return conversation, nil
}

// ListForUser builds the conversation list in a single snapshot
// transaction: one scan over the membership index, then bounded lookups
// for metadata, peer handle and last message inside the same snapshot.
// No per-conversation round trips.
func (c *ConversationRepository) ListForUser(userID string) ([]domain.ConversationSummary, error) {
	type listEntry struct {
		summary  domain.ConversationSummary
		activity int64
	}
	var entries []listEntry
	err := c.db.View(func(txn *badger.Txn) error {
		ids, err := memberConversations(txn, userID)
		if err != nil {
			return err
		}

		for _, id := range ids {
			conversation, err := readConversation(txn, id)
			if err != nil {
				// Membership index pointing at a missing conversation is
				// a storage inconsistency worth surfacing, not skipping.
				return err
			}

			summary := domain.ConversationSummary{
				ID:        conversation.ID,
				Name:      conversation.Name,
				IsGroup:   conversation.IsGroup,
				CreatedAt: conversation.CreatedAt,
			}

			if !conversation.IsGroup {
				other, err := otherParticipant(txn, id, userID)
				if err != nil {
					return err
				}
				if other != "" {
					var record UserRecord
					if err := readUser(txn, other, &record); err != nil {
						return err
					}
					summary.OtherHandle = record.Handle
				}
			}

			activity := conversation.CreatedAt.UnixNano()
			last, found, err := lastMessage(txn, id)
			if err != nil {
				return err
			}
			if found {
				summary.LastMessage = last.Content
				activity = last.At
			}

			entries = append(entries, listEntry{summary: summary, activity: activity})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing conversations of user %s: %w", userID, err)
	}

	// Most recently active first; a conversation with no messages ranks
	// by its creation time.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].activity != entries[j].activity {
			return entries[i].activity > entries[j].activity
		}
		return entries[i].summary.ID > entries[j].summary.ID
	})

	summaries := make([]domain.ConversationSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, entry.summary)
	}
	return summaries, nil
}

// IsParticipant is the guard used before any read, write or subscribe
// on a conversation.
func (c *ConversationRepository) IsParticipant(userID string, conversationID domain.ConversationID) (bool, error) {
	var member bool
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(partKey(conversationID, userID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		member = true
		return nil
	})
	return member, err
}

func (c *ConversationRepository) Participants(conversationID domain.ConversationID) ([]string, error) {
	var ids []string
	err := c.db.View(func(txn *badger.Txn) error {
		prefix := partPrefix(conversationID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func createConversation(txn *badger.Txn, name string, isGroup bool, memberIDs []string) (domain.Conversation, error) {
	id, err := nextConversationID(txn)
	if err != nil {
		return domain.Conversation{}, err
	}

	record := ConversationRecord{
		ID:        uint64(id),
		Name:      name,
		IsGroup:   isGroup,
		CreatedAt: time.Now().UTC().Unix(),
	}
	data, err := marshal(record)
	if err != nil {
		return domain.Conversation{}, err
	}
	if err = txn.Set(convKey(id), data); err != nil {
		return domain.Conversation{}, err
	}

	for _, member := range memberIDs {
		if err = txn.Set(partKey(id, member), []byte{}); err != nil {
			return domain.Conversation{}, err
		}
		if err = txn.Set(memberKey(member, id), []byte{}); err != nil {
			return domain.Conversation{}, err
		}
	}

	return toConversation(record), nil
}

func nextConversationID(txn *badger.Txn) (domain.ConversationID, error) {
	var last uint64
	item, err := txn.Get([]byte(convSeqKey))
	if err == nil {
		if err = item.Value(func(val []byte) error {
			var err error
			last, err = decodeUint64(val)
			return err
		}); err != nil {
			return 0, err
		}
	} else if err != badger.ErrKeyNotFound {
		return 0, err
	}

	next := last + 1
	if err = txn.Set([]byte(convSeqKey), encodeUint64(next)); err != nil {
		return 0, err
	}
	return domain.ConversationID(next), nil
}

func readConversation(txn *badger.Txn, id domain.ConversationID) (domain.Conversation, error) {
	item, err := txn.Get(convKey(id))
	if err == badger.ErrKeyNotFound {
		return domain.Conversation{}, errors.ErrConversationNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	var record ConversationRecord
	if err = item.Value(func(val []byte) error {
		return unmarshal(val, &record)
	}); err != nil {
		return domain.Conversation{}, err
	}
	return toConversation(record), nil
}

func memberConversations(txn *badger.Txn, userID string) ([]domain.ConversationID, error) {
	var ids []domain.ConversationID
	prefix := memberPrefix(userID)
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var id uint64
		suffix := it.Item().Key()[len(prefix):]
		if _, err := fmt.Sscanf(string(suffix), "%d", &id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.ConversationID(id))
	}
	return ids, nil
}

func otherParticipant(txn *badger.Txn, id domain.ConversationID, userID string) (string, error) {
	prefix := partPrefix(id)
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		member := string(it.Item().Key()[len(prefix):])
		if member != userID {
			return member, nil
		}
	}
	return "", nil
}

// lastMessage resolves the most recent message with one bounded reverse
// seek on the padded key space. The boolean reports whether the
// conversation has any message at all.
func lastMessage(txn *badger.Txn, id domain.ConversationID) (MessageRecord, bool, error) {
	prefix := msgPrefix(id)
	options := badger.DefaultIteratorOptions
	options.Reverse = true
	it := txn.NewIterator(options)
	defer it.Close()

	seekKey := append(bytes.Clone(prefix), []byte(maxSeqPad)...)
	it.Seek(seekKey)
	if !it.ValidForPrefix(prefix) {
		return MessageRecord{}, false, nil
	}

	var record MessageRecord
	err := it.Item().Value(func(val []byte) error {
		return unmarshal(val, &record)
	})
	if err != nil {
		return MessageRecord{}, false, err
	}
	return record, true, nil
}

func toConversation(record ConversationRecord) domain.Conversation {
	return domain.Conversation{
		ID:        domain.ConversationID(record.ID),
		Name:      record.Name,
		IsGroup:   record.IsGroup,
		CreatedAt: time.Unix(record.CreatedAt, 0).UTC(),
	}
}
