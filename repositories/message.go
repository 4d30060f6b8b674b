//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatwire/domain"
	"chatwire/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

type IMessageRepository interface {
	Append(conversationID domain.ConversationID, senderID, senderHandle, content, lang string) (domain.Message, error)
	ListSince(conversationID domain.ConversationID, sinceSeq *uint64) ([]domain.Message, error)
}

// MessageRepository is the single source of truth for messages. Each
// conversation is an independent ordering domain: a per-conversation
// append lock serializes sequence allocation, and the sequence counter
// is bumped in the same transaction as the message write so a message
// is either fully committed or absent.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger

	mu    sync.Mutex
	locks map[domain.ConversationID]*sync.Mutex
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{
		db:    db,
		log:   log,
		locks: make(map[domain.ConversationID]*sync.Mutex),
	}
}

// MessageRecord is the on-disk form of a message.
type MessageRecord struct {
	Seq          uint64 `cbor:"1,keyasint"`
	Conversation uint64 `cbor:"2,keyasint"`
	SenderID     string `cbor:"3,keyasint"`
	SenderHandle string `cbor:"4,keyasint"`
	Content      string `cbor:"5,keyasint"`
	Type         string `cbor:"6,keyasint"`
	Lang         string `cbor:"7,keyasint"`
	At           int64  `cbor:"8,keyasint"`
}

// Append validates, assigns the next sequence position and persists the
// message durably. The sender must be a current participant; the check
// happens inside the same transaction as the write so membership and
// message never disagree.
func (m *MessageRepository) Append(conversationID domain.ConversationID, senderID, senderHandle, content, lang string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, errors.ErrEmptyContent
	}

	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	var stored domain.Message
	err := m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(partKey(conversationID, senderID)); err != nil {
			if err == badger.ErrKeyNotFound {
				return errors.ErrNotParticipant
			}
			return err
		}

		seq, err := lastSeq(txn, conversationID)
		if err != nil {
			return err
		}
		seq++

		record := MessageRecord{
			Seq:          seq,
			Conversation: uint64(conversationID),
			SenderID:     senderID,
			SenderHandle: senderHandle,
			Content:      content,
			Type:         domain.MessageTypeText,
			Lang:         lang,
			At:           time.Now().UTC().UnixNano(),
		}

		bytes, err := marshal(record)
		if err != nil {
			return err
		}
		if err = txn.Set(msgKey(conversationID, seq), bytes); err != nil {
			return err
		}
		if err = txn.Set(msgSeqKey(conversationID), encodeUint64(seq)); err != nil {
			return err
		}

		stored = toMessage(record)
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}

	m.log.Debug("Message appended",
		"conversation", conversationID, "seq", stored.Seq, "sender", senderHandle)
	return stored, nil
}

// ListSince returns every message with a sequence strictly greater than
// the cursor, in ascending order. A nil cursor lists the full history.
// The iterator runs on a snapshot, so readers never observe a partially
// written message.
func (m *MessageRepository) ListSince(conversationID domain.ConversationID, sinceSeq *uint64) ([]domain.Message, error) {
	var records []MessageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(conversationID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seekKey := prefix
		if sinceSeq != nil {
			seekKey = msgKey(conversationID, *sinceSeq+1)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			var record MessageRecord
			err := it.Item().Value(func(value []byte) error {
				return unmarshal(value, &record)
			})
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing messages of conversation %d: %w", conversationID, err)
	}

	return lo.Map(records, func(record MessageRecord, _ int) domain.Message {
		return toMessage(record)
	}), nil
}

func (m *MessageRepository) lockFor(conversationID domain.ConversationID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}

func lastSeq(txn *badger.Txn, conversationID domain.ConversationID) (uint64, error) {
	item, err := txn.Get(msgSeqKey(conversationID))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(value []byte) error {
		var err error
		seq, err = decodeUint64(value)
		return err
	})
	return seq, err
}

func toMessage(record MessageRecord) domain.Message {
	return domain.Message{
		Seq:          record.Seq,
		Conversation: domain.ConversationID(record.Conversation),
		SenderID:     record.SenderID,
		SenderHandle: record.SenderHandle,
		Content:      record.Content,
		Type:         record.Type,
		Lang:         record.Lang,
		CreatedAt:    time.Unix(0, record.At).UTC(),
	}
}
