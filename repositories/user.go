//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"fmt"
	"strings"
	"time"

	"chatwire/domain"
	"chatwire/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	CreateUser(handle, passwordHash string) (domain.User, error)
	GetUserByHandle(handle string) (UserRecord, error)
	GetUserByID(id string) (domain.User, error)
	GetUsersByID(ids []string) (map[string]domain.User, error)
	UpdateAvatar(id, avatar string) error
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UserRecord is the on-disk form of a user, hash included. Only the
// auth service ever sees the hash; everything else works with
// domain.User.
type UserRecord struct {
	ID           string `cbor:"1,keyasint"`
	Handle       string `cbor:"2,keyasint"`
	PasswordHash string `cbor:"3,keyasint"`
	Avatar       string `cbor:"4,keyasint"`
	CreatedAt    int64  `cbor:"5,keyasint"`
}

// CreateUser persists a new user. Handle uniqueness is enforced by the
// handle index key checked and written in the same transaction.
func (u *UserRepository) CreateUser(handle, passwordHash string) (domain.User, error) {
	record := UserRecord{
		ID:           uuid.New().String(),
		Handle:       handle,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Unix(),
	}

	data, err := marshal(record)
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		index := handleKey(strings.ToLower(handle))
		if _, err := txn.Get(index); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(index, []byte(record.ID)); err != nil {
			return err
		}
		return txn.Set(userKey(record.ID), data)
	})
	if err != nil {
		return domain.User{}, err
	}

	return record.ToUser(), nil
}

func (u *UserRepository) GetUserByHandle(handle string) (UserRecord, error) {
	var record UserRecord
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(handleKey(strings.ToLower(handle)))
		if err == badger.ErrKeyNotFound {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}

		var id string
		if err = item.Value(func(val []byte) error {
			id = string(val)
			return nil
		}); err != nil {
			return err
		}

		return readUser(txn, id, &record)
	})
	if err != nil {
		return UserRecord{}, err
	}
	return record, nil
}

func (u *UserRepository) GetUserByID(id string) (domain.User, error) {
	var record UserRecord
	err := u.db.View(func(txn *badger.Txn) error {
		return readUser(txn, id, &record)
	})
	if err != nil {
		return domain.User{}, err
	}
	return record.ToUser(), nil
}

// GetUsersByID resolves a batch of identifiers inside one snapshot
// transaction. Unknown identifiers are skipped, not errors.
func (u *UserRepository) GetUsersByID(ids []string) (map[string]domain.User, error) {
	users := make(map[string]domain.User, len(ids))
	err := u.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var record UserRecord
			if err := readUser(txn, id, &record); err != nil {
				if err == errors.ErrUserNotFound {
					continue
				}
				return err
			}
			users[id] = record.ToUser()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateAvatar replaces the avatar reference. The handle and identifier
// stay immutable.
func (u *UserRepository) UpdateAvatar(id, avatar string) error {
	return u.db.Update(func(txn *badger.Txn) error {
		var record UserRecord
		if err := readUser(txn, id, &record); err != nil {
			return err
		}
		record.Avatar = avatar
		data, err := marshal(record)
		if err != nil {
			return err
		}
		return txn.Set(userKey(id), data)
	})
}

func readUser(txn *badger.Txn, id string, record *UserRecord) error {
	item, err := txn.Get(userKey(id))
	if err == badger.ErrKeyNotFound {
		return errors.ErrUserNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return unmarshal(val, record)
	})
}

func (r UserRecord) ToUser() domain.User {
	return domain.User{
		ID:        r.ID,
		Handle:    r.Handle,
		Avatar:    r.Avatar,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
}
