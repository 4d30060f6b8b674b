//go:generate go run go.uber.org/mock/mockgen -source=user_index.go -destination=../mocks/mock_user_index.go -package=mocks
package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"chatwire/domain"

	"github.com/blugelabs/bluge"
)

type IUserIndex interface {
	Index(user domain.User) error
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Hit is one search result: enough to open a conversation with the
// matched user.
type Hit struct {
	UserID string
	Handle string
}

// UserIndex maintains a Bluge index over handles for the user search
// surface: case-insensitive substring match, capped result count.
type UserIndex struct {
	mu     sync.Mutex
	writer *bluge.Writer
	log    *slog.Logger
}

func NewUserIndex(writer *bluge.Writer, log *slog.Logger) *UserIndex {
	return &UserIndex{writer: writer, log: log}
}

// Index registers a user at signup. The handle is lowercased so the
// wildcard query below matches case-insensitively.
func (u *UserIndex) Index(user domain.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	doc := bluge.NewDocument(user.ID).
		AddField(bluge.NewKeywordField("handle", strings.ToLower(user.Handle)).StoreValue()).
		AddField(bluge.NewStoredOnlyField("display", []byte(user.Handle)))

	return u.writer.Update(doc.ID(), doc)
}

// Search runs a substring match on handles. The caller excludes its own
// identity from the results.
func (u *UserIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}

	reader, err := u.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			u.log.Warn("Closing search reader failed", "error", err)
		}
	}()

	wildcard := bluge.NewWildcardQuery("*" + query + "*").SetField("handle")
	iterator, err := reader.Search(ctx, bluge.NewTopNSearch(limit, wildcard))
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				hit.UserID = string(value)
			case "display":
				hit.Handle = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
