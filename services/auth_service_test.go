package services

import (
	"log/slog"
	"testing"
	"time"

	"chatwire/auth"
	"chatwire/errors"
	"chatwire/repositories"
	"chatwire/search"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

const strongPassword = "Str0ng&Secret-Pass"

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	req := require.New(t)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	users := repositories.NewUserRepository(db)
	index := search.NewUserIndex(writer, slog.Default())
	return NewAuthService(users, index, time.Hour)
}

func Test_Signup_Issues_A_Valid_Token(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	token, user, err := service.Signup("alice", strongPassword)
	req.NoError(err)
	req.Equal("alice", user.Handle)
	req.NotEmpty(user.ID)

	claims, err := auth.ValidateToken(string(token))
	req.NoError(err)
	req.Equal(user.ID, claims.UserID)
	req.Equal("alice", claims.Handle)
}

func Test_Signup_Rejects_Bad_Credentials(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	// Handle too short.
	_, _, err := service.Signup("al", strongPassword)
	req.Error(err)

	// Uppercase handle.
	_, _, err = service.Signup("Alice", strongPassword)
	req.ErrorIs(err, errors.ErrInvalidHandle)

	// Long enough but no complexity.
	_, _, err = service.Signup("alice", "aaaaaaaaaaaaaaaa")
	req.ErrorIs(err, errors.ErrInvalidPassword)
}

func Test_Signup_Rejects_Taken_Handle(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	_, _, err := service.Signup("alice", strongPassword)
	req.NoError(err)

	_, _, err = service.Signup("alice", strongPassword)
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_Login_Verifies_Credentials(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	_, created, err := service.Signup("alice", strongPassword)
	req.NoError(err)

	token, user, err := service.Login("alice", strongPassword)
	req.NoError(err)
	req.Equal(created.ID, user.ID)
	req.NotEmpty(token)

	// Wrong password and unknown handle yield the same opaque error.
	_, _, err = service.Login("alice", "Wr0ng&Password!!")
	req.ErrorIs(err, errors.ErrInvalidCredentials)
	_, _, err = service.Login("nobody", strongPassword)
	req.ErrorIs(err, errors.ErrInvalidCredentials)
}

func Test_UpdateAvatar_Round_Trip(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	_, user, err := service.Signup("alice", strongPassword)
	req.NoError(err)

	req.NoError(service.UpdateAvatar(user.ID, "https://cdn.example/a.png"))
	req.ErrorIs(service.UpdateAvatar("missing", "x"), errors.ErrUserNotFound)
}
