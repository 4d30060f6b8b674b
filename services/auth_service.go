//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"fmt"
	"time"

	"chatwire/auth"
	"chatwire/domain"
	"chatwire/errors"
	"chatwire/repositories"
	"chatwire/search"
)

type IAuthService interface {
	Signup(handle, password string) (Token, domain.User, error)
	Login(handle, password string) (Token, domain.User, error)
	UpdateAvatar(userID, avatar string) error
	TokenDuration() time.Duration
}

type Token string

type AuthService struct {
	users         repositories.IUserRepository
	index         search.IUserIndex
	tokenDuration time.Duration
}

func NewAuthService(users repositories.IUserRepository, index search.IUserIndex,
	tokenDuration time.Duration) *AuthService {
	return &AuthService{users: users, index: index, tokenDuration: tokenDuration}
}

// Signup validates, hashes and persists a new account, indexes its
// handle for search and issues the first session token.
func (s *AuthService) Signup(handle, password string) (Token, domain.User, error) {
	// Business rules first: checked before any expensive cryptographic
	// operation.
	if err := auth.ValidateSignup(auth.SignupRequest{Handle: handle, Password: password}); err != nil {
		return "", domain.User{}, err
	}

	// Hashing happens in the service layer to keep the repository
	// unaware of plain passwords.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.users.CreateUser(handle, hashedPassword)
	if err != nil {
		return "", domain.User{}, err // Propagates ErrUserAlreadyExists if the handle is taken
	}

	if err = s.index.Index(user); err != nil {
		return "", domain.User{}, fmt.Errorf("indexing handle: %w", err)
	}

	token, err := auth.GenerateToken(user.ID, user.Handle, s.tokenDuration)
	if err != nil {
		return "", domain.User{}, errors.ErrTokenGeneration
	}

	return Token(token), user, nil
}

// Login verifies the credentials and issues a session token.
func (s *AuthService) Login(handle, password string) (Token, domain.User, error) {
	record, err := s.users.GetUserByHandle(handle)
	if err != nil {
		// Generic error to prevent user enumeration attacks.
		return "", domain.User{}, errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, record.PasswordHash)
	if err != nil || !match {
		return "", domain.User{}, errors.ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(record.ID, record.Handle, s.tokenDuration)
	if err != nil {
		return "", domain.User{}, errors.ErrTokenGeneration
	}

	return Token(token), record.ToUser(), nil
}

func (s *AuthService) UpdateAvatar(userID, avatar string) error {
	return s.users.UpdateAvatar(userID, avatar)
}

func (s *AuthService) TokenDuration() time.Duration {
	return s.tokenDuration
}
