package errors

import "fmt"

// Validation failures. Rejected before any persistence attempt.
var (
	ErrEmptyContent    = fmt.Errorf("message content is empty")
	ErrInvalidHandle   = fmt.Errorf("invalid handle")
	ErrInvalidPassword = fmt.Errorf("password does not meet complexity rules")
	ErrMissingField    = fmt.Errorf("missing required field")
)

// Authorization failures. Rejected before data access; a non-participant
// learns nothing about whether the conversation exists.
var (
	ErrUnauthenticated    = fmt.Errorf("unauthenticated")
	ErrNotParticipant     = fmt.Errorf("not a participant of this conversation")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
)

// Lookup failures, surfaced distinctly from authorization failures.
var (
	ErrUserNotFound         = fmt.Errorf("user not found")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
)

var (
	ErrUserAlreadyExists = fmt.Errorf("handle already taken")
	ErrTokenGeneration   = fmt.Errorf("token generation failed")
	ErrWorkerPanic       = fmt.Errorf("worker panic")
)
