// Package domain contains core concepts of the chat system.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"time"
)

// User is an account holder. The identifier is immutable and the handle
// is unique across the system.
type User struct {
	ID        string
	Handle    string
	Avatar    string
	CreatedAt time.Time
}
