// Package history keeps the last few conversation turns per user so replies
// stay coherent across messages.
package history

import (
	"context"
	"time"
)

// Turn is one message of a conversation.
type Turn struct {
	Role    string    `json:"role"` // user | assistant
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// History stores recent turns per user.
type History interface {
	// Append adds turns in order, trimming the oldest beyond capacity.
	Append(ctx context.Context, userID string, turns ...Turn) error
	// Recent returns up to n of the newest turns in chronological order.
	Recent(ctx context.Context, userID string, n int) ([]Turn, error)
	Clear(ctx context.Context, userID string) error
	Close() error
}
