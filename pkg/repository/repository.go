package repository

import (
	"context"

	"github.com/ermine-ai/ermine/pkg/model"
)

// SessionRepository persists conversation messages per session key.
type SessionRepository interface {
	// AddMessage appends one message to the session
	AddMessage(ctx context.Context, sessionKey string, msg model.Message) error

	// History retrieves the most recent messages in chronological order
	History(ctx context.Context, sessionKey string, maxMessages int) ([]model.Message, error)

	// MessageCount returns the total number of messages in the session
	MessageCount(ctx context.Context, sessionKey string) (int, error)

	// Messages retrieves messages by position, [from, to) in insertion order
	Messages(ctx context.Context, sessionKey string, from, to int) ([]model.Message, error)

	// LastConsolidated returns how many leading messages have already
	// been folded into long-term memory
	LastConsolidated(ctx context.Context, sessionKey string) (int, error)

	// SetLastConsolidated advances the consolidation cursor
	SetLastConsolidated(ctx context.Context, sessionKey string, cursor int) error

	// Close releases the underlying storage
	Close() error
}
