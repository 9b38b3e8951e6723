// internal/types/interfaces.go
package types

import (
	"context"
)

// MessageStore is the remote durable message log.
type MessageStore interface {
	// Sessions returns every session the identity has written to or received
	// replies in.
	Sessions(ctx context.Context, author string) ([]SessionID, error)
	// Messages returns the session's records ordered by creation, ascending.
	Messages(ctx context.Context, session SessionID) ([]Record, error)
	// Latest returns the most recently created record, or nil if the session
	// is empty.
	Latest(ctx context.Context, session SessionID) (*Record, error)
	// Create persists rec and returns the stored copy with id and timestamp.
	Create(ctx context.Context, rec Record) (*Record, error)
}
