// internal/types/ids.go
package types

import (
	"strconv"

	"github.com/google/uuid"
)

// SessionID names a conversation. Ids handed out by the registry are
// decimal integers, but the type is opaque to everything else.
type SessionID string

// MessageID is a client-side identifier used to trace a message through logs.
// It does not take part in structural equality.
type MessageID string

// RecordID is assigned by the message store to persisted records.
type RecordID string

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// Number returns the numeric value of a decimal session id.
func (id SessionID) Number() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
