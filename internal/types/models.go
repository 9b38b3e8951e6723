// internal/types/models.go
package types

import (
	"fmt"
	"time"
)

// Origin tags who produced a message.
type Origin string

const (
	OriginUser Origin = "user"
	OriginBot  Origin = "bot"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	return o == OriginUser || o == OriginBot
}

// BotAuthor is the author recorded on automated replies.
const BotAuthor = "bot"

// Message is the single canonical shape for entries in a timeline, whether
// they came from a history load, a local echo or a push.
type Message struct {
	ID        MessageID `json:"id,omitempty"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Session   SessionID `json:"session"`
	Origin    Origin    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// SameAs reports structural equality: same author, body and origin, with
// creation times no more than window apart.
func (m Message) SameAs(other Message, window time.Duration) bool {
	if m.Author != other.Author || m.Body != other.Body || m.Origin != other.Origin {
		return false
	}
	d := m.CreatedAt.Sub(other.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d <= window
}

// Session is a known conversation and the order in which the registry
// learned about it.
type Session struct {
	ID           SessionID `json:"id"`
	CreatedOrder int       `json:"created_order"`
}

// Record is the wire shape of a persisted message in the remote store.
type Record struct {
	ID        RecordID  `json:"id,omitempty"`
	Session   SessionID `json:"session"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	Origin    Origin    `json:"origin"`
	SentBy    string    `json:"sentby,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	if r.Session == "" {
		return fmt.Errorf("record %s: missing session", r.ID)
	}
	if r.Author == "" {
		return fmt.Errorf("record %s: missing author", r.ID)
	}
	if !r.Origin.Valid() {
		return fmt.Errorf("record %s: unknown origin %q", r.ID, r.Origin)
	}
	return nil
}

// Message converts a stored record into a timeline entry.
func (r *Record) Message() Message {
	return Message{
		ID:        MessageID(r.ID),
		Author:    r.Author,
		Body:      r.Body,
		Session:   r.Session,
		Origin:    r.Origin,
		CreatedAt: r.CreatedAt,
	}
}

// Real-time channel event names.
const (
	EventMessageSent    = "message-sent"
	EventAutomatedReply = "automated-reply"
	EventWelcome        = "welcome"
)

// MessageSent is broadcast after a user message is persisted.
type MessageSent struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

// AutomatedReply is pushed by the service when the responder answers.
type AutomatedReply struct {
	Body string `json:"body"`
}

// Welcome is pushed once per connection.
type Welcome struct {
	UserData string `json:"userData"`
	Text     string `json:"text"`
}
