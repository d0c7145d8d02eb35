package models

import "time"

// Message statuses.
const (
	MessageDelivered = "delivered"
	MessageSeen      = "seen"
	MessageUnread    = "unread"
)

// MaxMessageLength is the largest accepted message body, in bytes.
const MaxMessageLength = 5000

// Message is one chat message. For private conversations To is the single
// recipient and Status tracks delivered/seen; for group conversations To is
// empty and SeenBy accumulates readers instead.
type Message struct {
	ID             string    `json:"id"` // ULID, time-ordered
	ConversationID string    `json:"conversationId"`
	From           string    `json:"from"`
	To             string    `json:"to,omitempty"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Status         string    `json:"status"`
	SeenBy         []string  `json:"seenBy,omitempty"`
}
