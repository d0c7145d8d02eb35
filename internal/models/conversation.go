package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation types.
const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

// Conversation is the durable record of a chat. The realtime layer holds no
// authoritative copy of it, only the live membership needed for fan-out.
type Conversation struct {
	ID            uuid.UUID `json:"id"`
	Type          string    `json:"type"` // "private" or "group"
	Name          string    `json:"name,omitempty"`
	Participants  []string  `json:"participants"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// IsPrivate reports whether the conversation is a two-party private chat.
func (c *Conversation) IsPrivate() bool {
	return c.Type == ConversationPrivate
}

// OtherParticipant returns the participant that is not the given username.
// Only meaningful for private conversations.
func (c *Conversation) OtherParticipant(username string) string {
	for _, p := range c.Participants {
		if p != username {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether username is a member of the conversation.
func (c *Conversation) HasParticipant(username string) bool {
	for _, p := range c.Participants {
		if p == username {
			return true
		}
	}
	return false
}
