package store

import (
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// ensureMessageDefaults fills in the generated fields of a message before it
// is written: a time-ordered ULID, the write timestamp and the initial status.
func ensureMessageDefaults(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = models.MessageDelivered
	}
}

// canonicalParticipants returns participants in a stable order so that a
// private pair always stores and matches identically regardless of who
// initiated the conversation.
func canonicalParticipants(participants []string) []string {
	out := make([]string, len(participants))
	copy(out, participants)
	sort.Strings(out)
	return out
}
