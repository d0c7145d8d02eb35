package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mhelail/real-time-communication-platform/internal/metrics"
	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// ErrConflict is returned when a unique constraint is violated,
// e.g. registering a username that is already taken.
var ErrConflict = errors.New("store: conflict")

// observeStore times a store operation for the latency histogram.
// Usage: defer observeStore("save_message")()
func observeStore(op string) func() {
	start := time.Now()
	return func() {
		metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// DataStore defines the interface for durable storage of users,
// conversations, messages and call history. Both PostgresStore and
// SQLiteStore implement this interface.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context, limit int) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Conversation operations
	CreateConversation(ctx context.Context, convType, name string, participants []string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	FindPrivateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	ListConversationsForUser(ctx context.Context, username string) ([]models.Conversation, error)
	CountConversations(ctx context.Context) (int64, error)

	// Message operations
	SaveMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MarkMessagesSeen(ctx context.Context, conversationID, recipient string) (int64, error)
	AddMessageSeenBy(ctx context.Context, conversationID, username string) (int64, error)
	CountMessages(ctx context.Context) (int64, error)

	// Call history operations
	SaveCallRecord(ctx context.Context, rec *models.CallRecord) error
	ListCallHistory(ctx context.Context, username string, limit int) ([]models.CallRecord, error)
	CountCalls(ctx context.Context) (int64, error)
}
