package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	s := &PostgresStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		type TEXT NOT NULL CHECK (type IN ('private', 'group')),
		name TEXT NOT NULL DEFAULT '',
		participants TEXT[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id),
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'delivered',
		seen_by TEXT[] NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS call_history (
		id UUID PRIMARY KEY,
		caller TEXT NOT NULL,
		receiver TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		duration BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('answered', 'missed', 'rejected', 'cancelled'))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages(conversation_id, ts DESC);
	CREATE INDEX IF NOT EXISTS idx_conversations_participants ON conversations USING GIN (participants);
	CREATE INDEX IF NOT EXISTS idx_call_history_caller ON call_history(caller, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_call_history_receiver ON call_history(receiver, start_time DESC);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = $1
	`, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves users ordered by username.
func (s *PostgresStore) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users ORDER BY username LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

// SearchUsers retrieves users whose username contains the query, case-insensitive.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username ILIKE '%' || $1 || '%'
		ORDER BY username LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func scanUsers(rows pgx.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of registered users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CreateConversation creates a new conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, convType, name string, participants []string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (type, name, participants)
		VALUES ($1, $2, $3)
		RETURNING id, type, name, participants, created_at, last_message_at
	`, convType, name, canonicalParticipants(participants)).Scan(
		&conv.ID,
		&conv.Type,
		&conv.Name,
		&conv.Participants,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	defer observeStore("get_conversation")()
	conv := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, name, participants, created_at, last_message_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&conv.ID,
		&conv.Type,
		&conv.Name,
		&conv.Participants,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// FindPrivateConversation retrieves the private conversation between two users.
func (s *PostgresStore) FindPrivateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	pair := canonicalParticipants([]string{userA, userB})
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, name, participants, created_at, last_message_at
		FROM conversations
		WHERE type = 'private' AND participants = $1
	`, pair).Scan(
		&conv.ID,
		&conv.Type,
		&conv.Name,
		&conv.Participants,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// ListConversationsForUser retrieves all conversations the user participates in,
// most recently active first.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, username string) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, name, participants, created_at, last_message_at
		FROM conversations
		WHERE $1 = ANY(participants)
		ORDER BY last_message_at DESC
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.Participants, &c.CreatedAt, &c.LastMessageAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// CountConversations returns the total number of conversations.
func (s *PostgresStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// SaveMessage stores a message and bumps the conversation's activity timestamp.
// Generated fields (ID, timestamp, status) are filled in if unset.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	defer observeStore("save_message")()
	ensureMessageDefaults(msg)

	seenBy := msg.SeenBy
	if seenBy == nil {
		seenBy = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender, recipient, content, ts, status, seen_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.ConversationID, msg.From, msg.To, msg.Content, msg.Timestamp, msg.Status, seenBy)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE conversations SET last_message_at = $2 WHERE id = $1
	`, msg.ConversationID, msg.Timestamp)
	return err
}

// ListMessages retrieves the most recent messages of a conversation in
// chronological order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	defer observeStore("list_messages")()
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, sender, recipient, content, ts, status, seen_by
		FROM (
			SELECT id, conversation_id, sender, recipient, content, ts, status, seen_by
			FROM messages
			WHERE conversation_id = $1
			ORDER BY ts DESC
			LIMIT $2
		) recent
		ORDER BY ts ASC
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.From, &m.To, &m.Content, &m.Timestamp, &m.Status, &m.SeenBy); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessagesSeen marks every message addressed to recipient in the
// conversation as seen, excluding the recipient's own messages.
// Returns the number of messages updated.
func (s *PostgresStore) MarkMessagesSeen(ctx context.Context, conversationID, recipient string) (int64, error) {
	defer observeStore("mark_seen")()
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'seen'
		WHERE conversation_id = $1 AND recipient = $2 AND sender <> $2 AND status <> 'seen'
	`, conversationID, recipient)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AddMessageSeenBy adds username to the seen-by set of every message in the
// conversation it has not seen yet, excluding its own messages.
// Returns the number of messages updated.
func (s *PostgresStore) AddMessageSeenBy(ctx context.Context, conversationID, username string) (int64, error) {
	defer observeStore("add_seen_by")()
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET seen_by = array_append(seen_by, $2)
		WHERE conversation_id = $1 AND sender <> $2 AND NOT ($2 = ANY(seen_by))
	`, conversationID, username)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountMessages returns the total number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// SaveCallRecord stores the terminal outcome of a call attempt.
func (s *PostgresStore) SaveCallRecord(ctx context.Context, rec *models.CallRecord) error {
	defer observeStore("save_call_record")()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.Must(uuid.NewV7())
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_history (id, caller, receiver, start_time, end_time, duration, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Caller, rec.Receiver, rec.StartTime, rec.EndTime, rec.Duration, rec.Status)
	return err
}

// ListCallHistory retrieves call records where the user was either party,
// newest first.
func (s *PostgresStore) ListCallHistory(ctx context.Context, username string, limit int) ([]models.CallRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, caller, receiver, start_time, end_time, duration, status
		FROM call_history
		WHERE caller = $1 OR receiver = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		if err := rows.Scan(&r.ID, &r.Caller, &r.Receiver, &r.StartTime, &r.EndTime, &r.Duration, &r.Status); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountCalls returns the total number of recorded calls.
func (s *PostgresStore) CountCalls(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM call_history`).Scan(&count)
	return count, err
}
