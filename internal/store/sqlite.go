package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/mhelail/real-time-communication-platform/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the zero-dependency
// fallback used in development; production runs on PostgreSQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/platform.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/platform.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('private', 'group')),
		name TEXT NOT NULL DEFAULT '',
		participants TEXT NOT NULL, -- JSON array, canonical order
		created_at DATETIME NOT NULL,
		last_message_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		ts DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'delivered',
		seen_by TEXT NOT NULL DEFAULT '[]' -- JSON array
	);

	CREATE TABLE IF NOT EXISTS call_history (
		id TEXT PRIMARY KEY,
		caller TEXT NOT NULL,
		receiver TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		duration INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL CHECK (status IN ('answered', 'missed', 'rejected', 'cancelled'))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages(conversation_id, ts);
	CREATE INDEX IF NOT EXISTS idx_call_history_caller ON call_history(caller, start_time);
	CREATE INDEX IF NOT EXISTS idx_call_history_receiver ON call_history(receiver, start_time);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{
		ID:           uuid.Must(uuid.NewV7()),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, user.ID.String(), user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isConstraintError(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var idStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username = ?
	`, username).Scan(&idStr, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers retrieves users ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users ORDER BY username LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserRows(rows)
}

// SearchUsers retrieves users whose username contains the query, case-insensitive.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM users WHERE username LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY username LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUserRows(rows)
}

func scanUserRows(rows *sql.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		var u models.User
		var idStr string
		if err := rows.Scan(&idStr, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		u.ID = id
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CreateConversation creates a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, convType, name string, participants []string) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:            uuid.Must(uuid.NewV7()),
		Type:          convType,
		Name:          name,
		Participants:  canonicalParticipants(participants),
		CreatedAt:     time.Now().UTC(),
		LastMessageAt: time.Now().UTC(),
	}
	participantsJSON, err := json.Marshal(conv.Participants)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, type, name, participants, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, conv.ID.String(), conv.Type, conv.Name, string(participantsJSON), conv.CreatedAt, conv.LastMessageAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var idStr, participantsJSON string
	err := row.Scan(&idStr, &conv.Type, &conv.Name, &participantsJSON, &conv.CreatedAt, &conv.LastMessageAt)
	if err != nil {
		return nil, err
	}
	conv.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participantsJSON), &conv.Participants); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, name, participants, created_at, last_message_at
		FROM conversations WHERE id = ?
	`, id.String())
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

// FindPrivateConversation retrieves the private conversation between two users.
// Participants are stored in canonical order, so the pair matches exactly.
func (s *SQLiteStore) FindPrivateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	pairJSON, err := json.Marshal(canonicalParticipants([]string{userA, userB}))
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, name, participants, created_at, last_message_at
		FROM conversations WHERE type = 'private' AND participants = ?
	`, string(pairJSON))
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return conv, err
}

// ListConversationsForUser retrieves all conversations the user participates in,
// most recently active first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, username string) ([]models.Conversation, error) {
	memberJSON, err := json.Marshal(username)
	if err != nil {
		return nil, err
	}
	// JSON arrays store usernames quoted, so a substring match on the quoted
	// name is exact.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, name, participants, created_at, last_message_at
		FROM conversations
		WHERE instr(participants, ?) > 0
		ORDER BY last_message_at DESC
	`, string(memberJSON))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// CountConversations returns the total number of conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// SaveMessage stores a message and bumps the conversation's activity timestamp.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	ensureMessageDefaults(msg)

	seenBy := msg.SeenBy
	if seenBy == nil {
		seenBy = []string{}
	}
	seenByJSON, err := json.Marshal(seenBy)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, recipient, content, ts, status, seen_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.From, msg.To, msg.Content, msg.Timestamp, msg.Status, string(seenByJSON))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, msg.Timestamp, msg.ConversationID)
	return err
}

// ListMessages retrieves the most recent messages of a conversation in
// chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, recipient, content, ts, status, seen_by
		FROM (
			SELECT id, conversation_id, sender, recipient, content, ts, status, seen_by
			FROM messages
			WHERE conversation_id = ?
			ORDER BY ts DESC
			LIMIT ?
		)
		ORDER BY ts ASC
	`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var seenByJSON string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.From, &m.To, &m.Content, &m.Timestamp, &m.Status, &seenByJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(seenByJSON), &m.SeenBy); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessagesSeen marks every message addressed to recipient in the
// conversation as seen, excluding the recipient's own messages.
func (s *SQLiteStore) MarkMessagesSeen(ctx context.Context, conversationID, recipient string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = 'seen'
		WHERE conversation_id = ? AND recipient = ? AND sender <> ? AND status <> 'seen'
	`, conversationID, recipient, recipient)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddMessageSeenBy adds username to the seen-by set of every message in the
// conversation it has not seen yet, excluding its own messages.
func (s *SQLiteStore) AddMessageSeenBy(ctx context.Context, conversationID, username string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, seen_by FROM messages
		WHERE conversation_id = ? AND sender <> ?
	`, conversationID, username)
	if err != nil {
		return 0, err
	}

	type update struct {
		id     string
		seenBy []string
	}
	var updates []update
	for rows.Next() {
		var id, seenByJSON string
		if err := rows.Scan(&id, &seenByJSON); err != nil {
			rows.Close()
			return 0, err
		}
		var seenBy []string
		if err := json.Unmarshal([]byte(seenByJSON), &seenBy); err != nil {
			rows.Close()
			return 0, err
		}
		seen := false
		for _, u := range seenBy {
			if u == username {
				seen = true
				break
			}
		}
		if !seen {
			updates = append(updates, update{id: id, seenBy: append(seenBy, username)})
		}
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, u := range updates {
		seenByJSON, err := json.Marshal(u.seenBy)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET seen_by = ? WHERE id = ?`, string(seenByJSON), u.id); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int64(len(updates)), nil
}

// CountMessages returns the total number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// SaveCallRecord stores the terminal outcome of a call attempt.
func (s *SQLiteStore) SaveCallRecord(ctx context.Context, rec *models.CallRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.Must(uuid.NewV7())
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_history (id, caller, receiver, start_time, end_time, duration, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.Caller, rec.Receiver, rec.StartTime, rec.EndTime, rec.Duration, rec.Status)
	return err
}

// ListCallHistory retrieves call records where the user was either party,
// newest first.
func (s *SQLiteStore) ListCallHistory(ctx context.Context, username string, limit int) ([]models.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller, receiver, start_time, end_time, duration, status
		FROM call_history
		WHERE caller = ? OR receiver = ?
		ORDER BY start_time DESC
		LIMIT ?
	`, username, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var idStr string
		if err := rows.Scan(&idStr, &r.Caller, &r.Receiver, &r.StartTime, &r.EndTime, &r.Duration, &r.Status); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		r.ID = id
		records = append(records, r)
	}
	return records, rows.Err()
}

// CountCalls returns the total number of recorded calls.
func (s *SQLiteStore) CountCalls(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_history`).Scan(&count)
	return count, err
}
