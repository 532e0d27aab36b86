// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT,
			status TEXT NOT NULL DEFAULT 'bot',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_id
			ON conversations(user_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_agent_id
			ON conversations(agent_id);

		CREATE INDEX IF NOT EXISTS idx_conversations_status
			ON conversations(status);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a conversation together with its first message
// as one transaction, so a conversation never exists without its opening turn.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation, first *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, agent_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.UserID,
		conv.AgentID,
		conv.Status,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		first.ID,
		first.ConversationID,
		first.Sender,
		first.Body,
		formatTime(first.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting first message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "user_id", conv.UserID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, agent_id, status, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`, id)

	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversationsByUser returns all conversations owned by the given user,
// most recently updated first.
func (s *SQLiteStore) ListConversationsByUser(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT id, user_id, agent_id, status, created_at, updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`, userID)
}

// ListConversationsForAgent returns conversations assigned to the agent plus
// any still pending and unassigned, most recently updated first.
func (s *SQLiteStore) ListConversationsForAgent(ctx context.Context, agentID string) ([]*Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT id, user_id, agent_id, status, created_at, updated_at
		FROM conversations
		WHERE agent_id = ? OR (status = ? AND agent_id IS NULL)
		ORDER BY updated_at DESC
	`, agentID, StatusPendingHuman)
}

// ListPendingConversations returns conversations waiting for an agent,
// most recently updated first.
func (s *SQLiteStore) ListPendingConversations(ctx context.Context) ([]*Conversation, error) {
	return s.queryConversations(ctx, `
		SELECT id, user_id, agent_id, status, created_at, updated_at
		FROM conversations
		WHERE status = ? AND agent_id IS NULL
		ORDER BY updated_at DESC
	`, StatusPendingHuman)
}

// AcceptConversation atomically claims a pending, unassigned conversation for
// the given agent. The WHERE predicate is evaluated and applied by SQLite as
// one indivisible operation, so of N racing agents exactly one update can
// match the row; every other caller sees zero rows affected and gets
// ErrConflict.
func (s *SQLiteStore) AcceptConversation(ctx context.Context, id, agentID string) error {
	return s.conditionalUpdate(ctx, `
		UPDATE conversations
		SET status = ?, agent_id = ?, updated_at = ?
		WHERE id = ? AND status = ? AND agent_id IS NULL
	`, StatusActiveHuman, agentID, formatTime(time.Now().UTC()), id, StatusPendingHuman)
}

// EscalateConversation moves a bot-mode conversation to the pending queue.
func (s *SQLiteStore) EscalateConversation(ctx context.Context, id string) error {
	return s.conditionalUpdate(ctx, `
		UPDATE conversations
		SET status = ?, agent_id = NULL, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusPendingHuman, formatTime(time.Now().UTC()), id, StatusBot)
}

// DeescalateConversation returns a pending, unassigned conversation to bot mode.
func (s *SQLiteStore) DeescalateConversation(ctx context.Context, id string) error {
	return s.conditionalUpdate(ctx, `
		UPDATE conversations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND agent_id IS NULL
	`, StatusBot, formatTime(time.Now().UTC()), id, StatusPendingHuman)
}

// ReleaseConversation detaches the given agent from an active conversation
// and returns it to bot mode. The agent_id predicate keeps a stale release
// from clobbering an assignment that has since changed.
func (s *SQLiteStore) ReleaseConversation(ctx context.Context, id, agentID string) error {
	return s.conditionalUpdate(ctx, `
		UPDATE conversations
		SET status = ?, agent_id = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND agent_id = ?
	`, StatusBot, formatTime(time.Now().UTC()), id, StatusActiveHuman, agentID)
}

// CloseConversation marks a conversation closed. Closed is terminal: closing
// an already-closed conversation is a conflict, and no other transition can
// leave the closed state.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id string) error {
	return s.conditionalUpdate(ctx, `
		UPDATE conversations
		SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`, StatusClosed, formatTime(time.Now().UTC()), id, StatusClosed)
}

// conditionalUpdate runs a single UPDATE and maps "zero rows affected" to
// ErrConflict, the race signal for all first-writer-wins transitions.
func (s *SQLiteStore) conditionalUpdate(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing conditional update: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConflict
	}
	return nil
}

// AppendMessage inserts a message and bumps the conversation's updated_at in
// one transaction. Messages are never updated or deleted.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Sender,
		msg.Body,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, formatTime(time.Now().UTC()), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("bumping conversation updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender", msg.Sender)
	return nil
}

// ListMessages returns the complete thread in ascending creation order.
// Ties on created_at are broken by insertion (rowid) order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, body, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// RecentMessages returns the most recent limit messages of the conversation
// in ascending order, oldest of the window first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, body, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query returned newest-first; flip to ascending
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) queryConversations(ctx context.Context, query string, args ...any) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]*Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	var agentID sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.UserID,
		&agentID,
		&conv.Status,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if agentID.Valid {
		conv.AgentID = &agentID.String
	}

	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &conv, nil
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	msgs := make([]*Message, 0)
	for rows.Next() {
		var msg Message
		var createdAtStr string
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Sender, &msg.Body, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		createdAt, err := parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msg.CreatedAt = createdAt
		msgs = append(msgs, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// timeLayout uses fixed-width fractional seconds, unlike RFC3339Nano which
// trims trailing zeros. Fixed width keeps the TEXT sort order of timestamp
// columns chronological (a whole-second value would otherwise render without
// a fraction and sort after sub-second values in the same second).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Nanosecond precision keeps creation order stable for messages written in
// quick succession within one conversation.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
