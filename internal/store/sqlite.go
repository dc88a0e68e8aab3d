package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sameerkhn8107-ui/azahar/internal/domain"
	"github.com/sameerkhn8107-ui/azahar/internal/shared"
	_ "modernc.org/sqlite"
)

// conversationListLimit caps ListConversations to the most recent threads.
const conversationListLimit = 50

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	memoryMu sync.Mutex // serializes read-merge-write on user_memory
	tsMu     sync.Mutex
	lastTs   time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_memory (
		user_id TEXT PRIMARY KEY,
		memory_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_message_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// nextTimestamp assigns a store-side write timestamp. Strictly increasing so
// concurrent writers still produce a single global message order.
func (s *SQLiteStore) nextTimestamp() time.Time {
	s.tsMu.Lock()
	defer s.tsMu.Unlock()
	now := time.Now()
	if !now.After(s.lastTs) {
		now = s.lastTs.Add(time.Microsecond)
	}
	s.lastTs = now
	return now
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// CreateConversation creates a conversation for a user and returns its ID.
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title string) (string, error) {
	if title == "" {
		title = domain.DefaultConversationTitle
	}
	id := uuid.NewString()
	now := s.nextTimestamp()

	query := `
	INSERT INTO conversations (id, user_id, title, created_at, last_message_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, id, userID, title, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// ListConversations returns a user's conversations, newest activity first.
// Primary path is a server-side ordered query; if it fails the same filter is
// re-issued unordered and sorted client-side by the same key.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	convos, err := s.queryConversations(ctx, userID, true)
	if err == nil {
		return convos, nil
	}
	slog.Warn("ordered conversation query failed, using fallback", "user_id", userID, "error", err)

	convos, err = s.queryConversations(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("fallback conversation query: %w", err)
	}
	sortConversationsByActivity(convos)
	return convos, nil
}

// sortConversationsByActivity orders newest activity first, the same
// contract as the ordered query's ORDER BY last_message_at DESC.
func sortConversationsByActivity(convos []domain.Conversation) {
	sort.SliceStable(convos, func(i, j int) bool {
		return convos[i].LastMessageAt.After(convos[j].LastMessageAt)
	})
}

func (s *SQLiteStore) queryConversations(ctx context.Context, userID string, ordered bool) ([]domain.Conversation, error) {
	query := `
		SELECT id, user_id, title, created_at, last_message_at
		FROM conversations WHERE user_id = ?`
	if ordered {
		query += ` ORDER BY last_message_at DESC`
	}
	query += ` LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, conversationListLimit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer closeRows(rows, "conversations")

	var convos []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var createdAt, lastMessageAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &createdAt, &lastMessageAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		c.CreatedAt = time.UnixMicro(createdAt)
		c.LastMessageAt = time.UnixMicro(lastMessageAt)
		convos = append(convos, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convos, nil
}

// ListMessages returns a conversation's messages, oldest first. Same
// primary/fallback dual-path behavior as ListConversations.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	msgs, err := s.queryMessages(ctx, conversationID, limit, true)
	if err == nil {
		return msgs, nil
	}
	slog.Warn("ordered message query failed, using fallback", "conversation_id", conversationID, "error", err)

	msgs, err = s.queryMessages(ctx, conversationID, limit, false)
	if err != nil {
		return nil, fmt.Errorf("fallback message query: %w", err)
	}
	sortMessagesByTimestamp(msgs)
	return msgs, nil
}

// sortMessagesByTimestamp orders oldest first, the same contract as the
// ordered query's ORDER BY timestamp ASC.
func sortMessagesByTimestamp(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func (s *SQLiteStore) queryMessages(ctx context.Context, conversationID string, limit int, ordered bool) ([]domain.Message, error) {
	query := `
		SELECT id, conversation_id, user_id, role, content, timestamp
		FROM messages WHERE conversation_id = ?`
	if ordered {
		query += ` ORDER BY timestamp ASC`
	}
	query += ` LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Timestamp = time.UnixMicro(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// AppendMessage persists a message with a store-assigned timestamp.
// Retries on SQLite concurrency errors with exponential backoff.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, userID, role, content string) (string, error) {
	id := uuid.NewString()
	ts := s.nextTimestamp()

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.insertMessage(ctx, id, conversationID, userID, role, content, ts)
		if err == nil {
			break
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendMessage hit SQLITE_BUSY, retrying",
				"conversation_id", conversationID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}
		return "", fmt.Errorf("append message: %w", err)
	}
	if err != nil {
		return "", fmt.Errorf("append message after %d attempts: %w", maxRetries, err)
	}

	// Bump the parent conversation's last_message_at. Best-effort: a failure
	// here must not fail the append.
	bump := `UPDATE conversations SET last_message_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, bump, ts.UnixMicro(), conversationID); err != nil {
		slog.Warn("failed to bump conversation last_message_at",
			"conversation_id", conversationID, "error", err)
	}

	return id, nil
}

func (s *SQLiteStore) insertMessage(ctx context.Context, id, conversationID, userID, role, content string, ts time.Time) error {
	query := `
	INSERT INTO messages (id, conversation_id, user_id, role, content, timestamp)
	VALUES (?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, id, conversationID, userID, role, content, ts.UnixMicro())
	return err
}

// AmendMessageContent replaces a message's content in place.
func (s *SQLiteStore) AmendMessageContent(ctx context.Context, messageID, content string) error {
	query := `UPDATE messages SET content = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, content, messageID)
	if err != nil {
		return fmt.Errorf("amend message content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}
	return nil
}

// DeleteConversation deletes all of a conversation's messages, then the
// conversation itself. Not atomic across the two steps; message deletion
// runs first so a partial failure cannot leave orphaned messages behind a
// deleted conversation record.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// RenameConversation updates a conversation's title and refreshes its
// last_message_at.
func (s *SQLiteStore) RenameConversation(ctx context.Context, conversationID, title string) error {
	query := `UPDATE conversations SET title = ?, last_message_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, title, s.nextTimestamp().UnixMicro(), conversationID)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("conversation not found: %s", conversationID)
	}
	return nil
}

// GetMemory retrieves a user's memory record.
func (s *SQLiteStore) GetMemory(ctx context.Context, userID string) (*domain.UserMemory, error) {
	query := `SELECT memory_json, updated_at FROM user_memory WHERE user_id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)

	var memoryJSON string
	var updatedAt int64
	err := row.Scan(&memoryJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory row: %w", err)
	}

	var memory domain.UserMemory
	if err := json.Unmarshal([]byte(memoryJSON), &memory); err != nil {
		return nil, fmt.Errorf("decode memory record: %w", err)
	}
	memory.UpdatedAt = time.UnixMicro(updatedAt)
	return &memory, nil
}

// UpsertMemory creates or merge-updates a user's memory record. The stored
// record is read, overlaid with the partial's non-empty fields, and written
// back; unrelated fields are never clobbered.
func (s *SQLiteStore) UpsertMemory(ctx context.Context, userID string, partial domain.UserMemory) error {
	s.memoryMu.Lock()
	defer s.memoryMu.Unlock()

	existing, err := s.GetMemory(ctx, userID)
	if err != nil {
		return fmt.Errorf("load memory for merge: %w", err)
	}

	merged := partial
	if existing != nil {
		merged = existing.Merge(partial)
	}
	merged.UpdatedAt = time.Time{} // updated_at lives in its own column

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode memory record: %w", err)
	}

	query := `
	INSERT INTO user_memory (user_id, memory_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		memory_json = excluded.memory_json,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, userID, string(data), s.nextTimestamp().UnixMicro()); err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
