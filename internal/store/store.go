// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
)

// Repository defines the interface for persisting users, conversations,
// messages, and per-user memory records.
//
// Operations are independently retryable by the caller; no method runs an
// internal retry loop beyond single-shot busy handling.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil when not found.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// CreateConversation creates a conversation for a user and returns its ID.
	// An empty title defaults to "New Chat".
	CreateConversation(ctx context.Context, userID, title string) (string, error)

	// ListConversations returns a user's conversations sorted by
	// last_message_at descending, limited to the 50 most recent.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	// ListMessages returns a conversation's messages sorted by timestamp
	// ascending, at most limit entries.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	// AppendMessage persists a message with a store-assigned timestamp and
	// returns its ID. Bumping the parent conversation's last_message_at is
	// best-effort; its failure does not fail the append.
	AppendMessage(ctx context.Context, conversationID, userID, role, content string) (string, error)

	// AmendMessageContent replaces a message's content. Used once per
	// assistant message at most, to append the cancellation marker.
	AmendMessageContent(ctx context.Context, messageID, content string) error

	// DeleteConversation deletes all messages belonging to the conversation,
	// then the conversation record itself.
	DeleteConversation(ctx context.Context, conversationID string) error

	// RenameConversation updates a conversation's title and refreshes its
	// last_message_at.
	RenameConversation(ctx context.Context, conversationID, title string) error

	// GetMemory retrieves a user's memory record. Returns nil when absent.
	GetMemory(ctx context.Context, userID string) (*domain.UserMemory, error)

	// UpsertMemory creates or merge-updates a user's memory record. Empty
	// fields in the partial record leave stored values untouched.
	UpsertMemory(ctx context.Context, userID string, partial domain.UserMemory) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
