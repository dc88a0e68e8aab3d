package domain

import (
	"strings"
	"time"
)

// DefaultConversationTitle is used when a conversation is created without an
// opening user turn (explicit "new chat").
const DefaultConversationTitle = "New Chat"

// titleMaxLen is the number of leading characters of the opening user turn
// used as the derived conversation title.
const titleMaxLen = 30

// Conversation is a chat thread owned by exactly one user.
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// DeriveTitle builds a conversation title from the opening user turn:
// the first 30 characters, with a "..." suffix when truncated.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return DefaultConversationTitle
	}
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}
