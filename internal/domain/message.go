package domain

import (
	"time"
)

// Message roles. Only two parties speak in a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StoppedSuffix is appended to an assistant message that was cancelled
// mid-stream with partial content.
const StoppedSuffix = " [stopped]"

// Message is a single turn entry in a conversation. Immutable once persisted,
// except that an assistant message's content may be amended once to append
// the cancellation marker.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// TurnMessage is the role/content pair sent to the inference backend.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnHistory converts a message sequence to the role/content pairs the
// inference backend expects, preserving order.
func TurnHistory(msgs []Message) []TurnMessage {
	out := make([]TurnMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, TurnMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
