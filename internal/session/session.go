// Package session implements the chat session coordinator: per-user state,
// the mode machine, turn streaming, memory extraction, and persistence
// synchronization.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
	"github.com/sameerkhn8107-ui/azahar/internal/modes"
)

// session is the in-memory state for one user. The message list mirrors the
// persisted conversation plus any optimistic entries whose writes failed;
// persistence failures never roll the list back.
type session struct {
	mu sync.Mutex

	userID   string
	username string

	conversationID string
	messages       []domain.Message

	machine modes.Machine
	memory  *domain.UserMemory

	streaming bool
	cancel    context.CancelCauseFunc

	lastActive time.Time
}

func (s *session) touch() {
	s.lastActive = time.Now()
}

// session returns the state for userID, creating it on first sight. Creation
// loads the user's memory snapshot and display name; both loads are
// best-effort.
func (c *Coordinator) session(ctx context.Context, userID string) *session {
	c.mu.Lock()
	if s, ok := c.sessions[userID]; ok {
		c.mu.Unlock()
		return s
	}
	s := &session{userID: userID, lastActive: time.Now()}
	c.sessions[userID] = s
	c.mu.Unlock()

	if u, err := c.repo.GetUser(ctx, userID); err != nil {
		c.logger.Warn("failed to load user for session", "user_id", userID, "error", err)
	} else if u != nil {
		s.mu.Lock()
		s.username = u.Username
		s.mu.Unlock()
	}
	if mem, err := c.repo.GetMemory(ctx, userID); err != nil {
		c.logger.Warn("failed to load memory for session", "user_id", userID, "error", err)
	} else if mem != nil {
		s.mu.Lock()
		s.memory = mem
		s.mu.Unlock()
	}
	return s
}
