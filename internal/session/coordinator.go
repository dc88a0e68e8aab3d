package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sameerkhn8107-ui/azahar/internal/chatlog"
	"github.com/sameerkhn8107-ui/azahar/internal/domain"
	"github.com/sameerkhn8107-ui/azahar/internal/memory"
	"github.com/sameerkhn8107-ui/azahar/internal/modes"
	"github.com/sameerkhn8107-ui/azahar/internal/store"
	"github.com/sameerkhn8107-ui/azahar/internal/stream"
)

var (
	// ErrBusy is returned when a turn arrives while a response is already
	// streaming for the same user.
	ErrBusy = errors.New("a response is already streaming")

	// ErrNoUser is returned for operations without a user identity.
	ErrNoUser = errors.New("no user identity")

	// ErrEmptyTurn is returned for a whitespace-only user turn.
	ErrEmptyTurn = errors.New("empty message")

	// ErrInvalidMode is returned for an unknown mode name.
	ErrInvalidMode = errors.New("invalid mode")

	// errStopRequested cancels an in-flight stream on an explicit stop.
	errStopRequested = errors.New("generation stopped")
)

// defaultExtractTimeout bounds a background extraction call.
const defaultExtractTimeout = 30 * time.Second

// Event is one coordinator output for an in-flight turn: a content delta
// (Word) or the terminal marker (Done). Stopped is set on the terminal
// marker when the turn ended by cancellation.
type Event struct {
	Word    string
	Done    bool
	Stopped bool
}

// Streamer opens a token stream for one chat turn.
type Streamer interface {
	OpenTurn(ctx context.Context, req stream.TurnRequest) iter.Seq2[stream.Event, error]
}

// FactExtractor distills durable user facts from recent turns.
type FactExtractor interface {
	Extract(ctx context.Context, msgs []domain.TurnMessage, current *domain.UserMemory) (*memory.Result, error)
}

// Notifier pushes transient notifications to a user's connected clients.
type Notifier interface {
	Notify(userID string, n domain.Notification)
}

// Coordinator drives chat sessions: it runs the mode machine over every
// user turn, relays forwarded turns through the inference backend,
// synchronizes session state with the store, and triggers memory
// extraction after completed exchanges.
type Coordinator struct {
	repo           store.Repository
	streamer       Streamer
	extractor      FactExtractor
	notifier       Notifier
	recorder       chatlog.Recorder
	logger         *slog.Logger
	messageLimit   int
	extractTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

// Options tunes coordinator behavior.
type Options struct {
	// MessageLimit caps how many messages are loaded when a conversation
	// becomes active. Zero means 50.
	MessageLimit int
	// ExtractTimeout bounds a background extraction call. Zero means 30s.
	ExtractTimeout time.Duration
}

// NewCoordinator wires a coordinator. notifier and recorder may be nil.
func NewCoordinator(repo store.Repository, streamer Streamer, extractor FactExtractor, notifier Notifier, recorder chatlog.Recorder, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = chatlog.NoopRecorder{}
	}
	if opts.MessageLimit <= 0 {
		opts.MessageLimit = 50
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = defaultExtractTimeout
	}
	return &Coordinator{
		repo:           repo,
		streamer:       streamer,
		extractor:      extractor,
		notifier:       notifier,
		recorder:       recorder,
		logger:         logger,
		messageLimit:   opts.MessageLimit,
		extractTimeout: opts.ExtractTimeout,
		sessions:       make(map[string]*session),
	}
}

// SubmitTurn handles one user turn and returns the response as a sequence
// of events. The mode machine sees the turn first; consumed turns produce a
// canned reply without touching the inference backend. Forwarded turns
// stream deltas until the done marker, an error, or cancellation.
//
// Only one turn may stream per user at a time; a second concurrent turn
// fails with ErrBusy.
func (c *Coordinator) SubmitTurn(ctx context.Context, userID, conversationID, content string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		if userID == "" {
			yield(Event{}, ErrNoUser)
			return
		}
		content = strings.TrimSpace(content)
		if content == "" {
			yield(Event{}, ErrEmptyTurn)
			return
		}

		sess := c.session(ctx, userID)
		sess.mu.Lock()
		if sess.streaming {
			sess.mu.Unlock()
			yield(Event{}, ErrBusy)
			return
		}
		sess.touch()

		res := sess.machine.HandleTurn(content)
		if res.Outcome != modes.TurnForward {
			err := c.consumeTurn(ctx, sess, conversationID, content, res)
			sess.mu.Unlock()
			if err != nil {
				yield(Event{}, err)
				return
			}
			if res.Outcome == modes.TurnDeactivated {
				c.notify(userID, domain.Notification{Kind: domain.NotifyInfo, Text: res.Mode.DisplayName() + " deactivated"})
			}
			if !yield(Event{Word: res.Reply}, nil) {
				return
			}
			yield(Event{Done: true}, nil)
			return
		}

		convID, firstTurn, err := c.ensureConversation(ctx, sess, conversationID, content)
		if err != nil {
			sess.mu.Unlock()
			yield(Event{}, err)
			return
		}
		c.appendUser(ctx, sess, convID, content)
		if firstTurn {
			if err := c.repo.RenameConversation(ctx, convID, domain.DeriveTitle(content)); err != nil {
				c.logger.Warn("failed to set conversation title", "conversation_id", convID, "error", err)
			}
		}

		req := stream.TurnRequest{
			Messages:       domain.TurnHistory(sess.messages),
			UserName:       sess.displayName(),
			ConversationID: convID,
			UserMemory:     sess.memory,
			ActiveMode:     string(sess.machine.Active()),
		}
		streamCtx, cancel := context.WithCancelCause(ctx)
		sess.streaming = true
		sess.cancel = cancel
		sess.mu.Unlock()

		var b strings.Builder
		var streamErr error
		done := false
		clientGone := false
		for ev, err := range c.streamer.OpenTurn(streamCtx, req) {
			if err != nil {
				streamErr = err
				break
			}
			if ev.Done {
				done = true
				break
			}
			b.WriteString(ev.Word)
			if !yield(Event{Word: ev.Word}, nil) {
				clientGone = true
				cancel(errStopRequested)
				break
			}
		}
		cancel(nil)

		partial := b.String()
		stopped := streamErr != nil &&
			(errors.Is(streamErr, errStopRequested) || errors.Is(streamErr, context.Canceled))

		sess.mu.Lock()
		sess.streaming = false
		sess.cancel = nil
		sess.touch()

		switch {
		case done:
			var history []domain.TurnMessage
			if partial != "" {
				c.appendAssistant(ctx, sess, convID, partial, false)
				history = domain.TurnHistory(sess.messages)
			}
			sess.mu.Unlock()
			if history != nil {
				go c.runExtraction(userID, sess, history)
			}
			yield(Event{Done: true}, nil)
		case stopped || clientGone:
			if partial != "" {
				c.appendAssistant(ctx, sess, convID, partial, true)
			}
			sess.mu.Unlock()
			if !clientGone {
				yield(Event{Done: true, Stopped: true}, nil)
			}
		default:
			// Stream error. Partial content stays visible in session state
			// but is not persisted.
			if partial != "" && sess.conversationID == convID {
				sess.messages = append(sess.messages, domain.Message{
					ConversationID: convID,
					UserID:         userID,
					Role:           domain.RoleAssistant,
					Content:        partial,
					Timestamp:      time.Now(),
				})
			}
			sess.mu.Unlock()
			yield(Event{}, streamErr)
		}
	}
}

// StopStreaming cancels the user's in-flight response. Returns false when
// nothing was streaming.
func (c *Coordinator) StopStreaming(userID string) bool {
	c.mu.Lock()
	sess, ok := c.sessions[userID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.streaming || sess.cancel == nil {
		return false
	}
	sess.cancel(errStopRequested)
	return true
}

// SelectMode toggles or switches the active mode and returns the mode that
// is active afterwards.
func (c *Coordinator) SelectMode(ctx context.Context, userID string, mode modes.Mode) (modes.Mode, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	if !mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	sess := c.session(ctx, userID)
	sess.mu.Lock()
	from, to := sess.machine.Select(mode)
	sess.touch()
	sess.mu.Unlock()

	c.recorder.Log(chatlog.Event{
		UserID:         userID,
		ConversationID: sess.conversationID,
		EventType:      "mode_change",
		Meta:           map[string]any{"from": string(from), "to": string(to)},
	})
	switch {
	case to != modes.ModeNone:
		c.notify(userID, domain.Notification{Kind: domain.NotifyInfo, Text: to.DisplayName() + " activated"})
	case from != modes.ModeNone:
		c.notify(userID, domain.Notification{Kind: domain.NotifyInfo, Text: from.DisplayName() + " deactivated"})
	}
	return to, nil
}

// ActiveMode reports the user's currently active mode.
func (c *Coordinator) ActiveMode(ctx context.Context, userID string) modes.Mode {
	sess := c.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.machine.Active()
}

// SelectConversation makes a conversation active and returns its messages.
// An in-flight stream is stopped first.
func (c *Coordinator) SelectConversation(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	if userID == "" {
		return nil, ErrNoUser
	}
	c.StopStreaming(userID)

	msgs, err := c.repo.ListMessages(ctx, conversationID, c.messageLimit)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	sess := c.session(ctx, userID)
	sess.mu.Lock()
	sess.conversationID = conversationID
	sess.messages = msgs
	sess.touch()
	sess.mu.Unlock()
	return msgs, nil
}

// NewConversation creates an empty conversation and makes it active.
func (c *Coordinator) NewConversation(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	c.StopStreaming(userID)

	id, err := c.repo.CreateConversation(ctx, userID, domain.DefaultConversationTitle)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	sess := c.session(ctx, userID)
	sess.mu.Lock()
	sess.conversationID = id
	sess.messages = nil
	sess.touch()
	sess.mu.Unlock()
	return id, nil
}

// DeleteConversation deletes a conversation and clears it from session
// state when it was active.
func (c *Coordinator) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if userID == "" {
		return ErrNoUser
	}
	sess := c.session(ctx, userID)
	sess.mu.Lock()
	active := sess.conversationID == conversationID
	sess.mu.Unlock()
	if active {
		c.StopStreaming(userID)
	}

	if err := c.repo.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}

	sess.mu.Lock()
	if sess.conversationID == conversationID {
		sess.conversationID = ""
		sess.messages = nil
	}
	sess.touch()
	sess.mu.Unlock()
	return nil
}

// Memory returns the user's current in-memory memory snapshot, which may be
// fresher than the store while an extraction write is in flight.
func (c *Coordinator) Memory(ctx context.Context, userID string) *domain.UserMemory {
	sess := c.session(ctx, userID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.memory
}

// consumeTurn records a mode-machine exchange: the user's turn plus the
// canned reply, both appended to session state and persisted. Called with
// sess.mu held.
func (c *Coordinator) consumeTurn(ctx context.Context, sess *session, conversationID, content string, res modes.TurnResult) error {
	convID, firstTurn, err := c.ensureConversation(ctx, sess, conversationID, content)
	if err != nil {
		return err
	}
	c.appendUser(ctx, sess, convID, content)
	if firstTurn {
		if err := c.repo.RenameConversation(ctx, convID, domain.DeriveTitle(content)); err != nil {
			c.logger.Warn("failed to set conversation title", "conversation_id", convID, "error", err)
		}
	}
	c.appendAssistant(ctx, sess, convID, res.Reply, false)
	return nil
}

// ensureConversation resolves the turn's target conversation, creating one
// titled from the opening turn when none is active. firstTurn reports that
// the target was a pre-existing conversation with no messages yet. Called
// with sess.mu held.
func (c *Coordinator) ensureConversation(ctx context.Context, sess *session, conversationID, content string) (string, bool, error) {
	if conversationID != "" && conversationID != sess.conversationID {
		msgs, err := c.repo.ListMessages(ctx, conversationID, c.messageLimit)
		if err != nil {
			return "", false, fmt.Errorf("load conversation: %w", err)
		}
		sess.conversationID = conversationID
		sess.messages = msgs
	}
	if sess.conversationID == "" {
		id, err := c.repo.CreateConversation(ctx, sess.userID, domain.DeriveTitle(content))
		if err != nil {
			return "", false, fmt.Errorf("create conversation: %w", err)
		}
		sess.conversationID = id
		sess.messages = nil
		return id, false, nil
	}
	return sess.conversationID, len(sess.messages) == 0, nil
}

// appendUser persists a user turn and appends it to session state. The
// append is optimistic: a persistence failure keeps the in-memory entry.
// Called with sess.mu held.
func (c *Coordinator) appendUser(ctx context.Context, sess *session, convID, content string) {
	msg := domain.Message{
		ConversationID: convID,
		UserID:         sess.userID,
		Role:           domain.RoleUser,
		Content:        content,
		Timestamp:      time.Now(),
	}
	id, err := c.repo.AppendMessage(ctx, convID, sess.userID, domain.RoleUser, content)
	if err != nil {
		c.logger.Warn("failed to persist user message", "conversation_id", convID, "error", err)
	} else {
		msg.ID = id
	}
	sess.messages = append(sess.messages, msg)
	c.recorder.Log(chatlog.Event{
		UserID:         sess.userID,
		ConversationID: convID,
		Role:           domain.RoleUser,
		EventType:      "message",
		Content:        content,
	})
}

// appendAssistant persists an assistant reply and appends it to session
// state. A stopped reply is committed unmarked first, then amended with the
// cancellation marker; a failed amendment leaves the unmarked reply. The
// parent context may already be cancelled when a stream was stopped, so
// persistence runs detached from it. Called with sess.mu held.
func (c *Coordinator) appendAssistant(ctx context.Context, sess *session, convID, content string, stoppedMark bool) {
	ctx = context.WithoutCancel(ctx)
	final := content
	if stoppedMark {
		final = content + domain.StoppedSuffix
	}
	msg := domain.Message{
		ConversationID: convID,
		UserID:         sess.userID,
		Role:           domain.RoleAssistant,
		Content:        final,
		Timestamp:      time.Now(),
	}
	id, err := c.repo.AppendMessage(ctx, convID, sess.userID, domain.RoleAssistant, content)
	if err != nil {
		c.logger.Warn("failed to persist assistant message", "conversation_id", convID, "error", err)
	} else {
		msg.ID = id
		if stoppedMark {
			if err := c.repo.AmendMessageContent(ctx, id, final); err != nil {
				c.logger.Warn("failed to mark message as stopped", "message_id", id, "error", err)
			}
		}
	}
	if sess.conversationID == convID {
		sess.messages = append(sess.messages, msg)
	}
	c.recorder.Log(chatlog.Event{
		UserID:         sess.userID,
		ConversationID: convID,
		Role:           domain.RoleAssistant,
		EventType:      "message",
		Content:        final,
	})
}

// runExtraction distills facts from a completed exchange in the background.
// Failures are logged and never surfaced to the chat turn.
func (c *Coordinator) runExtraction(userID string, sess *session, history []domain.TurnMessage) {
	if c.extractor == nil || len(history) < memory.MinMessages {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.extractTimeout)
	defer cancel()

	sess.mu.Lock()
	current := sess.memory
	sess.mu.Unlock()

	result, err := c.extractor.Extract(ctx, memory.Window(history), current)
	if err != nil {
		c.logger.Warn("memory extraction failed", "user_id", userID, "error", err)
		return
	}
	if len(result.ExtractedFacts) == 0 {
		return
	}

	var prevName string
	if current != nil {
		prevName = current.PreferredName
	}
	updated := result.UpdatedMemory
	sess.mu.Lock()
	sess.memory = &updated
	sess.mu.Unlock()

	if err := c.repo.UpsertMemory(ctx, userID, updated); err != nil {
		c.logger.Warn("failed to persist memory", "user_id", userID, "error", err)
	}
	if name := updated.PreferredName; name != "" && name != prevName {
		c.notify(userID, domain.Notification{Kind: domain.NotifySuccess, Text: fmt.Sprintf("I'll remember to call you %s!", name)})
	}
}

func (c *Coordinator) notify(userID string, n domain.Notification) {
	if c.notifier == nil {
		return
	}
	c.notifier.Notify(userID, n)
}

func (s *session) displayName() string {
	if s.memory != nil {
		return s.memory.DisplayName(s.username)
	}
	return domain.UserMemory{}.DisplayName(s.username)
}
