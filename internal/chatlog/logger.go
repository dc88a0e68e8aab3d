// Package chatlog provides asynchronous NDJSON logging of chat traffic,
// one file per user and conversation.
package chatlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one logged chat event line.
type Event struct {
	Timestamp      string         `json:"ts"`
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role,omitempty"`
	EventType      string         `json:"event_type"`
	Content        string         `json:"content,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`
}

// Recorder accepts chat events for logging. Implementations must never
// block the caller.
type Recorder interface {
	Log(event Event)
	Close() error
}

// NoopRecorder discards all events.
type NoopRecorder struct{}

// Log implements Recorder.
func (NoopRecorder) Log(Event) {}

// Close implements Recorder.
func (NoopRecorder) Close() error { return nil }

// Config controls the NDJSON logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger writes events to per-conversation NDJSON files from a single
// background goroutine. Events are dropped (with a warning) when the queue
// is full rather than blocking chat traffic.
type Logger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	files map[string]*os.File
}

// NewLogger creates and starts a conversation logger. When cfg.Enabled is
// false a NoopRecorder is returned instead.
func NewLogger(cfg Config, logger *slog.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return NoopRecorder{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create conversation log directory: %w", err)
	}

	l := &Logger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues an event. Non-blocking; drops when the queue is full.
func (l *Logger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID, "event_type", event.EventType)
	}
}

// Close stops the worker and closes all open files. Queued events are
// flushed first.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for key, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close conversation log %s: %w", key, err)
		}
		delete(l.files, key)
	}
	return firstErr
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.queue:
			l.write(event)
		case <-l.done:
			// Drain whatever is still queued before exiting.
			for {
				select {
				case event := <-l.queue:
					l.write(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(event Event) {
	f, err := l.file(event.UserID, event.ConversationID)
	if err != nil {
		l.logger.Warn("failed to open conversation log file", "error", err)
		return
	}

	line, err := json.Marshal(event)
	if err != nil {
		l.logger.Warn("failed to encode conversation log event", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("failed to write conversation log event", "error", err)
	}
}

func (l *Logger) file(userID, conversationID string) (*os.File, error) {
	if userID == "" {
		userID = "unknown"
	}
	if conversationID == "" {
		conversationID = "none"
	}
	key := userID + "/" + conversationID

	l.mu.Lock()
	defer l.mu.Unlock()

	if f, ok := l.files[key]; ok {
		return f, nil
	}

	dir := filepath.Join(l.cfg.Dir, userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create user log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, conversationID+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open conversation log file: %w", err)
	}
	l.files[key] = f
	return f, nil
}
