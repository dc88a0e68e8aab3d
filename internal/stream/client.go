// Package stream implements the client side of the inference backend's
// token-streaming turn protocol.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
)

// ErrStreamError is returned when the backend reports a failure inside the
// stream via an error frame.
var ErrStreamError = errors.New("inference stream returned error")

// turnPath is the turn endpoint on the inference backend.
const turnPath = "/api/chat/stream"

// framePrefix marks a payload line in the response stream.
const framePrefix = "data: "

// maxFrameSize bounds a single stream frame.
const maxFrameSize = 1 << 20 // 1MB

// TurnRequest is the body of one chat-turn request. It carries the full
// visible turn history plus the context the backend needs to frame the
// persona and personalization.
type TurnRequest struct {
	Messages       []domain.TurnMessage `json:"messages"`
	UserName       string               `json:"user_name"`
	ConversationID string               `json:"conversation_id,omitempty"`
	UserMemory     *domain.UserMemory   `json:"user_memory,omitempty"`
	ActiveMode     string               `json:"active_mode,omitempty"`
}

// Event is one decoded frame from the turn stream: either a content delta
// (Word) or the terminal success marker (Done).
type Event struct {
	Word string
	Done bool
}

// frame mirrors the wire encoding of a single stream frame. Exactly one
// field is set per frame.
type frame struct {
	Word  string `json:"word,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// Client talks to the inference backend's streaming turn endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a turn-stream client. readTimeout bounds the whole
// stream; zero means no timeout (streams can be long-lived).
func NewClient(baseURL string, readTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: readTimeout},
		logger:     logger,
	}
}

// OpenTurn issues one chat-turn request and yields decoded frames in receipt
// order. The iterator terminates on the done marker, an error frame, a
// transport failure, or context cancellation; cancelling ctx aborts the
// in-flight request and releases the connection between any two frames.
//
// Malformed frames are skipped without aborting the stream so unknown future
// frame types can be introduced server-side.
func (c *Client) OpenTurn(ctx context.Context, req TurnRequest) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		body, err := json.Marshal(req)
		if err != nil {
			yield(Event{}, fmt.Errorf("encode turn request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+turnPath, bytes.NewReader(body))
		if err != nil {
			yield(Event{}, fmt.Errorf("build turn request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(Event{}, fmt.Errorf("open turn stream: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("failed to close turn stream body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			yield(Event{}, fmt.Errorf("turn stream rejected: status %d", resp.StatusCode))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, framePrefix) {
				continue
			}

			var f frame
			if err := json.Unmarshal([]byte(line[len(framePrefix):]), &f); err != nil {
				// Forward-compatibility: drop unparseable frames silently.
				c.logger.Debug("skipping malformed stream frame", "error", err)
				continue
			}

			switch {
			case f.Error != "":
				yield(Event{}, fmt.Errorf("%w: %s", ErrStreamError, f.Error))
				return
			case f.Done:
				yield(Event{Done: true}, nil)
				return
			case f.Word != "":
				if !yield(Event{Word: f.Word}, nil) {
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				yield(Event{}, fmt.Errorf("turn stream cancelled: %w", context.Cause(ctx)))
				return
			}
			yield(Event{}, fmt.Errorf("read turn stream: %w", err))
			return
		}

		// The stream ends when the transport closes; treat a clean close
		// without an explicit marker as completion.
		yield(Event{Done: true}, nil)
	}
}
