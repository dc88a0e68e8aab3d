package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sameerkhn8107-ui/azahar/internal/identity"
	"github.com/sameerkhn8107-ui/azahar/internal/session"
)

// maxChatBodySize bounds a chat request body.
const maxChatBodySize = 64 * 1024

// ChatStreamRequest is the body of a chat turn request.
type ChatStreamRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// sseFrame is the wire shape of one relayed stream frame. Exactly one of
// Word, Done, or Error is meaningful per frame.
type sseFrame struct {
	Word    string `json:"word,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Stopped bool   `json:"stopped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleChatStream accepts a user turn and relays the coordinator's response
// events to the client as SSE frames.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID != "" && !h.ownsConversation(w, r, userID, req.ConversationID) {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("chat turn request",
		"user_id", userID,
		"conversation_id", req.ConversationID,
		"message_length", len(req.Message),
	)

	for ev, err := range h.coordinator.SubmitTurn(r.Context(), userID, req.ConversationID, req.Message) {
		if err != nil {
			h.logger.Warn("chat turn failed", "user_id", userID, "error", err)
			if writeErr := writeFrame(w, sseFrame{Error: turnErrorMessage(err)}); writeErr != nil {
				return
			}
			flusher.Flush()
			return
		}
		frame := sseFrame{Word: ev.Word, Done: ev.Done, Stopped: ev.Stopped}
		if err := writeFrame(w, frame); err != nil {
			h.logger.Debug("chat client went away mid-stream", "user_id", userID)
			return
		}
		flusher.Flush()
	}
}

// HandleStopStream cancels the user's in-flight response.
func (h *Handler) HandleStopStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stopped := h.coordinator.StopStreaming(userID)
	JSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// turnErrorMessage maps coordinator errors to client-safe messages.
func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "a response is already streaming"
	case errors.Is(err, session.ErrEmptyTurn):
		return "message is required"
	default:
		return "failed to generate response"
	}
}

func writeFrame(w io.Writer, f sseFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
