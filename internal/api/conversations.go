package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
	"github.com/sameerkhn8107-ui/azahar/internal/identity"
)

// HandleListConversations returns the user's conversations, most recently
// active first.
func (h *Handler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list conversations", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	JSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// HandleCreateConversation starts a fresh conversation and makes it the
// user's active one.
func (h *Handler) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := h.coordinator.NewConversation(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to create conversation", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"id": id, "title": domain.DefaultConversationTitle})
}

// HandleListMessages makes a conversation active and returns its messages in
// chronological order.
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	if !h.ownsConversation(w, r, userID, conversationID) {
		return
	}

	msgs, err := h.coordinator.SelectConversation(r.Context(), userID, conversationID)
	if err != nil {
		h.logger.Error("failed to load messages", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleRenameConversation updates a conversation's title.
func (h *Handler) HandleRenameConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}

	if !h.ownsConversation(w, r, userID, conversationID) {
		return
	}
	if err := h.repo.RenameConversation(r.Context(), conversationID, req.Title); err != nil {
		h.logger.Error("failed to rename conversation", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to rename conversation")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"id": conversationID, "title": req.Title})
}

// HandleDeleteConversation removes a conversation and its messages.
func (h *Handler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conversationID := chi.URLParam(r, "conversationID")

	if !h.ownsConversation(w, r, userID, conversationID) {
		return
	}
	if err := h.coordinator.DeleteConversation(r.Context(), userID, conversationID); err != nil {
		h.logger.Error("failed to delete conversation", "conversation_id", conversationID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownsConversation verifies the conversation exists and belongs to the user,
// writing the error response itself when it does not.
func (h *Handler) ownsConversation(w http.ResponseWriter, r *http.Request, userID, conversationID string) bool {
	if conversationID == "" {
		Error(w, http.StatusBadRequest, "conversation id is required")
		return false
	}
	convs, err := h.repo.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to check conversation ownership", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return false
	}
	for _, c := range convs {
		if c.ID == conversationID {
			return true
		}
	}
	Error(w, http.StatusNotFound, "conversation not found")
	return false
}
