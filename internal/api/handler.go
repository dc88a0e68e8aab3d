// Package api provides HTTP handlers for the chat service API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sameerkhn8107-ui/azahar/internal/session"
	"github.com/sameerkhn8107-ui/azahar/internal/store"
)

// Handler provides common handler utilities and dependencies.
type Handler struct {
	repo        store.Repository
	coordinator *session.Coordinator
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewHandler creates a Handler with common dependencies.
func NewHandler(repo store.Repository, coordinator *session.Coordinator, rateLimiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:        repo,
		coordinator: coordinator,
		rateLimiter: rateLimiter,
		logger:      logger,
	}
}

// RegisterRoutes mounts all API routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat/stream", h.HandleChatStream)
		r.Post("/chat/stop", h.HandleStopStream)

		r.Get("/mode", h.HandleGetMode)
		r.Post("/mode", h.HandleSelectMode)

		r.Get("/memory", h.HandleGetMemory)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.HandleListConversations)
			r.Post("/", h.HandleCreateConversation)
			r.Get("/{conversationID}/messages", h.HandleListMessages)
			r.Patch("/{conversationID}", h.HandleRenameConversation)
			r.Delete("/{conversationID}", h.HandleDeleteConversation)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
