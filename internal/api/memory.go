package api

import (
	"net/http"

	"github.com/sameerkhn8107-ui/azahar/internal/domain"
	"github.com/sameerkhn8107-ui/azahar/internal/identity"
)

// HandleGetMemory returns what the assistant remembers about the user. The
// coordinator's in-memory snapshot wins over the store when both exist, so
// a just-finished extraction is visible immediately.
func (h *Handler) HandleGetMemory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	mem := h.coordinator.Memory(r.Context(), userID)
	if mem == nil {
		var err error
		mem, err = h.repo.GetMemory(r.Context(), userID)
		if err != nil {
			h.logger.Error("failed to load memory", "user_id", userID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to load memory")
			return
		}
	}
	if mem == nil {
		mem = &domain.UserMemory{}
	}
	JSON(w, http.StatusOK, map[string]any{"memory": mem})
}
