package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sameerkhn8107-ui/azahar/internal/identity"
	"github.com/sameerkhn8107-ui/azahar/internal/modes"
	"github.com/sameerkhn8107-ui/azahar/internal/session"
)

// HandleGetMode reports the user's currently active mode.
func (h *Handler) HandleGetMode(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	active := h.coordinator.ActiveMode(r.Context(), userID)
	JSON(w, http.StatusOK, map[string]string{"active_mode": string(active)})
}

// HandleSelectMode toggles or switches the active mode and returns the mode
// active afterwards.
func (h *Handler) HandleSelectMode(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	active, err := h.coordinator.SelectMode(r.Context(), userID, modes.Mode(req.Mode))
	if err != nil {
		if errors.Is(err, session.ErrInvalidMode) {
			Error(w, http.StatusBadRequest, "unknown mode")
			return
		}
		h.logger.Error("failed to select mode", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to select mode")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"active_mode": string(active)})
}
