package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/registry"
	"github.com/rs/zerolog"
)

// AdminHandler exposes system-scoped administrative operations. The
// tier override is normally driven by the billing webhook collaborator;
// this endpoint is the manual escape hatch for system admins.
type AdminHandler struct {
	registry *registry.Service
	logger   zerolog.Logger
}

func NewAdminHandler(registry *registry.Service, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{registry: registry, logger: logger}
}

func (h *AdminHandler) SetUserTier(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromRequest(r)
	if !ok {
		writeError(w, h.logger, models.ErrUnauthenticated)
		return
	}

	var payload struct {
		Tier models.SubscriptionTier `json:"subscription_tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	user, err := h.registry.SetUserTier(r.Context(), sess, mux.Vars(r)["userID"], payload.Tier)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
