package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/ledger"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/session"
	"github.com/rs/zerolog"
)

type InvitationHandler struct {
	resolver *session.Resolver
	ledger   *ledger.Service
	logger   zerolog.Logger
}

func NewInvitationHandler(resolver *session.Resolver, ledger *ledger.Service, logger zerolog.Logger) *InvitationHandler {
	return &InvitationHandler{resolver: resolver, ledger: ledger, logger: logger}
}

func (h *InvitationHandler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var payload struct {
		Email string          `json:"email"`
		Role  models.TeamRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if payload.Role == "" {
		payload.Role = models.TeamRoleMember
	}

	invitation, acceptURL, err := h.ledger.CreateInvitation(r.Context(), tc, payload.Email, payload.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Invitation models.Invitation `json:"invitation"`
		AcceptURL  string            `json:"accept_url"`
	}{Invitation: invitation, AcceptURL: acceptURL})
}

func (h *InvitationHandler) ListInvitations(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	invitations, err := h.ledger.ListInvitations(r.Context(), tc)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if invitations == nil {
		invitations = []models.Invitation{}
	}
	writeJSON(w, http.StatusOK, invitations)
}

func (h *InvitationHandler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.ledger.CancelInvitation(r.Context(), tc, mux.Vars(r)["invitationID"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewInvitation shows the invitation details for a raw token
// without consuming it. No authentication is required to view.
func (h *InvitationHandler) PreviewInvitation(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	preview, err := h.ledger.LookupInvitation(r.Context(), token)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// AcceptInvitation performs the state transition. The caller must be
// authenticated and their email must match the invitation's.
func (h *InvitationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(mux.Vars(r)["token"])
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	credential, ok := session.BearerCredential(r)
	if !ok {
		writeError(w, h.logger, models.ErrUnauthenticated)
		return
	}
	sess, err := h.resolver.ResolveSession(r.Context(), credential)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	membership, err := h.ledger.AcceptInvitation(r.Context(), token, sess)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, membership)
}

func (h *InvitationHandler) adminContext(r *http.Request) (authz.TeamContext, error) {
	sess, ok := authz.SessionFromRequest(r)
	if !ok {
		return authz.TeamContext{}, models.ErrUnauthenticated
	}
	return h.resolver.RequireTeamAdminContext(r.Context(), sess, mux.Vars(r)["slug"])
}
