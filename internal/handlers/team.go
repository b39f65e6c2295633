package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/registry"
	"github.com/promptforge/promptforge-api/internal/session"
	"github.com/rs/zerolog"
)

type TeamHandler struct {
	resolver *session.Resolver
	registry *registry.Service
	logger   zerolog.Logger
}

func NewTeamHandler(resolver *session.Resolver, registry *registry.Service, logger zerolog.Logger) *TeamHandler {
	return &TeamHandler{resolver: resolver, registry: registry, logger: logger}
}

func (h *TeamHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromRequest(r)
	if !ok {
		writeError(w, h.logger, models.ErrUnauthenticated)
		return
	}

	var payload struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	team, err := h.registry.CreateTeam(r.Context(), sess, payload.Name, payload.Slug)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (h *TeamHandler) ListTeams(w http.ResponseWriter, r *http.Request) {
	sess, ok := authz.SessionFromRequest(r)
	if !ok {
		writeError(w, h.logger, models.ErrUnauthenticated)
		return
	}
	teams, err := h.registry.ListTeams(r.Context(), sess)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if teams == nil {
		teams = []models.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *TeamHandler) GetTeam(w http.ResponseWriter, r *http.Request) {
	tc, err := h.teamContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Team models.Team     `json:"team"`
		Role models.TeamRole `json:"role"`
	}{Team: tc.Team, Role: tc.Role})
}

func (h *TeamHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	team, err := h.registry.UpdateTeam(r.Context(), tc, payload.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (h *TeamHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.registry.DeleteTeam(r.Context(), tc); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TeamHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	tc, err := h.teamContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	members, err := h.registry.ListMembers(r.Context(), tc)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *TeamHandler) AddMember(w http.ResponseWriter, r *http.Request) {
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

	membership, err := h.registry.AddMember(r.Context(), tc, payload.Email, payload.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, membership)
}

func (h *TeamHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var payload struct {
		Role models.TeamRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}

	membership, err := h.registry.UpdateMemberRole(r.Context(), tc, mux.Vars(r)["userID"], payload.Role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, membership)
}

func (h *TeamHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	tc, err := h.adminContext(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.registry.RemoveMember(r.Context(), tc, mux.Vars(r)["userID"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TeamHandler) teamContext(r *http.Request) (authz.TeamContext, error) {
	sess, ok := authz.SessionFromRequest(r)
	if !ok {
		return authz.TeamContext{}, models.ErrUnauthenticated
	}
	return h.resolver.ResolveTeamContext(r.Context(), sess, mux.Vars(r)["slug"])
}

func (h *TeamHandler) adminContext(r *http.Request) (authz.TeamContext, error) {
	sess, ok := authz.SessionFromRequest(r)
	if !ok {
		return authz.TeamContext{}, models.ErrUnauthenticated
	}
	return h.resolver.RequireTeamAdminContext(r.Context(), sess, mux.Vars(r)["slug"])
}
