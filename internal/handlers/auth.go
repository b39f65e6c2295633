package handlers

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/identity"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/rs/zerolog"
)

type AuthHandler struct {
	store      repository.Store
	issuer     identity.Issuer
	sessionTTL time.Duration
	logger     zerolog.Logger
}

func NewAuthHandler(store repository.Store, issuer identity.Issuer, sessionTTL time.Duration, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		store:      store,
		issuer:     issuer,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = models.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)

	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, h.logger, &models.ValidationError{Field: "email", Reason: "not a valid email address"})
		return
	}
	if len(req.Password) < 8 {
		writeError(w, h.logger, &models.ValidationError{Field: "password", Reason: "must be at least 8 characters"})
		return
	}

	user, err := h.store.Users().CreateUser(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.store.Users().AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		// Invalid email and invalid password are indistinguishable to
		// the caller.
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := h.issuer.IssueCredential(user.ID, h.sessionTTL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Me returns the resolved session view for the current credential.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session, ok := authz.SessionFromRequest(r)
	if !ok {
		writeError(w, h.logger, models.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		User          models.User `json:"user"`
		IsProUser     bool        `json:"is_pro_user"`
		IsSystemAdmin bool        `json:"is_system_admin"`
	}{
		User:          session.User,
		IsProUser:     session.IsProUser,
		IsSystemAdmin: session.IsSystemAdmin,
	})
}
