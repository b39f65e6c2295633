package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/promptforge/promptforge-api/internal/handlers"
	"github.com/promptforge/promptforge-api/internal/identity"
	"github.com/promptforge/promptforge-api/internal/ledger"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/registry"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/promptforge/promptforge-api/internal/routes"
	"github.com/promptforge/promptforge-api/internal/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiTest struct {
	t      *testing.T
	router http.Handler
	store  *repository.MemoryStore
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	logger := zerolog.Nop()
	store := repository.NewMemoryStore()
	provider := identity.NewJWTProvider("test-secret")
	resolver := session.NewResolver(provider, store, logger)
	registrySvc := registry.NewService(store, logger)
	ledgerSvc := ledger.NewService(store, nil, "https://app.promptforge.dev", logger)

	router := routes.NewRouter(
		resolver,
		handlers.NewAuthHandler(store, provider, time.Hour, logger),
		handlers.NewTeamHandler(resolver, registrySvc, logger),
		handlers.NewInvitationHandler(resolver, ledgerSvc, logger),
		handlers.NewAdminHandler(registrySvc, logger),
	)
	return &apiTest{t: t, router: router, store: store}
}

func (a *apiTest) do(method, path, token string, payload any) *httptest.ResponseRecorder {
	a.t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(a.t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *apiTest) decode(rec *httptest.ResponseRecorder, out any) {
	a.t.Helper()
	require.NoError(a.t, json.NewDecoder(rec.Body).Decode(out))
}

// signup registers a user and returns a logged-in bearer token.
func (a *apiTest) signup(email, password string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/signup", "", map[string]string{
		"email": email, "name": "Test User", "password": password,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/login", "", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	a.decode(rec, &resp)
	return resp.Token
}

func (a *apiTest) upgrade(email string) {
	a.t.Helper()
	user, err := a.store.Users().GetUserByEmail(context.Background(), email)
	require.NoError(a.t, err)
	_, err = a.store.Users().SetSubscriptionTier(context.Background(), user.ID, models.TierPro)
	require.NoError(a.t, err)
}

func TestSignupAndLogin(t *testing.T) {
	api := newAPITest(t)

	rec := api.do(http.MethodPost, "/api/signup", "", map[string]string{
		"email": "alice@example.com", "name": "Alice", "password": "correct horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	// The password hash never leaves the server.
	assert.NotContains(t, rec.Body.String(), "password")

	rec = api.do(http.MethodPost, "/api/signup", "", map[string]string{
		"email": "ALICE@example.com", "name": "Alice Again", "password": "correct horse",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/signup", "", map[string]string{
		"email": "short@example.com", "name": "S", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Wrong password and unknown email produce identical responses.
	rec = api.do(http.MethodPost, "/api/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong horse",
	})
	wrongPassword := rec.Body.String()
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(http.MethodPost, "/api/login", "", map[string]string{
		"email": "nobody@example.com", "password": "correct horse",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, wrongPassword, rec.Body.String())
}

func TestMe(t *testing.T) {
	api := newAPITest(t)
	token := api.signup("alice@example.com", "correct horse")

	rec := api.do(http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		User      models.User `json:"user"`
		IsProUser bool        `json:"is_pro_user"`
	}
	api.decode(rec, &resp)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.False(t, resp.IsProUser)

	rec = api.do(http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(http.MethodGet, "/api/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTeamEndpoints(t *testing.T) {
	api := newAPITest(t)
	owner := api.signup("owner@example.com", "correct horse")
	outsider := api.signup("outsider@example.com", "correct horse")

	// Team creation is Pro-gated.
	rec := api.do(http.MethodPost, "/api/teams", owner, map[string]string{"name": "Acme", "slug": "acme"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	api.upgrade("owner@example.com")
	rec = api.do(http.MethodPost, "/api/teams", owner, map[string]string{"name": "Acme", "slug": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(http.MethodGet, "/api/teams", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var teams []models.Team
	api.decode(rec, &teams)
	require.Len(t, teams, 1)

	rec = api.do(http.MethodGet, "/api/teams/acme", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Non-members and nonexistent teams are indistinguishable on member
	// routes.
	rec = api.do(http.MethodGet, "/api/teams/acme", outsider, nil)
	notMember := rec.Code
	rec = api.do(http.MethodGet, "/api/teams/no-such-team", outsider, nil)
	assert.Equal(t, http.StatusForbidden, notMember)
	assert.Equal(t, notMember, rec.Code)

	// Admin routes name the missing team outright.
	rec = api.do(http.MethodPut, "/api/teams/no-such-team", owner, map[string]string{"name": "Renamed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodPut, "/api/teams/acme", owner, map[string]string{"name": "Acme Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	var team models.Team
	api.decode(rec, &team)
	assert.Equal(t, "Acme Renamed", team.Name)

	rec = api.do(http.MethodDelete, "/api/teams/acme", owner, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(http.MethodGet, "/api/teams/acme", owner, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMemberEndpoints(t *testing.T) {
	api := newAPITest(t)
	owner := api.signup("owner@example.com", "correct horse")
	bobToken := api.signup("bob@example.com", "correct horse")
	api.upgrade("owner@example.com")

	rec := api.do(http.MethodPost, "/api/teams", owner, map[string]string{"name": "Acme", "slug": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodPost, "/api/teams/acme/members", owner, map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var membership models.Membership
	api.decode(rec, &membership)
	assert.Equal(t, models.TeamRoleMember, membership.Role)

	rec = api.do(http.MethodPost, "/api/teams/acme/members", owner, map[string]string{"email": "bob@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Members can list, but mutation is admin-only.
	rec = api.do(http.MethodGet, "/api/teams/acme/members", bobToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodPost, "/api/teams/acme/members", bobToken, map[string]string{"email": "carol@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	bob, err := api.store.Users().GetUserByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)
	ownerUser, err := api.store.Users().GetUserByEmail(context.Background(), "owner@example.com")
	require.NoError(t, err)

	rec = api.do(http.MethodPut, fmt.Sprintf("/api/teams/acme/members/%s", bob.ID), owner, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)

	// With a second admin in place the owner can step down, but the team
	// can never lose its last admin.
	rec = api.do(http.MethodPut, fmt.Sprintf("/api/teams/acme/members/%s", ownerUser.ID), owner, map[string]string{"role": "member"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodDelete, fmt.Sprintf("/api/teams/acme/members/%s", bob.ID), bobToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodDelete, fmt.Sprintf("/api/teams/acme/members/%s", ownerUser.ID), bobToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInvitationEndpoints(t *testing.T) {
	api := newAPITest(t)
	owner := api.signup("owner@example.com", "correct horse")
	bobToken := api.signup("bob@example.com", "correct horse")
	malloryToken := api.signup("mallory@example.com", "correct horse")
	api.upgrade("owner@example.com")

	rec := api.do(http.MethodPost, "/api/teams", owner, map[string]string{"name": "Acme", "slug": "acme"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodPost, "/api/teams/acme/invitations", owner, map[string]string{"email": "bob@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Invitation models.Invitation `json:"invitation"`
		AcceptURL  string            `json:"accept_url"`
	}
	api.decode(rec, &created)
	require.NotEmpty(t, created.AcceptURL)
	// The stored hash is never part of the response payload.
	assert.Empty(t, created.Invitation.TokenHash)

	token := created.AcceptURL[len("https://app.promptforge.dev/invitations/"):]

	rec = api.do(http.MethodPost, "/api/teams/acme/invitations", owner, map[string]string{"email": "bob@example.com"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Preview is public; accept needs the invited user's session.
	rec = api.do(http.MethodGet, "/invitations/"+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview ledger.Preview
	api.decode(rec, &preview)
	assert.Equal(t, "Acme", preview.TeamName)
	assert.Equal(t, models.InvitationPending, preview.Status)

	rec = api.do(http.MethodPost, "/invitations/"+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = api.do(http.MethodPost, "/invitations/"+token, malloryToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, "/invitations/"+token, bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var membership models.Membership
	api.decode(rec, &membership)
	assert.Equal(t, models.TeamRoleMember, membership.Role)

	// The token is spent.
	rec = api.do(http.MethodPost, "/invitations/"+token, bobToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/invitations/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Invitation management is admin-only.
	rec = api.do(http.MethodGet, "/api/teams/acme/invitations", bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = api.do(http.MethodGet, "/api/teams/acme/invitations", owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodDelete, "/api/teams/acme/invitations/"+created.Invitation.ID, owner, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminTierEndpoint(t *testing.T) {
	api := newAPITest(t)
	userToken := api.signup("alice@example.com", "correct horse")
	alice, err := api.store.Users().GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)

	provider := identity.NewJWTProvider("test-secret")
	sysAdmin := models.User{
		ID:         uuid.NewString(),
		Email:      "root@example.com",
		GlobalRole: models.RoleSystemAdmin,
		Tier:       models.TierFree,
	}
	api.store.SeedUser(sysAdmin)
	adminToken, err := provider.IssueCredential(sysAdmin.ID, time.Hour)
	require.NoError(t, err)

	// Standard users cannot reach the override, even for themselves.
	rec := api.do(http.MethodPut, "/api/admin/users/"+alice.ID+"/tier", userToken, map[string]string{"subscription_tier": "pro"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPut, "/api/admin/users/"+alice.ID+"/tier", adminToken, map[string]string{"subscription_tier": "pro"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.User
	api.decode(rec, &updated)
	assert.Equal(t, models.TierPro, updated.Tier)

	// The next request sees the new tier with no re-login.
	rec = api.do(http.MethodPost, "/api/teams", userToken, map[string]string{"name": "Acme", "slug": "acme"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodPut, "/api/admin/users/"+alice.ID+"/tier", adminToken, map[string]string{"subscription_tier": "platinum"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
