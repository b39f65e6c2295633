// Package session resolves inbound credentials into explicit,
// per-request context values: identity plus global flags, and for
// team-scoped routes the team and the caller's role in it.
package session

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/identity"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/rs/zerolog"
)

// Resolver is read-only and safe for concurrent use; it holds no
// per-request state and never caches role or tier between requests.
type Resolver struct {
	verifier identity.Verifier
	store    repository.Store
	logger   zerolog.Logger
}

func NewResolver(verifier identity.Verifier, store repository.Store, logger zerolog.Logger) *Resolver {
	return &Resolver{verifier: verifier, store: store, logger: logger}
}

// ResolveSession turns a raw credential into a resolved Context. The
// directory row is re-read on every call: a user deleted or downgraded
// after the credential was issued is caught here, not after a cache
// TTL.
func (r *Resolver) ResolveSession(ctx context.Context, credential string) (authz.Context, error) {
	userID, err := r.verifier.VerifyCredential(credential)
	if err != nil {
		return authz.Context{}, models.ErrUnauthenticated
	}
	user, err := r.store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return authz.Context{}, models.ErrUnauthenticated
		}
		return authz.Context{}, err
	}
	return authz.Context{
		User:          user,
		IsProUser:     user.IsProUser(),
		IsSystemAdmin: user.IsSystemAdmin(),
	}, nil
}

// ResolveTeamSession resolves the credential and the team scope in one
// step. "Team does not exist" and "not a member" both surface as
// ErrAccessDenied so non-members cannot probe for team slugs.
func (r *Resolver) ResolveTeamSession(ctx context.Context, credential, teamSlug string) (authz.TeamContext, error) {
	session, err := r.ResolveSession(ctx, credential)
	if err != nil {
		return authz.TeamContext{}, err
	}
	return r.ResolveTeamContext(ctx, session, teamSlug)
}

// RequireTeamAdmin is the stricter variant: the caller must hold the
// admin role in the team. A nonexistent team is reported as
// ErrTeamNotFound on this path; admin routes are not subject to the
// slug-enumeration concern that merges the member-route errors.
func (r *Resolver) RequireTeamAdmin(ctx context.Context, credential, teamSlug string) (authz.TeamContext, error) {
	session, err := r.ResolveSession(ctx, credential)
	if err != nil {
		return authz.TeamContext{}, err
	}
	return r.RequireTeamAdminContext(ctx, session, teamSlug)
}

// ResolveTeamContext attaches the team scope to an already-resolved
// session.
func (r *Resolver) ResolveTeamContext(ctx context.Context, session authz.Context, teamSlug string) (authz.TeamContext, error) {
	team, membership, err := r.lookupTeamMembership(ctx, session, teamSlug)
	if err != nil {
		if errors.Is(err, models.ErrTeamNotFound) || errors.Is(err, models.ErrMemberNotFound) {
			return authz.TeamContext{}, models.ErrAccessDenied
		}
		return authz.TeamContext{}, err
	}
	return authz.TeamContext{Context: session, Team: team, Role: membership.Role}, nil
}

// RequireTeamAdminContext is ResolveTeamContext plus the admin-role
// requirement.
func (r *Resolver) RequireTeamAdminContext(ctx context.Context, session authz.Context, teamSlug string) (authz.TeamContext, error) {
	team, membership, err := r.lookupTeamMembership(ctx, session, teamSlug)
	if err != nil {
		if errors.Is(err, models.ErrMemberNotFound) {
			return authz.TeamContext{}, models.ErrAccessDenied
		}
		return authz.TeamContext{}, err
	}
	if membership.Role != models.TeamRoleAdmin {
		return authz.TeamContext{}, models.ErrAdminRequired
	}
	return authz.TeamContext{Context: session, Team: team, Role: membership.Role}, nil
}

func (r *Resolver) lookupTeamMembership(ctx context.Context, session authz.Context, teamSlug string) (models.Team, models.Membership, error) {
	if !session.Authenticated() {
		return models.Team{}, models.Membership{}, models.ErrUnauthenticated
	}
	team, err := r.store.Teams().GetTeamBySlug(ctx, teamSlug)
	if err != nil {
		return models.Team{}, models.Membership{}, err
	}
	membership, err := r.store.Teams().GetMembership(ctx, team.ID, session.User.ID)
	if err != nil {
		return models.Team{}, models.Membership{}, err
	}
	return team, membership, nil
}

// Middleware resolves the bearer credential once per request and
// stores the session on the request context. Routes behind it always
// see an authenticated session.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		credential, ok := BearerCredential(req)
		if !ok {
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		session, err := r.ResolveSession(req.Context(), credential)
		if err != nil {
			if errors.Is(err, models.ErrUnauthenticated) {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}
			r.logger.Error().Err(err).Msg("session resolution failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, req.WithContext(authz.WithSession(req.Context(), session)))
	})
}

// BearerCredential extracts the raw credential from the Authorization
// header.
func BearerCredential(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
