// Package registry owns Team and Membership records and enforces the
// tenant invariants around them: a team always has at least one admin,
// a user holds at most one role per team, and free-tier teams respect
// the member cap. All invariant-sensitive mutations re-read current
// state inside a serializable transaction.
package registry

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/rs/zerolog"
)

type Service struct {
	store  repository.Store
	logger zerolog.Logger
}

func NewService(store repository.Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateTeam validates inputs, requires the Pro tier, and creates the
// team together with its first admin membership in one transaction. A
// team with zero members is never observable.
func (s *Service) CreateTeam(ctx context.Context, session authz.Context, name, slug string) (models.Team, error) {
	if !session.Authenticated() {
		return models.Team{}, models.ErrUnauthenticated
	}
	if !session.IsProUser {
		return models.Team{}, models.ErrSubscriptionRequired
	}

	name = strings.TrimSpace(name)
	if err := models.ValidateTeamName(name); err != nil {
		return models.Team{}, err
	}
	if err := models.ValidateTeamSlug(slug); err != nil {
		return models.Team{}, err
	}

	team := models.Team{
		ID:      uuid.NewString(),
		Name:    name,
		Slug:    slug,
		OwnerID: session.User.ID,
	}
	owner := models.Membership{
		TeamID: team.ID,
		UserID: session.User.ID,
		Role:   models.TeamRoleAdmin,
	}

	var created models.Team
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		var err error
		created, err = st.Teams().CreateTeam(ctx, team, owner)
		return err
	})
	if err != nil {
		return models.Team{}, err
	}

	s.logger.Info().Str("team_id", created.ID).Str("slug", created.Slug).Msg("team created")
	return created, nil
}

func (s *Service) UpdateTeam(ctx context.Context, tc authz.TeamContext, name string) (models.Team, error) {
	if err := authz.AuthorizeTeam(tc, authz.ActionUpdateTeam); err != nil {
		return models.Team{}, err
	}
	name = strings.TrimSpace(name)
	if err := models.ValidateTeamName(name); err != nil {
		return models.Team{}, err
	}
	return s.store.Teams().UpdateTeamName(ctx, tc.Team.ID, name)
}

// DeleteTeam removes the team, its memberships and its invitations as
// one atomic unit.
func (s *Service) DeleteTeam(ctx context.Context, tc authz.TeamContext) error {
	if err := authz.AuthorizeTeam(tc, authz.ActionDeleteTeam); err != nil {
		return err
	}
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		return st.Teams().DeleteTeam(ctx, tc.Team.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("team_id", tc.Team.ID).Msg("team deleted")
	return nil
}

func (s *Service) ListTeams(ctx context.Context, session authz.Context) ([]models.Team, error) {
	if !session.Authenticated() {
		return nil, models.ErrUnauthenticated
	}
	return s.store.Teams().ListTeamsByUser(ctx, session.User.ID)
}

func (s *Service) ListMembers(ctx context.Context, tc authz.TeamContext) ([]repository.Member, error) {
	if err := authz.AuthorizeTeam(tc, authz.ActionListMembers); err != nil {
		return nil, err
	}
	return s.store.Teams().ListMembers(ctx, tc.Team.ID)
}

// CanAddMember reports whether the team is below its effective
// capacity. Capacity is a function of the owner's tier at query time,
// so upgrading the owner takes effect on the very next check.
func (s *Service) CanAddMember(ctx context.Context, teamID string) (bool, error) {
	err := CheckCapacity(ctx, s.store, teamID)
	if errors.Is(err, models.ErrCapacityExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CheckCapacity re-counts current memberships against the owner's
// current tier. Shared with the invitation ledger, which re-runs it
// inside the accept transaction.
func CheckCapacity(ctx context.Context, st repository.Store, teamID string) error {
	team, err := st.Teams().GetTeamByID(ctx, teamID)
	if err != nil {
		return err
	}
	owner, err := st.Users().GetUserByID(ctx, team.OwnerID)
	if err != nil {
		return err
	}
	if owner.IsProUser() {
		return nil
	}
	count, err := st.Teams().CountMembers(ctx, teamID)
	if err != nil {
		return err
	}
	if count >= models.FreeTeamMemberLimit {
		return models.ErrCapacityExceeded
	}
	return nil
}

// AddMember directly adds an already-registered user. Capacity is
// re-validated inside the transaction; the membership primary key
// catches concurrent duplicate adds.
func (s *Service) AddMember(ctx context.Context, tc authz.TeamContext, email string, role models.TeamRole) (models.Membership, error) {
	if err := authz.AuthorizeTeam(tc, authz.ActionAddMember); err != nil {
		return models.Membership{}, err
	}
	if !models.IsValidTeamRole(role) {
		return models.Membership{}, &models.ValidationError{Field: "role", Reason: "must be admin or member"}
	}
	user, err := s.store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return models.Membership{}, &models.ValidationError{Field: "email", Reason: "no registered user with this email"}
		}
		return models.Membership{}, err
	}

	var membership models.Membership
	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		if err := CheckCapacity(ctx, st, tc.Team.ID); err != nil {
			return err
		}
		var err error
		membership, err = st.Teams().InsertMembership(ctx, models.Membership{
			TeamID: tc.Team.ID,
			UserID: user.ID,
			Role:   role,
		})
		return err
	})
	if err != nil {
		return models.Membership{}, err
	}

	s.logger.Info().Str("team_id", tc.Team.ID).Str("user_id", user.ID).Str("role", string(role)).Msg("member added")
	return membership, nil
}

// RemoveMember deletes a membership. Removing an admin re-reads the
// admin count inside the transaction so two concurrent removals of two
// different admins cannot both pass the last-admin check.
func (s *Service) RemoveMember(ctx context.Context, tc authz.TeamContext, userID string) error {
	if err := authz.AuthorizeTeam(tc, authz.ActionRemoveMember); err != nil {
		return err
	}
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		membership, err := st.Teams().GetMembership(ctx, tc.Team.ID, userID)
		if err != nil {
			return err
		}
		if authz.ReducesAdminCount(membership.Role) {
			adminCount, err := st.Teams().CountAdmins(ctx, tc.Team.ID)
			if err != nil {
				return err
			}
			if err := authz.EnsureNotLastAdmin(adminCount); err != nil {
				return err
			}
		}
		return st.Teams().DeleteMembership(ctx, tc.Team.ID, userID)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("team_id", tc.Team.ID).Str("user_id", userID).Msg("member removed")
	return nil
}

// UpdateMemberRole changes a member's role. Demoting an admin is
// guarded the same way as removing one.
func (s *Service) UpdateMemberRole(ctx context.Context, tc authz.TeamContext, userID string, role models.TeamRole) (models.Membership, error) {
	if err := authz.AuthorizeTeam(tc, authz.ActionChangeMemberRole); err != nil {
		return models.Membership{}, err
	}
	if !models.IsValidTeamRole(role) {
		return models.Membership{}, &models.ValidationError{Field: "role", Reason: "must be admin or member"}
	}

	var updated models.Membership
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		membership, err := st.Teams().GetMembership(ctx, tc.Team.ID, userID)
		if err != nil {
			return err
		}
		if membership.Role == role {
			updated = membership
			return nil
		}
		if authz.ReducesAdminCount(membership.Role) && role != models.TeamRoleAdmin {
			adminCount, err := st.Teams().CountAdmins(ctx, tc.Team.ID)
			if err != nil {
				return err
			}
			if err := authz.EnsureNotLastAdmin(adminCount); err != nil {
				return err
			}
		}
		updated, err = st.Teams().UpdateMembershipRole(ctx, tc.Team.ID, userID, role)
		return err
	})
	if err != nil {
		return models.Membership{}, err
	}

	s.logger.Info().Str("team_id", tc.Team.ID).Str("user_id", userID).Str("role", string(role)).Msg("member role updated")
	return updated, nil
}

// SetUserTier is the system-scoped administrative override of a user's
// subscription tier, normally driven by the billing webhook.
func (s *Service) SetUserTier(ctx context.Context, session authz.Context, userID string, tier models.SubscriptionTier) (models.User, error) {
	if err := authz.AuthorizeSystem(session, authz.ActionSetUserTier); err != nil {
		return models.User{}, err
	}
	if !models.IsValidTier(tier) {
		return models.User{}, &models.ValidationError{Field: "subscription_tier", Reason: "must be free or pro"}
	}
	user, err := s.store.Users().SetSubscriptionTier(ctx, userID, tier)
	if err != nil {
		return models.User{}, err
	}
	s.logger.Info().Str("user_id", userID).Str("tier", string(tier)).Msg("subscription tier overridden")
	return user, nil
}
