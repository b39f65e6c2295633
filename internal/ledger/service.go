// Package ledger owns Invitation records and their lifecycle:
// PENDING on creation, ACCEPTED exactly once, or lazily EXPIRED after
// seven days. Expiry is a derived predicate evaluated wherever an
// invitation is read; no background sweep exists.
package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/notification"
	"github.com/promptforge/promptforge-api/internal/registry"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/rs/zerolog"
)

type Service struct {
	store  repository.Store
	mailer notification.InviteMailer
	origin string
	logger zerolog.Logger
	now    func() time.Time
}

// NewService builds the ledger. origin is the public base URL from
// which accept links are formed; mailer may be nil when email delivery
// is not configured.
func NewService(store repository.Store, mailer notification.InviteMailer, origin string, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		mailer: mailer,
		origin: strings.TrimRight(origin, "/"),
		logger: logger,
		now:    time.Now,
	}
}

// AcceptURL builds the shareable link for a raw token. The path shape
// is an external contract: <origin>/invitations/<token>.
func (s *Service) AcceptURL(token string) string {
	return s.origin + "/invitations/" + token
}

// Preview is the read-only view of an invitation shown before
// acceptance, without consuming the token.
type Preview struct {
	TeamName  string                  `json:"team_name"`
	Email     string                  `json:"email"`
	Role      models.TeamRole         `json:"role"`
	InvitedBy string                  `json:"invited_by"`
	ExpiresAt time.Time               `json:"expires_at"`
	Status    models.InvitationStatus `json:"status"`
}

// CreateInvitation issues a new pending invitation and returns it with
// the shareable accept URL. The raw token exists only in that URL; at
// rest the ledger keeps its hash.
func (s *Service) CreateInvitation(ctx context.Context, tc authz.TeamContext, email string, role models.TeamRole) (models.Invitation, string, error) {
	if err := authz.AuthorizeTeam(tc, authz.ActionCreateInvitation); err != nil {
		return models.Invitation{}, "", err
	}
	email = models.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return models.Invitation{}, "", &models.ValidationError{Field: "email", Reason: "not a valid email address"}
	}
	if !models.IsValidTeamRole(role) {
		return models.Invitation{}, "", &models.ValidationError{Field: "role", Reason: "must be admin or member"}
	}

	token, err := generateToken()
	if err != nil {
		return models.Invitation{}, "", errors.Wrap(err, "generate invitation token")
	}

	now := s.now()
	invitation := models.Invitation{
		ID:        uuid.NewString(),
		TeamID:    tc.Team.ID,
		Email:     email,
		Role:      role,
		TokenHash: hashToken(token),
		InvitedBy: tc.User.ID,
		ExpiresAt: now.Add(models.InvitationTTL),
	}

	var created models.Invitation
	err = s.store.ExecTx(ctx, func(st repository.Store) error {
		if err := registry.CheckCapacity(ctx, st, tc.Team.ID); err != nil {
			return err
		}
		if err := s.rejectExistingMember(ctx, st, tc.Team.ID, email); err != nil {
			return err
		}
		// Expired leftovers for this pair are inert; clear them so the
		// pending-uniqueness constraint only guards live invitations.
		if err := st.Invitations().DeleteExpiredInvitations(ctx, tc.Team.ID, email, now); err != nil {
			return err
		}
		var err error
		created, err = st.Invitations().CreateInvitation(ctx, invitation)
		return err
	})
	if err != nil {
		return models.Invitation{}, "", err
	}

	acceptURL := s.AcceptURL(token)
	if s.mailer != nil {
		if err := s.mailer.SendInvite(created.Email, tc.Team.Name, acceptURL); err != nil {
			// The invitation stands; the admin still gets the URL to
			// share out of band.
			s.logger.Warn().Err(err).Str("email", created.Email).Msg("invitation email delivery failed")
		}
	}

	s.logger.Info().Str("team_id", created.TeamID).Str("email", created.Email).Msg("invitation created")
	return created, acceptURL, nil
}

func (s *Service) rejectExistingMember(ctx context.Context, st repository.Store, teamID, email string) error {
	user, err := st.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil
		}
		return err
	}
	_, err = st.Teams().GetMembership(ctx, teamID, user.ID)
	if err == nil {
		return models.ErrAlreadyMember
	}
	if errors.Is(err, models.ErrMemberNotFound) {
		return nil
	}
	return err
}

func (s *Service) ListInvitations(ctx context.Context, tc authz.TeamContext) ([]models.Invitation, error) {
	if err := authz.AuthorizeTeam(tc, authz.ActionListInvitations); err != nil {
		return nil, err
	}
	return s.store.Invitations().ListInvitationsByTeam(ctx, tc.Team.ID)
}

// CancelInvitation deletes a pending invitation. Cancelling one that
// is already accepted, expired or gone is a no-op success so clients
// can retry safely.
func (s *Service) CancelInvitation(ctx context.Context, tc authz.TeamContext, invitationID string) error {
	if err := authz.AuthorizeTeam(tc, authz.ActionCancelInvitation); err != nil {
		return err
	}
	invitation, err := s.store.Invitations().GetInvitationByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, models.ErrInvitationNotFound) {
			return nil
		}
		return err
	}
	if invitation.TeamID != tc.Team.ID {
		// Invitations are only addressable within their own team.
		return nil
	}
	if invitation.Status(s.now()) != models.InvitationPending {
		return nil
	}
	if err := s.store.Invitations().DeleteInvitation(ctx, invitationID, tc.Team.ID); err != nil {
		return err
	}
	s.logger.Info().Str("team_id", tc.Team.ID).Str("invitation_id", invitationID).Msg("invitation cancelled")
	return nil
}

// LookupInvitation returns the preview for a raw token without
// consuming it. Expired invitations are reported as such, not hidden.
func (s *Service) LookupInvitation(ctx context.Context, token string) (Preview, error) {
	invitation, err := s.store.Invitations().GetInvitationByTokenHash(ctx, hashToken(token))
	if err != nil {
		return Preview{}, err
	}
	team, err := s.store.Teams().GetTeamByID(ctx, invitation.TeamID)
	if err != nil {
		return Preview{}, err
	}
	inviter := invitation.InvitedBy
	if user, err := s.store.Users().GetUserByID(ctx, invitation.InvitedBy); err == nil {
		if user.Name != "" {
			inviter = user.Name
		} else {
			inviter = user.Email
		}
	}
	return Preview{
		TeamName:  team.Name,
		Email:     invitation.Email,
		Role:      invitation.Role,
		InvitedBy: inviter,
		ExpiresAt: invitation.ExpiresAt,
		Status:    invitation.Status(s.now()),
	}, nil
}

// AcceptInvitation performs the PENDING -> ACCEPTED transition. Every
// precondition is re-checked inside one transaction with the
// membership insertion and the accepted_at write, so a second accept
// of the same token fails explicitly and a partial accept can never be
// observed.
func (s *Service) AcceptInvitation(ctx context.Context, token string, session authz.Context) (models.Membership, error) {
	if !session.Authenticated() {
		return models.Membership{}, models.ErrUnauthenticated
	}

	now := s.now()
	var membership models.Membership
	err := s.store.ExecTx(ctx, func(st repository.Store) error {
		invitation, err := st.Invitations().GetInvitationByTokenHash(ctx, hashToken(token))
		if err != nil {
			return err
		}
		if invitation.IsAccepted() {
			return models.ErrInvitationAlreadyAccepted
		}
		if invitation.IsExpired(now) {
			return models.ErrInvitationExpired
		}
		if !strings.EqualFold(invitation.Email, session.User.Email) {
			return models.ErrEmailMismatch
		}
		if err := registry.CheckCapacity(ctx, st, invitation.TeamID); err != nil {
			return err
		}
		membership, err = st.Teams().InsertMembership(ctx, models.Membership{
			TeamID: invitation.TeamID,
			UserID: session.User.ID,
			Role:   invitation.Role,
		})
		if err != nil {
			return err
		}
		_, err = st.Invitations().MarkInvitationAccepted(ctx, invitation.ID, now)
		return err
	})
	if err != nil {
		return models.Membership{}, err
	}

	s.logger.Info().Str("team_id", membership.TeamID).Str("user_id", membership.UserID).Msg("invitation accepted")
	return membership, nil
}

// Token generation: 32 bytes from the OS CSPRNG, base64url. The token
// is the sole authorization proof for acceptance, so it must be
// infeasible to guess.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
