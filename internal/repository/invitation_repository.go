package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/models"
)

type InvitationRepository interface {
	CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (models.Invitation, error)
	GetInvitationByID(ctx context.Context, id string) (models.Invitation, error)
	ListInvitationsByTeam(ctx context.Context, teamID string) ([]models.Invitation, error)
	// MarkInvitationAccepted flips accepted_at exactly once; a second
	// call on the same invitation reports ErrInvitationAlreadyAccepted.
	MarkInvitationAccepted(ctx context.Context, id string, acceptedAt time.Time) (models.Invitation, error)
	DeleteInvitation(ctx context.Context, id, teamID string) error
	// DeleteExpiredInvitations clears expired unaccepted rows for a
	// (team, email) pair. Run before creating a replacement invitation
	// so the pending-uniqueness index only ever rejects live pending
	// duplicates, never long-expired leftovers.
	DeleteExpiredInvitations(ctx context.Context, teamID, email string, now time.Time) error
}

type invitationRepository struct {
	db DBTX
}

func NewInvitationRepository(db DBTX) InvitationRepository {
	return &invitationRepository{db: db}
}

const invitationColumns = `id, team_id, email, role, token_hash, invited_by, created_at, expires_at, accepted_at`

func scanInvitation(row *sql.Row) (models.Invitation, error) {
	var inv models.Invitation
	err := row.Scan(
		&inv.ID,
		&inv.TeamID,
		&inv.Email,
		&inv.Role,
		&inv.TokenHash,
		&inv.InvitedBy,
		&inv.CreatedAt,
		&inv.ExpiresAt,
		&inv.AcceptedAt,
	)
	return inv, err
}

func (r *invitationRepository) CreateInvitation(ctx context.Context, inv models.Invitation) (models.Invitation, error) {
	const query = `
		INSERT INTO invitations (id, team_id, email, role, token_hash, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + invitationColumns + `;
	`
	created, err := scanInvitation(r.db.QueryRowContext(ctx, query,
		inv.ID,
		inv.TeamID,
		inv.Email,
		inv.Role,
		inv.TokenHash,
		inv.InvitedBy,
		inv.ExpiresAt,
	))
	if err != nil {
		// Partial unique index over pending rows: two concurrent
		// creations for the same (team, email) race-detect here.
		if isUniqueViolation(err, "invitations_pending_team_email_idx") {
			return models.Invitation{}, models.ErrInvitationAlreadySent
		}
		return models.Invitation{}, errors.Wrap(err, "insert invitation")
	}
	return created, nil
}

func (r *invitationRepository) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (models.Invitation, error) {
	const query = `SELECT ` + invitationColumns + ` FROM invitations WHERE token_hash = $1;`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invitation{}, models.ErrInvitationNotFound
		}
		return models.Invitation{}, errors.Wrap(err, "get invitation by token hash")
	}
	return inv, nil
}

func (r *invitationRepository) GetInvitationByID(ctx context.Context, id string) (models.Invitation, error) {
	const query = `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1;`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invitation{}, models.ErrInvitationNotFound
		}
		return models.Invitation{}, errors.Wrap(err, "get invitation by id")
	}
	return inv, nil
}

func (r *invitationRepository) ListInvitationsByTeam(ctx context.Context, teamID string) ([]models.Invitation, error) {
	const query = `
		SELECT ` + invitationColumns + `
		FROM invitations
		WHERE team_id = $1
		ORDER BY created_at DESC;
	`
	rows, err := r.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, errors.Wrap(err, "list invitations")
	}
	defer rows.Close()

	var invitations []models.Invitation
	for rows.Next() {
		var inv models.Invitation
		if err := rows.Scan(
			&inv.ID,
			&inv.TeamID,
			&inv.Email,
			&inv.Role,
			&inv.TokenHash,
			&inv.InvitedBy,
			&inv.CreatedAt,
			&inv.ExpiresAt,
			&inv.AcceptedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan invitation")
		}
		invitations = append(invitations, inv)
	}
	return invitations, errors.Wrap(rows.Err(), "list invitations")
}

func (r *invitationRepository) MarkInvitationAccepted(ctx context.Context, id string, acceptedAt time.Time) (models.Invitation, error) {
	const query = `
		UPDATE invitations
		SET accepted_at = $2
		WHERE id = $1 AND accepted_at IS NULL
		RETURNING ` + invitationColumns + `;
	`
	inv, err := scanInvitation(r.db.QueryRowContext(ctx, query, id, acceptedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Invitation{}, models.ErrInvitationAlreadyAccepted
		}
		return models.Invitation{}, errors.Wrap(err, "mark invitation accepted")
	}
	return inv, nil
}

func (r *invitationRepository) DeleteInvitation(ctx context.Context, id, teamID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM invitations WHERE id = $1 AND team_id = $2;`, id, teamID)
	return errors.Wrap(err, "delete invitation")
}

func (r *invitationRepository) DeleteExpiredInvitations(ctx context.Context, teamID, email string, now time.Time) error {
	const query = `
		DELETE FROM invitations
		WHERE team_id = $1 AND email = $2 AND accepted_at IS NULL AND expires_at <= $3;
	`
	_, err := r.db.ExecContext(ctx, query, teamID, models.NormalizeEmail(email), now)
	return errors.Wrap(err, "delete expired invitations")
}
