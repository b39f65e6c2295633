package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/promptforge/promptforge-api/internal/models"
)

// Member is a membership row joined with the user's directory fields,
// as shown on team member listings.
type Member struct {
	Membership models.Membership `json:"membership"`
	Email      string            `json:"email"`
	Name       string            `json:"name,omitempty"`
}

type TeamRepository interface {
	CreateTeam(ctx context.Context, team models.Team, owner models.Membership) (models.Team, error)
	GetTeamByID(ctx context.Context, id string) (models.Team, error)
	GetTeamBySlug(ctx context.Context, slug string) (models.Team, error)
	UpdateTeamName(ctx context.Context, teamID, name string) (models.Team, error)
	DeleteTeam(ctx context.Context, teamID string) error
	ListTeamsByUser(ctx context.Context, userID string) ([]models.Team, error)

	GetMembership(ctx context.Context, teamID, userID string) (models.Membership, error)
	ListMembers(ctx context.Context, teamID string) ([]Member, error)
	InsertMembership(ctx context.Context, m models.Membership) (models.Membership, error)
	DeleteMembership(ctx context.Context, teamID, userID string) error
	UpdateMembershipRole(ctx context.Context, teamID, userID string, role models.TeamRole) (models.Membership, error)
	CountMembers(ctx context.Context, teamID string) (int, error)
	CountAdmins(ctx context.Context, teamID string) (int, error)
}

type teamRepository struct {
	db DBTX
}

func NewTeamRepository(db DBTX) TeamRepository {
	return &teamRepository{db: db}
}

const teamColumns = `id, name, slug, owner_id, created_at`

func scanTeam(row *sql.Row) (models.Team, error) {
	var team models.Team
	err := row.Scan(&team.ID, &team.Name, &team.Slug, &team.OwnerID, &team.CreatedAt)
	return team, err
}

// CreateTeam inserts the team row together with its first admin
// membership. Callers must run this inside ExecTx so a team is never
// observable without an admin.
func (r *teamRepository) CreateTeam(ctx context.Context, team models.Team, owner models.Membership) (models.Team, error) {
	const insertTeam = `
		INSERT INTO teams (id, name, slug, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + teamColumns + `;
	`
	created, err := scanTeam(r.db.QueryRowContext(ctx, insertTeam, team.ID, team.Name, team.Slug, team.OwnerID))
	if err != nil {
		if isUniqueViolation(err, "teams_slug_key") {
			return models.Team{}, models.ErrSlugTaken
		}
		return models.Team{}, errors.Wrap(err, "insert team")
	}

	const insertMembership = `
		INSERT INTO memberships (team_id, user_id, role)
		VALUES ($1, $2, $3);
	`
	if _, err := r.db.ExecContext(ctx, insertMembership, created.ID, owner.UserID, owner.Role); err != nil {
		return models.Team{}, errors.Wrap(err, "insert owner membership")
	}
	return created, nil
}

func (r *teamRepository) GetTeamByID(ctx context.Context, id string) (models.Team, error) {
	const query = `SELECT ` + teamColumns + ` FROM teams WHERE id = $1;`
	team, err := scanTeam(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Team{}, models.ErrTeamNotFound
		}
		return models.Team{}, errors.Wrap(err, "get team by id")
	}
	return team, nil
}

func (r *teamRepository) GetTeamBySlug(ctx context.Context, slug string) (models.Team, error) {
	const query = `SELECT ` + teamColumns + ` FROM teams WHERE slug = $1;`
	team, err := scanTeam(r.db.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Team{}, models.ErrTeamNotFound
		}
		return models.Team{}, errors.Wrap(err, "get team by slug")
	}
	return team, nil
}

func (r *teamRepository) UpdateTeamName(ctx context.Context, teamID, name string) (models.Team, error) {
	const query = `
		UPDATE teams
		SET name = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + teamColumns + `;
	`
	team, err := scanTeam(r.db.QueryRowContext(ctx, query, teamID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Team{}, models.ErrTeamNotFound
		}
		return models.Team{}, errors.Wrap(err, "update team name")
	}
	return team, nil
}

// DeleteTeam removes the team with its memberships and invitations.
// Callers must run this inside ExecTx; no orphaned rows may survive.
func (r *teamRepository) DeleteTeam(ctx context.Context, teamID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM invitations WHERE team_id = $1;`, teamID); err != nil {
		return errors.Wrap(err, "delete team invitations")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM memberships WHERE team_id = $1;`, teamID); err != nil {
		return errors.Wrap(err, "delete team memberships")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM teams WHERE id = $1;`, teamID)
	if err != nil {
		return errors.Wrap(err, "delete team")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete team rows affected")
	}
	if affected == 0 {
		return models.ErrTeamNotFound
	}
	return nil
}

func (r *teamRepository) ListTeamsByUser(ctx context.Context, userID string) ([]models.Team, error) {
	const query = `
		SELECT t.id, t.name, t.slug, t.owner_id, t.created_at
		FROM teams t
		JOIN memberships m ON m.team_id = t.id
		WHERE m.user_id = $1
		ORDER BY t.created_at;
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list teams by user")
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		var team models.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Slug, &team.OwnerID, &team.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan team")
		}
		teams = append(teams, team)
	}
	return teams, errors.Wrap(rows.Err(), "list teams by user")
}

func (r *teamRepository) GetMembership(ctx context.Context, teamID, userID string) (models.Membership, error) {
	const query = `
		SELECT team_id, user_id, role, joined_at
		FROM memberships
		WHERE team_id = $1 AND user_id = $2;
	`
	var m models.Membership
	err := r.db.QueryRowContext(ctx, query, teamID, userID).Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Membership{}, models.ErrMemberNotFound
		}
		return models.Membership{}, errors.Wrap(err, "get membership")
	}
	return m, nil
}

func (r *teamRepository) ListMembers(ctx context.Context, teamID string) ([]Member, error) {
	const query = `
		SELECT m.team_id, m.user_id, m.role, m.joined_at, u.email, u.name
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1
		ORDER BY m.joined_at;
	`
	rows, err := r.db.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var member Member
		if err := rows.Scan(
			&member.Membership.TeamID,
			&member.Membership.UserID,
			&member.Membership.Role,
			&member.Membership.JoinedAt,
			&member.Email,
			&member.Name,
		); err != nil {
			return nil, errors.Wrap(err, "scan member")
		}
		members = append(members, member)
	}
	return members, errors.Wrap(rows.Err(), "list members")
}

func (r *teamRepository) InsertMembership(ctx context.Context, m models.Membership) (models.Membership, error) {
	const query = `
		INSERT INTO memberships (team_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING team_id, user_id, role, joined_at;
	`
	var inserted models.Membership
	err := r.db.QueryRowContext(ctx, query, m.TeamID, m.UserID, m.Role).
		Scan(&inserted.TeamID, &inserted.UserID, &inserted.Role, &inserted.JoinedAt)
	if err != nil {
		if isUniqueViolation(err, "memberships_pkey") {
			return models.Membership{}, models.ErrAlreadyMember
		}
		return models.Membership{}, errors.Wrap(err, "insert membership")
	}
	return inserted, nil
}

func (r *teamRepository) DeleteMembership(ctx context.Context, teamID, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM memberships WHERE team_id = $1 AND user_id = $2;`, teamID, userID)
	if err != nil {
		return errors.Wrap(err, "delete membership")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "delete membership rows affected")
	}
	if affected == 0 {
		return models.ErrMemberNotFound
	}
	return nil
}

func (r *teamRepository) UpdateMembershipRole(ctx context.Context, teamID, userID string, role models.TeamRole) (models.Membership, error) {
	const query = `
		UPDATE memberships
		SET role = $3
		WHERE team_id = $1 AND user_id = $2
		RETURNING team_id, user_id, role, joined_at;
	`
	var m models.Membership
	err := r.db.QueryRowContext(ctx, query, teamID, userID, role).
		Scan(&m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Membership{}, models.ErrMemberNotFound
		}
		return models.Membership{}, errors.Wrap(err, "update membership role")
	}
	return m, nil
}

func (r *teamRepository) CountMembers(ctx context.Context, teamID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM memberships WHERE team_id = $1;`, teamID).Scan(&count)
	return count, errors.Wrap(err, "count members")
}

func (r *teamRepository) CountAdmins(ctx context.Context, teamID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM memberships WHERE team_id = $1 AND role = $2;`,
		teamID, models.TeamRoleAdmin,
	).Scan(&count)
	return count, errors.Wrap(err, "count admins")
}
