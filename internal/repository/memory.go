package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promptforge/promptforge-api/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// MemoryStore is an in-memory Store backed by maps and one mutex. It
// mirrors the SQL store's constraint behavior (email, slug and pending
// invitation uniqueness mapped to the same domain errors) and is used
// by service and resolver tests. ExecTx holds the lock for the whole
// function and rolls back by snapshot, which gives the serializable
// semantics the SQL store gets from its transaction isolation level.
type MemoryStore struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	users       map[string]models.User
	teams       map[string]models.Team
	memberships map[string]models.Membership
	invitations map[string]models.Invitation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memData{
		users:       make(map[string]models.User),
		teams:       make(map[string]models.Team),
		memberships: make(map[string]models.Membership),
		invitations: make(map[string]models.Invitation),
	}}
}

// SeedUser inserts a fully-specified user, bypassing signup defaults.
// Tests use it to set up system admins and pre-hashed credentials.
func (s *MemoryStore) SeedUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Email = models.NormalizeEmail(user.Email)
	s.data.users[user.ID] = user
}

func membershipKey(teamID, userID string) string {
	return teamID + "/" + userID
}

func (d *memData) clone() *memData {
	c := &memData{
		users:       make(map[string]models.User, len(d.users)),
		teams:       make(map[string]models.Team, len(d.teams)),
		memberships: make(map[string]models.Membership, len(d.memberships)),
		invitations: make(map[string]models.Invitation, len(d.invitations)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.teams {
		c.teams[k] = v
	}
	for k, v := range d.memberships {
		c.memberships[k] = v
	}
	for k, v := range d.invitations {
		c.invitations[k] = v
	}
	return c
}

func (s *MemoryStore) Users() UserRepository             { return memUsers{s: s} }
func (s *MemoryStore) Teams() TeamRepository             { return memTeams{s: s} }
func (s *MemoryStore) Invitations() InvitationRepository { return memInvitations{s: s} }

func (s *MemoryStore) ExecTx(_ context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(&memTxStore{data: s.data}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// memTxStore operates on already-locked data; its repositories skip the
// mutex and nested ExecTx calls join the open transaction.
type memTxStore struct {
	data *memData
}

func (t *memTxStore) Users() UserRepository             { return memUsers{d: t.data} }
func (t *memTxStore) Teams() TeamRepository             { return memTeams{d: t.data} }
func (t *memTxStore) Invitations() InvitationRepository { return memInvitations{d: t.data} }

func (t *memTxStore) ExecTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

type memUsers struct {
	s *MemoryStore
	d *memData
}

func (r memUsers) with(fn func(*memData) error) error {
	if r.s != nil {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		return fn(r.s.data)
	}
	return fn(r.d)
}

func (r memUsers) CreateUser(_ context.Context, email, name, password string) (models.User, error) {
	// MinCost keeps test suites fast; the SQL store uses DefaultCost.
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           uuid.NewString(),
		Email:        models.NormalizeEmail(email),
		Name:         name,
		PasswordHash: string(hash),
		GlobalRole:   models.RoleStandard,
		Tier:         models.TierFree,
		CreatedAt:    time.Now(),
	}
	err = r.with(func(d *memData) error {
		for _, existing := range d.users {
			if existing.Email == user.Email {
				return models.ErrEmailTaken
			}
		}
		d.users[user.ID] = user
		return nil
	})
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (r memUsers) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	user, err := r.GetUserByEmail(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, models.ErrUserNotFound
	}
	return user, nil
}

func (r memUsers) GetUserByID(_ context.Context, id string) (models.User, error) {
	var user models.User
	err := r.with(func(d *memData) error {
		u, ok := d.users[id]
		if !ok {
			return models.ErrUserNotFound
		}
		user = u
		return nil
	})
	return user, err
}

func (r memUsers) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	normalized := models.NormalizeEmail(email)
	var user models.User
	err := r.with(func(d *memData) error {
		for _, u := range d.users {
			if u.Email == normalized {
				user = u
				return nil
			}
		}
		return models.ErrUserNotFound
	})
	return user, err
}

func (r memUsers) SetSubscriptionTier(_ context.Context, userID string, tier models.SubscriptionTier) (models.User, error) {
	var user models.User
	err := r.with(func(d *memData) error {
		u, ok := d.users[userID]
		if !ok {
			return models.ErrUserNotFound
		}
		u.Tier = tier
		d.users[userID] = u
		user = u
		return nil
	})
	return user, err
}

type memTeams struct {
	s *MemoryStore
	d *memData
}

func (r memTeams) with(fn func(*memData) error) error {
	if r.s != nil {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		return fn(r.s.data)
	}
	return fn(r.d)
}

func (r memTeams) CreateTeam(_ context.Context, team models.Team, owner models.Membership) (models.Team, error) {
	now := time.Now()
	team.CreatedAt = now
	err := r.with(func(d *memData) error {
		for _, existing := range d.teams {
			if existing.Slug == team.Slug {
				return models.ErrSlugTaken
			}
		}
		d.teams[team.ID] = team
		d.memberships[membershipKey(team.ID, owner.UserID)] = models.Membership{
			TeamID:   team.ID,
			UserID:   owner.UserID,
			Role:     owner.Role,
			JoinedAt: now,
		}
		return nil
	})
	if err != nil {
		return models.Team{}, err
	}
	return team, nil
}

func (r memTeams) GetTeamByID(_ context.Context, id string) (models.Team, error) {
	var team models.Team
	err := r.with(func(d *memData) error {
		t, ok := d.teams[id]
		if !ok {
			return models.ErrTeamNotFound
		}
		team = t
		return nil
	})
	return team, err
}

func (r memTeams) GetTeamBySlug(_ context.Context, slug string) (models.Team, error) {
	var team models.Team
	err := r.with(func(d *memData) error {
		for _, t := range d.teams {
			if t.Slug == slug {
				team = t
				return nil
			}
		}
		return models.ErrTeamNotFound
	})
	return team, err
}

func (r memTeams) UpdateTeamName(_ context.Context, teamID, name string) (models.Team, error) {
	var team models.Team
	err := r.with(func(d *memData) error {
		t, ok := d.teams[teamID]
		if !ok {
			return models.ErrTeamNotFound
		}
		t.Name = name
		d.teams[teamID] = t
		team = t
		return nil
	})
	return team, err
}

func (r memTeams) DeleteTeam(_ context.Context, teamID string) error {
	return r.with(func(d *memData) error {
		if _, ok := d.teams[teamID]; !ok {
			return models.ErrTeamNotFound
		}
		delete(d.teams, teamID)
		for key, m := range d.memberships {
			if m.TeamID == teamID {
				delete(d.memberships, key)
			}
		}
		for id, inv := range d.invitations {
			if inv.TeamID == teamID {
				delete(d.invitations, id)
			}
		}
		return nil
	})
}

func (r memTeams) ListTeamsByUser(_ context.Context, userID string) ([]models.Team, error) {
	var teams []models.Team
	err := r.with(func(d *memData) error {
		for _, m := range d.memberships {
			if m.UserID == userID {
				if t, ok := d.teams[m.TeamID]; ok {
					teams = append(teams, t)
				}
			}
		}
		return nil
	})
	return teams, err
}

func (r memTeams) GetMembership(_ context.Context, teamID, userID string) (models.Membership, error) {
	var membership models.Membership
	err := r.with(func(d *memData) error {
		m, ok := d.memberships[membershipKey(teamID, userID)]
		if !ok {
			return models.ErrMemberNotFound
		}
		membership = m
		return nil
	})
	return membership, err
}

func (r memTeams) ListMembers(_ context.Context, teamID string) ([]Member, error) {
	var members []Member
	err := r.with(func(d *memData) error {
		for _, m := range d.memberships {
			if m.TeamID != teamID {
				continue
			}
			member := Member{Membership: m}
			if u, ok := d.users[m.UserID]; ok {
				member.Email = u.Email
				member.Name = u.Name
			}
			members = append(members, member)
		}
		return nil
	})
	return members, err
}

func (r memTeams) InsertMembership(_ context.Context, m models.Membership) (models.Membership, error) {
	m.JoinedAt = time.Now()
	err := r.with(func(d *memData) error {
		key := membershipKey(m.TeamID, m.UserID)
		if _, ok := d.memberships[key]; ok {
			return models.ErrAlreadyMember
		}
		d.memberships[key] = m
		return nil
	})
	if err != nil {
		return models.Membership{}, err
	}
	return m, nil
}

func (r memTeams) DeleteMembership(_ context.Context, teamID, userID string) error {
	return r.with(func(d *memData) error {
		key := membershipKey(teamID, userID)
		if _, ok := d.memberships[key]; !ok {
			return models.ErrMemberNotFound
		}
		delete(d.memberships, key)
		return nil
	})
}

func (r memTeams) UpdateMembershipRole(_ context.Context, teamID, userID string, role models.TeamRole) (models.Membership, error) {
	var membership models.Membership
	err := r.with(func(d *memData) error {
		key := membershipKey(teamID, userID)
		m, ok := d.memberships[key]
		if !ok {
			return models.ErrMemberNotFound
		}
		m.Role = role
		d.memberships[key] = m
		membership = m
		return nil
	})
	return membership, err
}

func (r memTeams) CountMembers(_ context.Context, teamID string) (int, error) {
	count := 0
	err := r.with(func(d *memData) error {
		for _, m := range d.memberships {
			if m.TeamID == teamID {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r memTeams) CountAdmins(_ context.Context, teamID string) (int, error) {
	count := 0
	err := r.with(func(d *memData) error {
		for _, m := range d.memberships {
			if m.TeamID == teamID && m.Role == models.TeamRoleAdmin {
				count++
			}
		}
		return nil
	})
	return count, err
}

type memInvitations struct {
	s *MemoryStore
	d *memData
}

func (r memInvitations) with(fn func(*memData) error) error {
	if r.s != nil {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		return fn(r.s.data)
	}
	return fn(r.d)
}

func (r memInvitations) CreateInvitation(_ context.Context, inv models.Invitation) (models.Invitation, error) {
	inv.Email = models.NormalizeEmail(inv.Email)
	inv.CreatedAt = time.Now()
	err := r.with(func(d *memData) error {
		for _, existing := range d.invitations {
			if existing.TeamID == inv.TeamID &&
				strings.EqualFold(existing.Email, inv.Email) &&
				existing.AcceptedAt == nil {
				return models.ErrInvitationAlreadySent
			}
		}
		d.invitations[inv.ID] = inv
		return nil
	})
	if err != nil {
		return models.Invitation{}, err
	}
	return inv, nil
}

func (r memInvitations) GetInvitationByTokenHash(_ context.Context, tokenHash string) (models.Invitation, error) {
	var invitation models.Invitation
	err := r.with(func(d *memData) error {
		for _, inv := range d.invitations {
			if inv.TokenHash == tokenHash {
				invitation = inv
				return nil
			}
		}
		return models.ErrInvitationNotFound
	})
	return invitation, err
}

func (r memInvitations) GetInvitationByID(_ context.Context, id string) (models.Invitation, error) {
	var invitation models.Invitation
	err := r.with(func(d *memData) error {
		inv, ok := d.invitations[id]
		if !ok {
			return models.ErrInvitationNotFound
		}
		invitation = inv
		return nil
	})
	return invitation, err
}

func (r memInvitations) ListInvitationsByTeam(_ context.Context, teamID string) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := r.with(func(d *memData) error {
		for _, inv := range d.invitations {
			if inv.TeamID == teamID {
				invitations = append(invitations, inv)
			}
		}
		return nil
	})
	return invitations, err
}

func (r memInvitations) MarkInvitationAccepted(_ context.Context, id string, acceptedAt time.Time) (models.Invitation, error) {
	var invitation models.Invitation
	err := r.with(func(d *memData) error {
		inv, ok := d.invitations[id]
		if !ok || inv.AcceptedAt != nil {
			return models.ErrInvitationAlreadyAccepted
		}
		inv.AcceptedAt = &acceptedAt
		d.invitations[id] = inv
		invitation = inv
		return nil
	})
	return invitation, err
}

func (r memInvitations) DeleteInvitation(_ context.Context, id, teamID string) error {
	return r.with(func(d *memData) error {
		inv, ok := d.invitations[id]
		if ok && inv.TeamID == teamID {
			delete(d.invitations, id)
		}
		return nil
	})
}

func (r memInvitations) DeleteExpiredInvitations(_ context.Context, teamID, email string, now time.Time) error {
	normalized := models.NormalizeEmail(email)
	return r.with(func(d *memData) error {
		for id, inv := range d.invitations {
			if inv.TeamID == teamID &&
				strings.EqualFold(inv.Email, normalized) &&
				inv.AcceptedAt == nil &&
				!inv.ExpiresAt.After(now) {
				delete(d.invitations, id)
			}
		}
		return nil
	})
}
