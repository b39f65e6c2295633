package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/promptforge/promptforge-api/internal/authz"
	"github.com/promptforge/promptforge-api/internal/models"
	"github.com/promptforge/promptforge-api/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return NewService(store, zerolog.Nop()), store
}

func seedUser(t *testing.T, store *repository.MemoryStore, email string, tier models.SubscriptionTier) models.User {
	t.Helper()
	ctx := context.Background()
	user, err := store.Users().CreateUser(ctx, email, "", "hunter2-hunter2")
	require.NoError(t, err)
	if tier != models.TierFree {
		user, err = store.Users().SetSubscriptionTier(ctx, user.ID, tier)
		require.NoError(t, err)
	}
	return user
}

func sessionFor(user models.User) authz.Context {
	return authz.Context{
		User:          user,
		IsProUser:     user.IsProUser(),
		IsSystemAdmin: user.IsSystemAdmin(),
	}
}

func teamContextFor(user models.User, team models.Team, role models.TeamRole) authz.TeamContext {
	return authz.TeamContext{Context: sessionFor(user), Team: team, Role: role}
}

func TestCreateTeamRequiresPro(t *testing.T) {
	svc, store := newTestService(t)
	free := seedUser(t, store, "free@example.com", models.TierFree)

	_, err := svc.CreateTeam(context.Background(), sessionFor(free), "Acme", "acme")
	require.ErrorIs(t, err, models.ErrSubscriptionRequired)
}

func TestCreateTeam(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "  Acme  ", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme", team.Name)
	assert.Equal(t, "acme", team.Slug)
	assert.Equal(t, owner.ID, team.OwnerID)

	// The creator is an admin from birth.
	membership, err := store.Teams().GetMembership(ctx, team.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TeamRoleAdmin, membership.Role)

	admins, err := store.Teams().CountAdmins(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestCreateTeamValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)

	var validation *models.ValidationError
	_, err := svc.CreateTeam(ctx, sessionFor(owner), "A", "acme")
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "name", validation.Field)

	_, err = svc.CreateTeam(ctx, sessionFor(owner), "Acme", "Not A Slug")
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "slug", validation.Field)
}

func TestCreateTeamSlugTaken(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)
	other := seedUser(t, store, "other@example.com", models.TierPro)

	_, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)

	_, err = svc.CreateTeam(ctx, sessionFor(other), "Acme Two", "acme")
	require.ErrorIs(t, err, models.ErrSlugTaken)
}

func TestAddMember(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)
	bob := seedUser(t, store, "bob@example.com", models.TierFree)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)
	tc := teamContextFor(owner, team, models.TeamRoleAdmin)

	membership, err := svc.AddMember(ctx, tc, "Bob@Example.com", models.TeamRoleMember)
	require.NoError(t, err)
	assert.Equal(t, bob.ID, membership.UserID)
	assert.Equal(t, models.TeamRoleMember, membership.Role)

	// A user holds at most one role per team.
	_, err = svc.AddMember(ctx, tc, "bob@example.com", models.TeamRoleAdmin)
	require.ErrorIs(t, err, models.ErrAlreadyMember)

	var validation *models.ValidationError
	_, err = svc.AddMember(ctx, tc, "nobody@example.com", models.TeamRoleMember)
	require.ErrorAs(t, err, &validation)

	memberTC := teamContextFor(bob, team, models.TeamRoleMember)
	_, err = svc.AddMember(ctx, memberTC, "anyone@example.com", models.TeamRoleMember)
	require.ErrorIs(t, err, models.ErrAdminRequired)
}

func TestCapacityGate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)
	tc := teamContextFor(owner, team, models.TeamRoleAdmin)

	// Downgrade the owner after creation: capacity follows the owner's
	// tier at query time.
	_, err = store.Users().SetSubscriptionTier(ctx, owner.ID, models.TierFree)
	require.NoError(t, err)

	// Owner occupies one slot; fill the rest.
	for i := 1; i < models.FreeTeamMemberLimit; i++ {
		email := fmt.Sprintf("user%d@example.com", i)
		seedUser(t, store, email, models.TierFree)
		_, err = svc.AddMember(ctx, tc, email, models.TeamRoleMember)
		require.NoError(t, err)
	}

	ok, err := svc.CanAddMember(ctx, team.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	overflow := seedUser(t, store, "overflow@example.com", models.TierFree)
	_, err = svc.AddMember(ctx, tc, overflow.Email, models.TeamRoleMember)
	require.ErrorIs(t, err, models.ErrCapacityExceeded)

	// Upgrading the owner lifts the cap with no migration step.
	_, err = store.Users().SetSubscriptionTier(ctx, owner.ID, models.TierPro)
	require.NoError(t, err)

	ok, err = svc.CanAddMember(ctx, team.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.AddMember(ctx, tc, overflow.Email, models.TeamRoleMember)
	require.NoError(t, err)
}

func TestLastAdminProtection(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "a@example.com", models.TierPro)
	second := seedUser(t, store, "b@example.com", models.TierFree)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)
	tc := teamContextFor(owner, team, models.TeamRoleAdmin)

	// Sole admin may not demote or remove themselves.
	_, err = svc.UpdateMemberRole(ctx, tc, owner.ID, models.TeamRoleMember)
	require.ErrorIs(t, err, models.ErrLastAdminProtected)
	err = svc.RemoveMember(ctx, tc, owner.ID)
	require.ErrorIs(t, err, models.ErrLastAdminProtected)

	// Promote a second admin; the demotion now succeeds.
	_, err = svc.AddMember(ctx, tc, second.Email, models.TeamRoleMember)
	require.NoError(t, err)
	_, err = svc.UpdateMemberRole(ctx, tc, second.ID, models.TeamRoleAdmin)
	require.NoError(t, err)

	membership, err := svc.UpdateMemberRole(ctx, tc, owner.ID, models.TeamRoleMember)
	require.NoError(t, err)
	assert.Equal(t, models.TeamRoleMember, membership.Role)

	admins, err := store.Teams().CountAdmins(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, admins)
}

func TestConcurrentAdminDemotions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	a := seedUser(t, store, "a@example.com", models.TierPro)
	b := seedUser(t, store, "b@example.com", models.TierFree)

	team, err := svc.CreateTeam(ctx, sessionFor(a), "Acme", "acme")
	require.NoError(t, err)
	tcA := teamContextFor(a, team, models.TeamRoleAdmin)

	_, err = svc.AddMember(ctx, tcA, b.Email, models.TeamRoleAdmin)
	require.NoError(t, err)
	tcB := teamContextFor(b, team, models.TeamRoleAdmin)

	// Two admins demote each other concurrently. Whatever the
	// interleaving, at most one demotion may win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = svc.UpdateMemberRole(ctx, tcA, b.ID, models.TeamRoleMember)
	}()
	go func() {
		defer wg.Done()
		_, results[1] = svc.UpdateMemberRole(ctx, tcB, a.ID, models.TeamRoleMember)
	}()
	wg.Wait()

	admins, err := store.Teams().CountAdmins(ctx, team.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, admins, 1, "a team may never be left without an admin")

	failures := 0
	for _, res := range results {
		if res != nil {
			require.ErrorIs(t, res, models.ErrLastAdminProtected)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of the two demotions must be rejected")
}

// Random interleavings of membership mutations never drive the admin
// count to zero.
func TestAdminCountNeverReachesZero(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)
	tc := teamContextFor(owner, team, models.TeamRoleAdmin)

	users := []models.User{owner}
	for i := 0; i < 4; i++ {
		users = append(users, seedUser(t, store, fmt.Sprintf("u%d@example.com", i), models.TierFree))
	}

	rng := rand.New(rand.NewSource(42))
	roles := []models.TeamRole{models.TeamRoleAdmin, models.TeamRoleMember}

	for step := 0; step < 300; step++ {
		target := users[rng.Intn(len(users))]
		switch rng.Intn(3) {
		case 0:
			_, _ = svc.AddMember(ctx, tc, target.Email, roles[rng.Intn(2)])
		case 1:
			_ = svc.RemoveMember(ctx, tc, target.ID)
		case 2:
			_, _ = svc.UpdateMemberRole(ctx, tc, target.ID, roles[rng.Intn(2)])
		}

		admins, err := store.Teams().CountAdmins(ctx, team.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, admins, 1, "step %d left the team without an admin", step)
	}
}

func TestRemoveMember(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)
	bob := seedUser(t, store, "bob@example.com", models.TierFree)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)
	tc := teamContextFor(owner, team, models.TeamRoleAdmin)

	_, err = svc.AddMember(ctx, tc, bob.Email, models.TeamRoleMember)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveMember(ctx, tc, bob.ID))
	_, err = store.Teams().GetMembership(ctx, team.ID, bob.ID)
	require.ErrorIs(t, err, models.ErrMemberNotFound)

	err = svc.RemoveMember(ctx, tc, bob.ID)
	require.ErrorIs(t, err, models.ErrMemberNotFound)
}

func TestDeleteTeamCascades(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	owner := seedUser(t, store, "owner@example.com", models.TierPro)

	team, err := svc.CreateTeam(ctx, sessionFor(owner), "Acme", "acme")
	require.NoError(t, err)
	tc := teamContextFor(owner, team, models.TeamRoleAdmin)

	_, err = store.Invitations().CreateInvitation(ctx, models.Invitation{
		ID:        uuid.NewString(),
		TeamID:    team.ID,
		Email:     "bob@example.com",
		Role:      models.TeamRoleMember,
		TokenHash: "hash",
		InvitedBy: owner.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTeam(ctx, tc))

	_, err = store.Teams().GetTeamByID(ctx, team.ID)
	require.ErrorIs(t, err, models.ErrTeamNotFound)
	_, err = store.Teams().GetMembership(ctx, team.ID, owner.ID)
	require.ErrorIs(t, err, models.ErrMemberNotFound)
	invitations, err := store.Invitations().ListInvitationsByTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Empty(t, invitations)
}

func TestSetUserTier(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	sysAdmin := models.User{
		ID:         uuid.NewString(),
		Email:      "root@example.com",
		GlobalRole: models.RoleSystemAdmin,
		Tier:       models.TierFree,
	}
	store.SeedUser(sysAdmin)
	target := seedUser(t, store, "target@example.com", models.TierFree)

	_, err := svc.SetUserTier(ctx, sessionFor(target), target.ID, models.TierPro)
	require.ErrorIs(t, err, models.ErrAccessDenied)

	updated, err := svc.SetUserTier(ctx, sessionFor(sysAdmin), target.ID, models.TierPro)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, updated.Tier)

	var validation *models.ValidationError
	_, err = svc.SetUserTier(ctx, sessionFor(sysAdmin), target.ID, "platinum")
	require.ErrorAs(t, err, &validation)
}
