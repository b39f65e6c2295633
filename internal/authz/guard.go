// Package authz holds the pure authorization decision rules and the
// resolved per-request session values. It owns no persistent state;
// every decision runs over snapshots supplied by its callers, and the
// last-admin check is re-run against the live admin count inside the
// same transaction as the mutation it protects.
package authz

import (
	"github.com/promptforge/promptforge-api/internal/models"
)

// Context is the fully-resolved identity view produced once per
// request by the session resolver and passed explicitly to every core
// operation. There is no request-global session singleton.
type Context struct {
	User          models.User
	IsProUser     bool
	IsSystemAdmin bool
}

func (c Context) Authenticated() bool {
	return c.User.ID != ""
}

// TeamContext extends Context with the team scope of the current route
// and the caller's role within it.
type TeamContext struct {
	Context
	Team models.Team
	Role models.TeamRole
}

// Action names an operation subject to authorization.
type Action string

const (
	ActionViewTeam         Action = "team.view"
	ActionUpdateTeam       Action = "team.update"
	ActionDeleteTeam       Action = "team.delete"
	ActionListMembers      Action = "team.members.list"
	ActionAddMember        Action = "team.members.add"
	ActionRemoveMember     Action = "team.members.remove"
	ActionChangeMemberRole Action = "team.members.change_role"
	ActionCreateInvitation Action = "team.invitations.create"
	ActionListInvitations  Action = "team.invitations.list"
	ActionCancelInvitation Action = "team.invitations.cancel"

	// System-scoped administrative actions. These are the only actions
	// the system-admin global role unlocks; it grants nothing inside
	// teams the admin is not a member of.
	ActionSetUserTier Action = "system.users.set_tier"
)

var adminOnlyActions = map[Action]bool{
	ActionUpdateTeam:       true,
	ActionDeleteTeam:       true,
	ActionAddMember:        true,
	ActionRemoveMember:     true,
	ActionChangeMemberRole: true,
	ActionCreateInvitation: true,
	ActionListInvitations:  true,
	ActionCancelInvitation: true,
}

var systemActions = map[Action]bool{
	ActionSetUserTier: true,
}

func IsSystemAction(action Action) bool {
	return systemActions[action]
}

// AuthorizeSystem gates system-scoped administrative actions.
func AuthorizeSystem(c Context, action Action) error {
	if !c.Authenticated() {
		return models.ErrUnauthenticated
	}
	if !IsSystemAction(action) {
		return models.ErrAccessDenied
	}
	if !c.IsSystemAdmin {
		return models.ErrAccessDenied
	}
	return nil
}

// AuthorizeTeam gates team-scoped actions. Rules in precedence order:
// deny the unauthenticated, require a membership in the team, require
// the admin role for admin-only actions. The system-admin global role
// deliberately grants no bypass here.
func AuthorizeTeam(tc TeamContext, action Action) error {
	if !tc.Authenticated() {
		return models.ErrUnauthenticated
	}
	if IsSystemAction(action) {
		return models.ErrAccessDenied
	}
	if !models.IsValidTeamRole(tc.Role) {
		return models.ErrAccessDenied
	}
	if adminOnlyActions[action] && tc.Role != models.TeamRoleAdmin {
		return models.ErrAdminRequired
	}
	return nil
}

// ReducesAdminCount reports whether removing or demoting a member who
// currently holds the given role lowers the team's admin count.
func ReducesAdminCount(current models.TeamRole) bool {
	return current == models.TeamRoleAdmin
}

// EnsureNotLastAdmin denies any mutation that would leave the team
// with zero admins. Callers must pass an admin count read inside the
// same transaction as the mutation; trusting an earlier read lets two
// concurrent demotions of two different admins both succeed.
func EnsureNotLastAdmin(adminCount int) error {
	if adminCount <= 1 {
		return models.ErrLastAdminProtected
	}
	return nil
}
