package models

import (
	"regexp"
	"time"
	"unicode/utf8"
)

// TeamRole is the role a user holds within a single team.
type TeamRole string

const (
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

func IsValidTeamRole(role TeamRole) bool {
	return role == TeamRoleAdmin || role == TeamRoleMember
}

// FreeTeamMemberLimit caps the member count of a team whose owner is on
// the free tier. Pro-owned teams are uncapped.
const FreeTeamMemberLimit = 5

type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership binds a user to a team with a role. A user holds at most
// one role per team.
type Membership struct {
	TeamID   string    `json:"team_id"`
	UserID   string    `json:"user_id"`
	Role     TeamRole  `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidateTeamName checks the display name: 2-50 characters, non-blank
// after trimming. The caller is expected to have trimmed already.
func ValidateTeamName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < 2 || n > 50 {
		return &ValidationError{Field: "name", Reason: "must be between 2 and 50 characters"}
	}
	return nil
}

// ValidateTeamSlug checks the URL-safe identifier: lowercase letters,
// digits and hyphens, 3-30 characters.
func ValidateTeamSlug(slug string) error {
	if len(slug) < 3 || len(slug) > 30 {
		return &ValidationError{Field: "slug", Reason: "must be between 3 and 30 characters"}
	}
	if !slugPattern.MatchString(slug) {
		return &ValidationError{Field: "slug", Reason: "may only contain lowercase letters, digits and hyphens"}
	}
	return nil
}
