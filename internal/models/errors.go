package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Domain errors surfaced by the session resolver, team registry and
// invitation ledger. Handlers map these to HTTP statuses; anything not
// in this set is treated as an internal fault and never shown to the
// caller in detail.
var (
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrAccessDenied deliberately covers both "team does not exist"
	// and "team exists but you are not a member" on member-scoped
	// lookups, so callers cannot enumerate team slugs.
	ErrAccessDenied = errors.New("access denied")

	ErrTeamNotFound       = errors.New("team not found")
	ErrAdminRequired      = errors.New("team admin role required")
	ErrLastAdminProtected = errors.New("team must retain at least one admin")

	ErrSubscriptionRequired = errors.New("pro subscription required")
	ErrSlugTaken            = errors.New("team slug already taken")
	ErrCapacityExceeded     = errors.New("team member limit reached")

	ErrUserNotFound   = errors.New("user not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrAlreadyMember  = errors.New("user is already a team member")
	ErrMemberNotFound = errors.New("team member not found")

	ErrInvitationAlreadySent     = errors.New("a pending invitation already exists for this email")
	ErrInvitationNotFound        = errors.New("invitation not found")
	ErrInvitationExpired         = errors.New("invitation has expired")
	ErrInvitationAlreadyAccepted = errors.New("invitation has already been accepted")
	ErrEmailMismatch             = errors.New("invitation was issued for a different email")
)

// ValidationError is a recoverable field-level input failure. It is
// returned to the caller as a message on the offending field and never
// escalated past the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
