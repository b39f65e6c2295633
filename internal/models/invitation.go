package models

import "time"

// InvitationTTL is the fixed validity window of an invitation.
const InvitationTTL = 7 * 24 * time.Hour

// InvitationStatus is the derived lifecycle state of an invitation.
// Storage stays field-based (accepted_at, expires_at); the status is
// computed so the two can never disagree.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a token-addressable, time-bounded offer to join a team
// with a given role. The token itself is never stored; only its hash.
type Invitation struct {
	ID         string     `json:"id"`
	TeamID     string     `json:"team_id"`
	Email      string     `json:"email"`
	Role       TeamRole   `json:"role"`
	TokenHash  string     `json:"-"`
	InvitedBy  string     `json:"invited_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

func (i Invitation) IsAccepted() bool {
	return i.AcceptedAt != nil
}

func (i Invitation) IsExpired(now time.Time) bool {
	return !i.IsAccepted() && !now.Before(i.ExpiresAt)
}

// Status derives the lifecycle state at the given instant. Acceptance
// wins over expiry: an invitation accepted in time stays ACCEPTED after
// its deadline passes.
func (i Invitation) Status(now time.Time) InvitationStatus {
	switch {
	case i.IsAccepted():
		return InvitationAccepted
	case now.Before(i.ExpiresAt):
		return InvitationPending
	default:
		return InvitationExpired
	}
}
