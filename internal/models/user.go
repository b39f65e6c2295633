package models

import (
	"strings"
	"time"
)

// GlobalRole is the account-wide role, independent of any team.
type GlobalRole string

const (
	RoleStandard    GlobalRole = "standard"
	RoleSystemAdmin GlobalRole = "system_admin"
)

func IsValidGlobalRole(role GlobalRole) bool {
	return role == RoleStandard || role == RoleSystemAdmin
}

// SubscriptionTier reflects the user's billing state. It is written by
// the billing webhook collaborator and system-admin tooling only; team
// logic reads it fresh on every check and never caches it.
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPro  SubscriptionTier = "pro"
)

func IsValidTier(tier SubscriptionTier) bool {
	return tier == TierFree || tier == TierPro
}

type User struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	Name         string           `json:"name,omitempty"`
	PasswordHash string           `json:"-"`
	GlobalRole   GlobalRole       `json:"global_role"`
	Tier         SubscriptionTier `json:"subscription_tier"`
	CreatedAt    time.Time        `json:"created_at"`
}

func (u User) IsProUser() bool {
	return u.Tier == TierPro
}

func (u User) IsSystemAdmin() bool {
	return u.GlobalRole == RoleSystemAdmin
}

// NormalizeEmail canonicalizes an address for storage and comparison.
// Emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
