package models

import (
	"strings"
	"testing"
)

func TestValidateTeamSlug(t *testing.T) {
	tests := []struct {
		name    string
		slug    string
		wantErr bool
	}{
		{"simple", "acme", false},
		{"hyphens and digits", "acme-team-42", false},
		{"min length", "abc", false},
		{"max length", strings.Repeat("a", 30), false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 31), true},
		{"uppercase", "Acme", true},
		{"underscore", "acme_team", true},
		{"space", "acme team", true},
		{"unicode", "équipe", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTeamSlug(tt.slug)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTeamSlug(%q) = %v, wantErr %v", tt.slug, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTeamName(t *testing.T) {
	tests := []struct {
		name     string
		teamName string
		wantErr  bool
	}{
		{"simple", "Acme", false},
		{"two chars", "Ab", false},
		{"fifty chars", strings.Repeat("x", 50), false},
		{"unicode counted as runes", strings.Repeat("é", 50), false},
		{"empty", "", true},
		{"one char", "A", true},
		{"fifty-one chars", strings.Repeat("x", 51), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTeamName(tt.teamName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTeamName(%q) = %v, wantErr %v", tt.teamName, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Bob@Example.COM "); got != "bob@example.com" {
		t.Errorf("NormalizeEmail = %q, want %q", got, "bob@example.com")
	}
}
