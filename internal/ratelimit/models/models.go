package models

import (
	"time"

	"edushield/internal/principal"
)

// Profile names a rate-limit budget. Profiles follow the caller's role
// except GENERATION, which is pinned to specific expensive endpoints
// regardless of who calls them.
type Profile string

const (
	ProfilePublic        Profile = "PUBLIC"
	ProfileAuthenticated Profile = "AUTHENTICATED"
	ProfileAdmin         Profile = "ADMIN"
	ProfileRoot          Profile = "ROOT"
	// ProfileGeneration budgets LLM-backed generation endpoints. Deliberately
	// hourly and tight: the cost being bounded is compute, not bandwidth.
	ProfileGeneration Profile = "GENERATION"
)

// IsValid checks the profile is one of the configured budgets.
func (p Profile) IsValid() bool {
	switch p {
	case ProfilePublic, ProfileAuthenticated, ProfileAdmin, ProfileRoot, ProfileGeneration:
		return true
	}
	return false
}

// Limit is one profile's budget: at most MaxRequests per fixed Window.
type Limit struct {
	MaxRequests int
	Window      time.Duration
}

// WindowSeconds returns the window length in whole seconds.
func (l Limit) WindowSeconds() int {
	return int(l.Window / time.Second)
}

// DefaultLimits is the fixed profile table. Ordering invariant: the role
// ladder grows monotonically (PUBLIC < AUTHENTICATED < ADMIN < ROOT);
// GENERATION sits outside the ladder as a distinct low-throughput budget.
func DefaultLimits() map[Profile]Limit {
	return map[Profile]Limit{
		ProfilePublic:        {MaxRequests: 60, Window: time.Minute},
		ProfileAuthenticated: {MaxRequests: 120, Window: time.Minute},
		ProfileAdmin:         {MaxRequests: 300, Window: time.Minute},
		ProfileRoot:          {MaxRequests: 600, Window: time.Minute},
		ProfileGeneration:    {MaxRequests: 10, Window: time.Hour},
	}
}

// RoleLadder lists the role-derived profiles from least to most privileged.
// Exposed so the ordering invariant is testable, not implied.
func RoleLadder() []Profile {
	return []Profile{ProfilePublic, ProfileAuthenticated, ProfileAdmin, ProfileRoot}
}

// ProfileForRole maps a principal role to its budget.
func ProfileForRole(role principal.Role) Profile {
	switch role {
	case principal.RoleRoot:
		return ProfileRoot
	case principal.RoleAdmin:
		return ProfileAdmin
	case principal.RoleAuthenticated:
		return ProfileAuthenticated
	default:
		return ProfilePublic
	}
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}
