package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Identity is the authenticated caller, supplied by the identity collaborator.
type Identity struct {
	UserID uuid.UUID `json:"user_id"`
	Roles  []string  `json:"roles"`
}

// HasRole matches case-insensitively.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

var ErrInvalidHierarchy = errors.New("role hierarchy needs distinct, non-empty role names")

// RoleHierarchy is an ordered set of role names, lowest tier first.
// Tier numbers start at 1; tier 0 means no admin role at all.
type RoleHierarchy struct {
	roles []string
}

func NewRoleHierarchy(roles ...string) (RoleHierarchy, error) {
	if len(roles) == 0 {
		return RoleHierarchy{}, ErrInvalidHierarchy
	}
	seen := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			return RoleHierarchy{}, ErrInvalidHierarchy
		}
		if _, dup := seen[r]; dup {
			return RoleHierarchy{}, ErrInvalidHierarchy
		}
		seen[r] = struct{}{}
		normalized = append(normalized, r)
	}
	return RoleHierarchy{roles: normalized}, nil
}

// TierOf returns the highest tier held by identity.
func (h RoleHierarchy) TierOf(identity Identity) int {
	for i := len(h.roles) - 1; i >= 0; i-- {
		if identity.HasRole(h.roles[i]) {
			return i + 1
		}
	}
	return 0
}

// Allows reports whether identity holds required or any higher tier.
func (h RoleHierarchy) Allows(identity Identity, required int) bool {
	if required <= 0 {
		return true
	}
	return h.TierOf(identity) >= required
}

// Top is the highest tier number.
func (h RoleHierarchy) Top() int { return len(h.roles) }

// TierFor returns the tier number of role, or 0.
func (h RoleHierarchy) TierFor(role string) int {
	for i, r := range h.roles {
		if strings.EqualFold(r, role) {
			return i + 1
		}
	}
	return 0
}

func (h RoleHierarchy) Roles() []string {
	out := make([]string, len(h.roles))
	copy(out, h.roles)
	return out
}
