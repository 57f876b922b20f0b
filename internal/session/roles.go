package session

import "github.com/volleylive/client-go/internal/api"

// Permissions granted to everyone, including anonymous visitors.
var basePermissions = []string{
	"view_matches",
	"view_standings",
	"view_tournaments",
}

// rolePermissions maps a role to the permissions it adds on top of the base
// list. Keep wire-stable: screens gate buttons on these strings.
var rolePermissions = map[string][]string{
	api.RolePlayer:  {"view_own_team"},
	api.RoleCoach:   {"view_own_team", "manage_roster", "request_substitution"},
	api.RoleReferee: {"manage_match", "record_sanctions", "record_rotations"},
	api.RoleAdmin:   {"manage_league", "manage_tournaments", "manage_users"},
}

// roleOrder fixes the permission enumeration order regardless of the order
// roles arrive from the backend.
var roleOrder = []string{api.RolePlayer, api.RoleCoach, api.RoleReferee, api.RoleAdmin}

// HasRole reports whether the current user carries the role. False when
// logged out.
func (p *Provider) HasRole(role string) bool {
	return p.CurrentUser().HasRole(role)
}

// HasAnyRole reports whether the current user carries at least one of roles.
func (p *Provider) HasAnyRole(roles ...string) bool {
	user := p.CurrentUser()
	for _, role := range roles {
		if user.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the current user is a league administrator.
func (p *Provider) IsAdmin() bool { return p.HasRole(api.RoleAdmin) }

// IsReferee reports whether the current user is a referee.
func (p *Provider) IsReferee() bool { return p.HasRole(api.RoleReferee) }

// IsCoach reports whether the current user is a coach.
func (p *Provider) IsCoach() bool { return p.HasRole(api.RoleCoach) }

// IsPlayer reports whether the current user is a player.
func (p *Provider) IsPlayer() bool { return p.HasRole(api.RolePlayer) }

// Permissions returns the permission list for the current user. With no user
// logged in it returns the base list.
func (p *Provider) Permissions() []string {
	perms := make([]string, 0, len(basePermissions)+4)
	perms = append(perms, basePermissions...)

	user := p.CurrentUser()
	if user == nil {
		return perms
	}

	seen := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		seen[perm] = struct{}{}
	}
	for _, role := range roleOrder {
		if !user.HasRole(role) {
			continue
		}
		for _, perm := range rolePermissions[role] {
			if _, dup := seen[perm]; dup {
				continue
			}
			seen[perm] = struct{}{}
			perms = append(perms, perm)
		}
	}
	return perms
}
