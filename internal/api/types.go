package api

// Role names as the league backend spells them.
const (
	RoleAdmin   = "admin"
	RoleReferee = "referee"
	RoleCoach   = "coach"
	RolePlayer  = "player"
)

// User is the authenticated league member as the REST API returns it.
type User struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	ClubID    *int64   `json:"club_id,omitempty"`
	AvatarURL string   `json:"avatar_url,omitempty"`
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// UserPatch carries optional profile fields for partial updates.
// Nil fields are left untouched.
type UserPatch struct {
	Name      *string `json:"name,omitempty"`
	Email     *string `json:"email,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// LoginResult is the credential-exchange response.
type LoginResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}
