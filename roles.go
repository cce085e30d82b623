package socialauth

// AccountRole is the account's global role
type AccountRole = string

const (
	// RoleUser is the default role assigned at creation
	RoleUser AccountRole = "user"
	// RoleAdmin is the elevated role; never assigned by the auth flow itself
	RoleAdmin AccountRole = "admin"
)

// ParseRole returns the matching role and whether the input was valid.
func ParseRole(role string) (AccountRole, bool) {
	switch role {
	case RoleUser:
		return RoleUser, true
	case RoleAdmin:
		return RoleAdmin, true
	default:
		return "", false
	}
}

// IsAdmin reports whether the role grants administrative access.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}
