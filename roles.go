package authclient

// Role is a DevDash access level. Roles are ordered: viewer < developer < admin.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:    0,
	RoleDeveloper: 1,
	RoleAdmin:     2,
}

// IsValid checks if the role is one of the predefined roles
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level.
// Unknown roles never do.
func (r Role) IsAtLeast(minRole Role) bool {
	current, ok := roleLevels[r]
	if !ok {
		return false
	}
	min, ok := roleLevels[minRole]
	if !ok {
		return false
	}
	return current >= min
}

// ParseRole parses s into a Role and reports whether it is valid.
func ParseRole(s string) (Role, bool) {
	role := Role(s)
	return role, role.IsValid()
}

// HasRole reports whether the user holds at least minRole.
func (u *User) HasRole(minRole Role) bool {
	if u == nil {
		return false
	}
	return Role(u.Role).IsAtLeast(minRole)
}
