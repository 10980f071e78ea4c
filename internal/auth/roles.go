package auth

// Admin role constants.
const (
	RoleViewer     = "viewer"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// WriteRoles returns roles that can move credits or money.
func WriteRoles() []string {
	return []string{RoleAdmin, RoleSuperAdmin}
}

// IsAdminRole reports whether role is one of the admin realm roles.
func IsAdminRole(role string) bool {
	switch role {
	case RoleViewer, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}
