package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleSupervisor = "supervisor"
	RoleSuperAdmin = "super_admin"
	RoleOperator   = "operator" // hidden role: force-recovers stuck calls
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleOperator }
