package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCustomer   = "customer"
	RoleAdmin      = "admin"
	RoleFinance    = "finance"
	RoleSuperAdmin = "super_admin"
)

// AdminRoles may approve refunds and settle or cancel transactions by hand.
var AdminRoles = []string{RoleAdmin, RoleFinance}

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleCustomer, RoleAdmin, RoleFinance, RoleSuperAdmin:
		return true
	default:
		return false
	}
}
