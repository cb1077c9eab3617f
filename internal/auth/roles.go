package auth

import "strings"

// Role orders what a building user may do. Higher roles include lower ones.
type Role string

const (
	RoleResident Role = "resident"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

var roleRanks = map[Role]int{
	RoleResident: 1,
	RoleManager:  2,
	RoleAdmin:    3,
}

// Tokens minted by the building management system use its own role names.
var roleAliases = map[string]Role{
	"building_admin": RoleAdmin,
	"superadmin":     RoleAdmin,
	"staff":          RoleManager,
}

// NormalizeRole maps a claim onto a Role, ignoring case and surrounding space.
func NormalizeRole(value string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(value))
	if _, ok := roleRanks[Role(key)]; ok {
		return Role(key), true
	}
	role, ok := roleAliases[key]
	return role, ok
}

// RoleAtLeast reports whether role satisfies required. Unknown roles satisfy nothing.
func RoleAtLeast(role Role, required Role) bool {
	rank, ok := roleRanks[role]
	return ok && rank >= roleRanks[required]
}
