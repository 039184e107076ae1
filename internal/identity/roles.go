package identity

import (
	"fmt"
	"strings"
)

// Role is an immutable label from the closed catalog. The name doubles as
// the persisted claim value and the lookup key.
type Role struct {
	Name string
}

func (r Role) String() string { return r.Name }

var (
	RoleSuperAdmin   = Role{Name: "super_admin"}
	RoleAdmin        = Role{Name: "admin"}
	RoleOrgRootUser  = Role{Name: "root_user"}
	RoleDoctor       = Role{Name: "doctor"}
	RoleCentre       = Role{Name: "centre"}
	RoleResearchUser = Role{Name: "research_user"}
	RoleStraxService = Role{Name: "strax_service"}
	RoleAnnotator    = Role{Name: "annotator"}
)

// roleCatalog holds the closed set in seeding order. The order is part of
// the contract: seeding and listings must be deterministic.
var roleCatalog = []Role{
	RoleSuperAdmin,
	RoleAdmin,
	RoleOrgRootUser,
	RoleDoctor,
	RoleCentre,
	RoleResearchUser,
	RoleStraxService,
	RoleAnnotator,
}

// Roles returns the catalog in stable order.
func Roles() []Role {
	out := make([]Role, len(roleCatalog))
	copy(out, roleCatalog)
	return out
}

// RoleFromName resolves a role by its persisted name. Unknown names fail;
// roles are never created implicitly.
func RoleFromName(name string) (Role, error) {
	normalized := strings.TrimSpace(strings.ToLower(name))
	for _, r := range roleCatalog {
		if r.Name == normalized {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}
