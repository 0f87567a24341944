package permission

import (
	"slices"

	"github.com/org/authcore/pkg/models"
)

// Catalog maps roles to permission sets and modules to the permissions
// required to enter them. A Catalog is immutable once built.
type Catalog struct {
	roles   map[models.Role]map[models.Permission]struct{}
	modules map[models.Module][]models.Permission
}

// NewCatalog builds a Catalog from role and module tables. The input maps are
// copied so later mutation by the caller has no effect.
func NewCatalog(roles map[models.Role][]models.Permission, modules map[models.Module][]models.Permission) *Catalog {
	c := &Catalog{
		roles:   make(map[models.Role]map[models.Permission]struct{}, len(roles)),
		modules: make(map[models.Module][]models.Permission, len(modules)),
	}
	for role, perms := range roles {
		set := make(map[models.Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		c.roles[role] = set
	}
	for mod, perms := range modules {
		c.modules[mod] = append([]models.Permission(nil), perms...)
	}
	return c
}

// HasPermission reports whether role holds perm. Unknown roles and
// permissions evaluate to false.
func (c *Catalog) HasPermission(role models.Role, perm models.Permission) bool {
	set, ok := c.roles[role]
	if !ok {
		return false
	}
	if _, ok := set[models.AllPermissions]; ok {
		return true
	}
	_, ok = set[perm]
	return ok
}

// HasAnyPermission reports whether role holds at least one of perms.
func (c *Catalog) HasAnyPermission(role models.Role, perms []models.Permission) bool {
	for _, p := range perms {
		if c.HasPermission(role, p) {
			return true
		}
	}
	return false
}

// Missing returns the subset of perms that role does not hold, in input order.
func (c *Catalog) Missing(role models.Role, perms []models.Permission) []models.Permission {
	var missing []models.Permission
	for _, p := range perms {
		if !c.HasPermission(role, p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// CanAccessModule reports whether role may enter mod. A module with no
// registered requirement is open to every role; otherwise any one of the
// module's permissions grants entry.
func (c *Catalog) CanAccessModule(role models.Role, mod models.Module) bool {
	required, ok := c.modules[mod]
	if !ok || len(required) == 0 {
		return true
	}
	return c.HasAnyPermission(role, required)
}

// Permissions returns the permissions held by role, sorted.
func (c *Catalog) Permissions(role models.Role) []models.Permission {
	set := c.roles[role]
	out := make([]models.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Roles lists every role known to the catalog, sorted.
func (c *Catalog) Roles() []models.Role {
	out := make([]models.Role, 0, len(c.roles))
	for r := range c.roles {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// NewPrincipal materializes a Principal for id with role's permission set.
func (c *Catalog) NewPrincipal(id string, role models.Role) *models.Principal {
	set := make(map[models.Permission]struct{}, len(c.roles[role]))
	for p := range c.roles[role] {
		set[p] = struct{}{}
	}
	return &models.Principal{ID: id, Role: role, Permissions: set}
}
