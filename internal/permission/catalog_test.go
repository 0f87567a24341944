package permission

import (
	"testing"

	"github.com/org/authcore/pkg/models"
)

func TestHasPermissionExactMatch(t *testing.T) {
	cat := NewCatalog(map[models.Role][]models.Permission{
		models.RoleManager: {models.PermQuotesEdit},
	}, nil)

	if !cat.HasPermission(models.RoleManager, models.PermQuotesEdit) {
		t.Error("expected quotes.edit to be allowed")
	}
	if cat.HasPermission(models.RoleManager, models.PermQuotesDelete) {
		t.Error("expected quotes.delete to be denied")
	}
}

func TestWildcardRole(t *testing.T) {
	cat := Default()
	for _, p := range []models.Permission{models.PermAdminSystem, models.PermQuotesDelete, "made.up"} {
		if !cat.HasPermission(models.RoleAdmin, p) {
			t.Errorf("admin should hold %q", p)
		}
	}
}

func TestUnknownRoleFailsClosed(t *testing.T) {
	cat := Default()
	if cat.HasPermission("ghost", models.PermQuotesView) {
		t.Error("unknown role must be denied")
	}
	if cat.HasAnyPermission("ghost", []models.Permission{models.PermQuotesView, models.PermInvoicesView}) {
		t.Error("unknown role must be denied")
	}
	if cat.CanAccessModule("ghost", models.ModuleQuotes) {
		t.Error("unknown role must not enter a listed module")
	}
}

func TestHasAnyPermission(t *testing.T) {
	cat := Default()
	cases := []struct {
		role  models.Role
		perms []models.Permission
		want  bool
	}{
		{models.RoleWorker, []models.Permission{models.PermQuotesDelete, models.PermQuotesView}, true},
		{models.RoleWorker, []models.Permission{models.PermQuotesDelete, models.PermAdminUsers}, false},
		{models.RoleClient, nil, false},
	}
	for _, tc := range cases {
		if got := cat.HasAnyPermission(tc.role, tc.perms); got != tc.want {
			t.Errorf("role=%s perms=%v: expected %v got %v", tc.role, tc.perms, tc.want, got)
		}
	}
}

func TestCanAccessModule(t *testing.T) {
	cat := Default()
	cases := []struct {
		role models.Role
		mod  models.Module
		want bool
	}{
		{models.RoleWorker, models.ModuleQuotes, true},
		{models.RoleWorker, models.ModuleAdmin, false},
		{models.RoleClient, models.ModuleInvoices, true},
		{models.RoleClient, models.ModuleWorkers, false},
		{models.RoleAdmin, models.ModuleAdmin, true},
		// unlisted modules are open to everyone
		{models.RoleClient, models.ModuleDashboard, true},
		{models.RoleWorker, "marketing", true},
	}
	for _, tc := range cases {
		if got := cat.CanAccessModule(tc.role, tc.mod); got != tc.want {
			t.Errorf("role=%s module=%s: expected %v got %v", tc.role, tc.mod, tc.want, got)
		}
	}
}

func TestMissingListsEveryPermission(t *testing.T) {
	cat := Default()
	missing := cat.Missing(models.RoleWorker, []models.Permission{
		models.PermQuotesView, models.PermQuotesDelete, models.PermAdminUsers,
	})
	if len(missing) != 2 || missing[0] != models.PermQuotesDelete || missing[1] != models.PermAdminUsers {
		t.Errorf("unexpected missing set %v", missing)
	}
}

func TestRoleIsolation(t *testing.T) {
	base := DefaultRoles()
	before := NewCatalog(base, DefaultModules())

	extended := DefaultRoles()
	extended[models.RoleWorker] = append(extended[models.RoleWorker], models.PermQuotesDelete)
	after := NewCatalog(extended, DefaultModules())

	if !after.HasPermission(models.RoleWorker, models.PermQuotesDelete) {
		t.Fatal("worker should now hold quotes.delete")
	}
	all := []models.Permission{
		models.PermQuotesView, models.PermQuotesCreate, models.PermQuotesEdit, models.PermQuotesDelete,
		models.PermInvoicesView, models.PermInvoicesDelete, models.PermAdminUsers, models.PermAuditView,
	}
	for _, role := range before.Roles() {
		if role == models.RoleWorker {
			continue
		}
		for _, p := range all {
			if before.HasPermission(role, p) != after.HasPermission(role, p) {
				t.Errorf("role %s changed evaluation for %s", role, p)
			}
		}
	}
}

func TestCatalogCopiesInput(t *testing.T) {
	roles := map[models.Role][]models.Permission{models.RoleWorker: {models.PermQuotesView}}
	cat := NewCatalog(roles, nil)
	roles[models.RoleWorker][0] = models.PermAdminSystem
	roles[models.RoleClient] = []models.Permission{models.PermQuotesView}

	if !cat.HasPermission(models.RoleWorker, models.PermQuotesView) {
		t.Error("catalog must not observe caller mutation")
	}
	if cat.HasPermission(models.RoleClient, models.PermQuotesView) {
		t.Error("catalog must not observe added roles")
	}
}

func TestNewPrincipalMaterializesPermissions(t *testing.T) {
	cat := Default()
	p := cat.NewPrincipal("u-1", models.RoleWorker)
	if p.ID != "u-1" || p.Role != models.RoleWorker {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, ok := p.Permissions[models.PermQuotesView]; !ok {
		t.Error("expected quotes.view materialized")
	}
	if len(p.Permissions) != len(cat.Permissions(models.RoleWorker)) {
		t.Error("materialized set should match the role's set")
	}
}

func TestParseVocabulary(t *testing.T) {
	doc := []byte(`
roles:
  admin: ["*"]
  worker: [quotes.view]
modules:
  quotes: [quotes.view]
  admin: [admin.system]
`)
	cat, err := Parse(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cat.HasPermission(models.RoleWorker, models.PermQuotesView) {
		t.Error("worker should hold quotes.view")
	}
	if cat.CanAccessModule(models.RoleWorker, models.ModuleAdmin) {
		t.Error("worker should not enter admin")
	}
	if !cat.CanAccessModule(models.RoleAdmin, models.ModuleAdmin) {
		t.Error("admin should enter admin")
	}

	if _, err := Parse([]byte("modules: {}")); err == nil {
		t.Error("expected error for catalog without roles")
	}
}
