package models

import "time"

// Role is a named bundle of permissions assigned to a principal.
type Role string

// Built-in roles. The set is closed; anything else evaluates to no access.
const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleSupervisor Role = "supervisor"
	RoleWorker     Role = "worker"
	RoleClient     Role = "client"
)

// Permission is an atomic capability token such as "quotes.edit".
type Permission string

// AllPermissions is the reserved wildcard. A role holding it passes every check.
const AllPermissions Permission = "*"

// Permission vocabulary, grouped by domain.
const (
	PermQuotesView   Permission = "quotes.view"
	PermQuotesCreate Permission = "quotes.create"
	PermQuotesEdit   Permission = "quotes.edit"
	PermQuotesDelete Permission = "quotes.delete"

	PermInvoicesView   Permission = "invoices.view"
	PermInvoicesCreate Permission = "invoices.create"
	PermInvoicesEdit   Permission = "invoices.edit"
	PermInvoicesDelete Permission = "invoices.delete"

	PermClientsView   Permission = "clients.view"
	PermClientsCreate Permission = "clients.create"
	PermClientsEdit   Permission = "clients.edit"
	PermClientsDelete Permission = "clients.delete"

	PermWorkersView   Permission = "workers.view"
	PermWorkersManage Permission = "workers.manage"

	PermReportsView   Permission = "reports.view"
	PermReportsExport Permission = "reports.export"

	PermWorkflowsView   Permission = "workflows.view"
	PermWorkflowsManage Permission = "workflows.manage"

	PermSettingsView Permission = "settings.view"
	PermSettingsEdit Permission = "settings.edit"

	PermAuditView Permission = "audit.view"

	PermAdminSystem Permission = "admin.system"
	PermAdminUsers  Permission = "admin.users"
)

// Module is a coarse-grained protected area.
type Module string

const (
	ModuleDashboard Module = "dashboard"
	ModuleQuotes    Module = "quotes"
	ModuleInvoices  Module = "invoices"
	ModuleClients   Module = "clients"
	ModuleWorkers   Module = "workers"
	ModuleReports   Module = "reports"
	ModuleWorkflows Module = "workflows"
	ModuleSettings  Module = "settings"
	ModuleAudit     Module = "audit"
	ModuleAdmin     Module = "admin"
)

// Principal is the authenticated actor. Permissions is materialized from
// the role at authentication time for fast lookup.
type Principal struct {
	ID          string
	Role        Role
	Permissions map[Permission]struct{}
}

// Has reports whether p holds perm. The AllPermissions sentinel grants every
// permission.
func (p *Principal) Has(perm Permission) bool {
	if _, ok := p.Permissions[AllPermissions]; ok {
		return true
	}
	_, ok := p.Permissions[perm]
	return ok
}

// Missing returns the subset of perms p does not hold, in input order.
func (p *Principal) Missing(perms []Permission) []Permission {
	var missing []Permission
	for _, perm := range perms {
		if !p.Has(perm) {
			missing = append(missing, perm)
		}
	}
	return missing
}

// PermissionList returns the materialized permissions in no particular order.
func (p *Principal) PermissionList() []Permission {
	out := make([]Permission, 0, len(p.Permissions))
	for perm := range p.Permissions {
		out = append(out, perm)
	}
	return out
}

// TokenInfo is the session view of the current token.
type TokenInfo struct {
	ValidUntil      time.Time
	AuthenticatedAt time.Time
}

// Valid reports whether the token is still usable at now.
func (t TokenInfo) Valid(now time.Time) bool {
	return t.ValidUntil.After(now)
}

// Credential is a stored login credential for a principal.
type Credential struct {
	PrincipalID  string
	Role         Role
	PasswordHash []byte
	CreatedAt    time.Time
}

// Token represents an issued session token. Only the hash of the opaque
// token string is persisted.
type Token struct {
	ID              string
	PrincipalID     string
	Role            Role
	TTL             time.Duration
	CreatedAt       time.Time
	AuthenticatedAt time.Time
	ExpiresAt       time.Time
	RevokedAt       *time.Time
}

// ExpiredAt returns true if the token has passed its expiry time at now.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// IsRevoked returns true if the token has been revoked.
func (t *Token) IsRevoked() bool {
	return t.RevokedAt != nil
}

// Info returns the session view of the token.
func (t *Token) Info() TokenInfo {
	return TokenInfo{ValidUntil: t.ExpiresAt, AuthenticatedAt: t.AuthenticatedAt}
}
