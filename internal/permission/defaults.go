package permission

import "github.com/org/authcore/pkg/models"

// DefaultRoles is the built-in role table.
func DefaultRoles() map[models.Role][]models.Permission {
	return map[models.Role][]models.Permission{
		models.RoleAdmin: {models.AllPermissions},
		models.RoleManager: {
			models.PermQuotesView, models.PermQuotesCreate, models.PermQuotesEdit, models.PermQuotesDelete,
			models.PermInvoicesView, models.PermInvoicesCreate, models.PermInvoicesEdit, models.PermInvoicesDelete,
			models.PermClientsView, models.PermClientsCreate, models.PermClientsEdit,
			models.PermWorkersView, models.PermWorkersManage,
			models.PermReportsView, models.PermReportsExport,
			models.PermWorkflowsView, models.PermWorkflowsManage,
			models.PermSettingsView,
			models.PermAuditView,
		},
		models.RoleSupervisor: {
			models.PermQuotesView, models.PermQuotesCreate, models.PermQuotesEdit,
			models.PermInvoicesView,
			models.PermClientsView,
			models.PermWorkersView, models.PermWorkersManage,
			models.PermReportsView,
			models.PermWorkflowsView,
		},
		models.RoleWorker: {
			models.PermQuotesView,
			models.PermWorkflowsView,
		},
		models.RoleClient: {
			models.PermQuotesView,
			models.PermInvoicesView,
		},
	}
}

// DefaultModules is the built-in module requirement table. The dashboard is
// deliberately absent so every role can reach it.
func DefaultModules() map[models.Module][]models.Permission {
	return map[models.Module][]models.Permission{
		models.ModuleQuotes:    {models.PermQuotesView},
		models.ModuleInvoices:  {models.PermInvoicesView},
		models.ModuleClients:   {models.PermClientsView},
		models.ModuleWorkers:   {models.PermWorkersView},
		models.ModuleReports:   {models.PermReportsView},
		models.ModuleWorkflows: {models.PermWorkflowsView},
		models.ModuleSettings:  {models.PermSettingsView, models.PermSettingsEdit},
		models.ModuleAudit:     {models.PermAuditView},
		models.ModuleAdmin:     {models.PermAdminSystem, models.PermAdminUsers},
	}
}

// Default returns a Catalog built from the built-in tables.
func Default() *Catalog {
	return NewCatalog(DefaultRoles(), DefaultModules())
}
