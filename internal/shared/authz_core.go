package shared

// Core platform permissions.
const (
	PermRolesView = "roles.view"
	PermRolesEdit = "roles.edit"

	PermPermissionsView = "permissions.view"

	PermJobsView = "jobs.view"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermJobsView,
	}
}

// AllScopes lists every permission known to the application.
func AllScopes() []string {
	var all []string
	all = append(all, CoreScopes()...)
	all = append(all, SalesScopes()...)
	all = append(all, DeliveryScopes()...)
	all = append(all, LedgerScopes()...)
	return all
}
