// Package permissions holds the static capability table of the stock service.
//
// Capabilities are looked up explicitly as table[role][module][action]; there
// is no wildcard expansion and no runtime construction of permission objects.
package permissions

import "sort"

// Module is a functional area guarded by capabilities.
type Module string

// Action is an operation inside a module.
type Action string

const (
	ModuleStock        Module = "stock"
	ModuleAllocation   Module = "allocation"
	ModuleNotification Module = "notification"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionMove   Action = "move"
	ActionSettle Action = "settle"
	ActionManage Action = "manage"
)

// Roles known to the service. Unknown roles have no capabilities.
const (
	RoleAdmin        = "admin"
	RoleStockManager = "stock_manager"
	RoleSupervisor   = "supervisor"
	RoleTechnician   = "technician"
	RoleViewer       = "viewer"
)

// Table maps module → action → allowed.
type Table map[Module]map[Action]bool

var roleTables = map[string]Table{
	RoleAdmin: {
		ModuleStock:        {ActionRead: true, ActionWrite: true, ActionMove: true, ActionManage: true},
		ModuleAllocation:   {ActionRead: true, ActionWrite: true, ActionSettle: true},
		ModuleNotification: {ActionRead: true},
	},
	RoleStockManager: {
		ModuleStock:        {ActionRead: true, ActionWrite: true, ActionMove: true, ActionManage: true},
		ModuleAllocation:   {ActionRead: true, ActionWrite: true, ActionSettle: true},
		ModuleNotification: {ActionRead: true},
	},
	RoleSupervisor: {
		ModuleStock:        {ActionRead: true},
		ModuleAllocation:   {ActionRead: true, ActionWrite: true, ActionSettle: true},
		ModuleNotification: {ActionRead: true},
	},
	RoleTechnician: {
		ModuleStock:        {ActionRead: true},
		ModuleAllocation:   {ActionRead: true, ActionWrite: true},
		ModuleNotification: {ActionRead: true},
	},
	RoleViewer: {
		ModuleStock:      {ActionRead: true},
		ModuleAllocation: {ActionRead: true},
	},
}

// Can reports whether role may perform action on module.
func Can(role string, module Module, action Action) bool {
	return roleTables[role][module][action]
}

// RolesWith lists, in stable order, every role allowed to perform action on module.
func RolesWith(module Module, action Action) []string {
	var roles []string
	for role, table := range roleTables {
		if table[module][action] {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}
