// Package auth issues and verifies JWTs and decides what each role may do.
package auth

import (
	"slices"

	"github.com/samber/lo"
)

type Role string

const (
	RoleViewer  Role = "viewer"
	RoleSales   Role = "sales"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

var Roles = []Role{RoleViewer, RoleSales, RoleManager, RoleAdmin}

func (r Role) Valid() bool { return lo.Contains(Roles, r) }

type Permission string

const (
	DealsRead      Permission = "deals:read"
	DealsCreate    Permission = "deals:create"
	DealsUpdate    Permission = "deals:update"
	DealsMove      Permission = "deals:move"
	DealsClose     Permission = "deals:close"
	DealsDelete    Permission = "deals:delete"
	DealsReopen    Permission = "deals:reopen"
	PipelinesRead  Permission = "pipelines:read"
	PipelinesWrite Permission = "pipelines:write"
	MatricesWrite  Permission = "matrices:write"
	UsersWrite     Permission = "users:write"
	ActivitiesRead Permission = "activities:read"
)

var (
	viewerPermissions  = []Permission{DealsRead, PipelinesRead, ActivitiesRead}
	salesPermissions   = append(slices.Clone(viewerPermissions), DealsCreate, DealsUpdate, DealsMove, DealsClose)
	managerPermissions = append(slices.Clone(salesPermissions), DealsDelete, DealsReopen, PipelinesWrite)
	adminPermissions   = append(slices.Clone(managerPermissions), MatricesWrite, UsersWrite)
)

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleViewer:  set(viewerPermissions),
	RoleSales:   set(salesPermissions),
	RoleManager: set(managerPermissions),
	RoleAdmin:   set(adminPermissions),
}

func set(perms []Permission) map[Permission]struct{} {
	return lo.SliceToMap(perms, func(p Permission) (Permission, struct{}) { return p, struct{}{} })
}

// HasPermission reports whether role grants perm. Unknown roles grant nothing.
func HasPermission(role Role, perm Permission) bool {
	_, ok := rolePermissions[role][perm]
	return ok
}

// Permissions lists what role grants, in declaration order.
func Permissions(role Role) []Permission {
	switch role {
	case RoleViewer:
		return slices.Clone(viewerPermissions)
	case RoleSales:
		return slices.Clone(salesPermissions)
	case RoleManager:
		return slices.Clone(managerPermissions)
	case RoleAdmin:
		return slices.Clone(adminPermissions)
	}
	return nil
}

// AtLeast reports whether role ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return lo.IndexOf(Roles, r) >= lo.IndexOf(Roles, min) && r.Valid()
}
