package auth

import (
	"github.com/ventro/backend/internal/core"
)

// Roles in ascending order of privilege. DEVELOPER sits above ADMIN in
// the ordering but holds a deliberately narrow, non-cumulative permission
// set: operational access without financial write authority.
const (
	RoleExternalAuditor = "EXTERNAL_AUDITOR"
	RoleAPAnalyst       = "AP_ANALYST"
	RoleAPManager       = "AP_MANAGER"
	RoleFinanceDirector = "FINANCE_DIRECTOR"
	RoleAdmin           = "ADMIN"
	RoleDeveloper       = "DEVELOPER"
	RoleMaster          = "MASTER"
)

type Permission string

const (
	PermDocumentsRead      Permission = "documents:read"
	PermDocumentsWrite     Permission = "documents:write"
	PermReconciliationRun  Permission = "reconciliation:run"
	PermReconciliationRead Permission = "reconciliation:read"
	PermBatchRun           Permission = "batch:run"
	PermSAMRFeedback       Permission = "samr:feedback"
	PermFindingsResolve    Permission = "findings:resolve"
	PermWorkpaperExport    Permission = "workpaper:export"
	PermAnalyticsRead      Permission = "analytics:read"
	PermAuditRead          Permission = "audit:read"
	PermAuditVerify        Permission = "audit:verify"
	PermUsersManage        Permission = "users:manage"
	PermWebhooksManage     Permission = "webhooks:manage"
	PermAPIKeysManage      Permission = "api_keys:manage"
	PermDebugAccess        Permission = "debug:access"
	PermCrossOrg           Permission = "org:cross"
)

var allPermissions = []Permission{
	PermDocumentsRead, PermDocumentsWrite,
	PermReconciliationRun, PermReconciliationRead,
	PermBatchRun, PermSAMRFeedback, PermFindingsResolve,
	PermWorkpaperExport, PermAnalyticsRead,
	PermAuditRead, PermAuditVerify,
	PermUsersManage, PermWebhooksManage,
	PermAPIKeysManage, PermDebugAccess, PermCrossOrg,
}

// rolePermissions is explicit per role rather than derived from the
// hierarchy, because DEVELOPER breaks the cumulative pattern.
var rolePermissions = map[string]map[Permission]bool{
	RoleExternalAuditor: permSet(
		PermDocumentsRead, PermReconciliationRead,
		PermWorkpaperExport, PermAuditRead,
	),
	RoleAPAnalyst: permSet(
		PermDocumentsRead, PermReconciliationRead,
		PermWorkpaperExport, PermAuditRead,
		PermDocumentsWrite, PermReconciliationRun, PermSAMRFeedback,
	),
	RoleAPManager: permSet(
		PermDocumentsRead, PermReconciliationRead,
		PermWorkpaperExport, PermAuditRead,
		PermDocumentsWrite, PermReconciliationRun, PermSAMRFeedback,
		PermBatchRun, PermFindingsResolve,
	),
	RoleFinanceDirector: permSet(
		PermDocumentsRead, PermReconciliationRead,
		PermWorkpaperExport, PermAuditRead,
		PermDocumentsWrite, PermReconciliationRun, PermSAMRFeedback,
		PermBatchRun, PermFindingsResolve,
		PermAnalyticsRead,
	),
	RoleAdmin: permSet(
		PermDocumentsRead, PermReconciliationRead,
		PermWorkpaperExport, PermAuditRead,
		PermDocumentsWrite, PermReconciliationRun, PermSAMRFeedback,
		PermBatchRun, PermFindingsResolve,
		PermAnalyticsRead,
		PermUsersManage, PermWebhooksManage, PermAuditVerify,
	),
	RoleDeveloper: permSet(
		PermDocumentsRead, PermDebugAccess,
		PermAPIKeysManage, PermUsersManage,
	),
	RoleMaster: permSet(allPermissions...),
}

func permSet(perms ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		m[p] = true
	}
	return m
}

func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

func HasPermission(role string, perm Permission) bool {
	set, ok := rolePermissions[role]
	return ok && set[perm]
}

// Permissions returns a stable snapshot of the role's permission set.
func Permissions(role string) []Permission {
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for _, p := range allPermissions {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

// Require returns a permission error unless the role carries perm.
func Require(role string, perm Permission) error {
	if !HasPermission(role, perm) {
		return core.Errorf(core.KindPermission, "role %s lacks %s", role, perm)
	}
	return nil
}

// CanAccessOrg enforces organization scoping. Only cross-org roles may
// touch resources outside their own organization.
func CanAccessOrg(role, userOrg, resourceOrg string) bool {
	if userOrg == resourceOrg {
		return true
	}
	return HasPermission(role, PermCrossOrg)
}
