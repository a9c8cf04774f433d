package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ventro/backend/internal/core"
)

func TestRoleHierarchyIsCumulativeThroughAdmin(t *testing.T) {
	// Each business role keeps everything below it and adds its own.
	assert.True(t, HasPermission(RoleExternalAuditor, PermWorkpaperExport))
	assert.False(t, HasPermission(RoleExternalAuditor, PermDocumentsWrite))

	assert.True(t, HasPermission(RoleAPAnalyst, PermDocumentsWrite))
	assert.True(t, HasPermission(RoleAPAnalyst, PermReconciliationRun))
	assert.False(t, HasPermission(RoleAPAnalyst, PermBatchRun))

	assert.True(t, HasPermission(RoleAPManager, PermBatchRun))
	assert.True(t, HasPermission(RoleAPManager, PermFindingsResolve))
	assert.False(t, HasPermission(RoleAPManager, PermAnalyticsRead))

	assert.True(t, HasPermission(RoleFinanceDirector, PermAnalyticsRead))
	assert.False(t, HasPermission(RoleFinanceDirector, PermUsersManage))

	assert.True(t, HasPermission(RoleAdmin, PermUsersManage))
	assert.True(t, HasPermission(RoleAdmin, PermAuditVerify))
}

func TestDeveloperIsNotCumulative(t *testing.T) {
	// DEVELOPER sits above ADMIN in rank but deliberately lacks financial
	// write access: operational tooling only.
	assert.True(t, HasPermission(RoleDeveloper, PermDebugAccess))
	assert.True(t, HasPermission(RoleDeveloper, PermUsersManage))
	assert.False(t, HasPermission(RoleDeveloper, PermDocumentsWrite))
	assert.False(t, HasPermission(RoleDeveloper, PermReconciliationRun))
	assert.False(t, HasPermission(RoleDeveloper, PermBatchRun))
	assert.False(t, HasPermission(RoleDeveloper, PermWorkpaperExport))
}

func TestMasterHoldsEverything(t *testing.T) {
	for _, p := range allPermissions {
		assert.True(t, HasPermission(RoleMaster, p), "MASTER must hold %s", p)
	}
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleAPAnalyst))
	assert.False(t, ValidRole("SUPERUSER"))
	assert.False(t, ValidRole(""))
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(RoleAdmin, PermUsersManage))

	err := Require(RoleAPAnalyst, PermUsersManage)
	assert.Error(t, err)
	assert.Equal(t, core.KindPermission, core.KindOf(err))
}

func TestCanAccessOrg(t *testing.T) {
	assert.True(t, CanAccessOrg(RoleAPAnalyst, "org-1", "org-1"))
	assert.False(t, CanAccessOrg(RoleAPAnalyst, "org-1", "org-2"))
	assert.False(t, CanAccessOrg(RoleAdmin, "org-1", "org-2"))

	// Only MASTER carries the cross-org permission.
	assert.True(t, CanAccessOrg(RoleMaster, "org-1", "org-2"))
}
