package api

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ventro/backend/internal/core"
)

func TestCanStartRunOnlyFromInitialized(t *testing.T) {
	assert.True(t, canStartRun(core.StateInitialized))

	// Every in-flight or terminal state conflicts with a new run.
	for _, state := range []core.SessionState{
		core.StateExtracted,
		core.StateQuantified,
		core.StateComplianceChecked,
		core.StateSAMRComplete,
		core.StateReconciled,
		core.StateCompleted,
		core.StateFailed,
	} {
		assert.False(t, canStartRun(state), "state %s must refuse a run", state)
	}
}
