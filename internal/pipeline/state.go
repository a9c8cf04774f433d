package pipeline

import (
	"github.com/ventro/backend/internal/core"
)

// transitions is the only legal forward edge per state. The SAMR stage
// is skippable; compliance_checked may advance directly to reconciled
// when the probe is disabled for the org.
var transitions = map[core.SessionState][]core.SessionState{
	core.StateInitialized:       {core.StateExtracted},
	core.StateExtracted:         {core.StateQuantified},
	core.StateQuantified:        {core.StateComplianceChecked},
	core.StateComplianceChecked: {core.StateSAMRComplete, core.StateReconciled},
	core.StateSAMRComplete:      {core.StateReconciled},
	core.StateReconciled:        {core.StateCompleted},
}

// CanTransition reports whether from -> to is a legal edge. Failure is
// reachable from every non-terminal state.
func CanTransition(from, to core.SessionState) bool {
	if to == core.StateFailed {
		return from != core.StateCompleted
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the run.
func Terminal(s core.SessionState) bool {
	return s == core.StateCompleted || s == core.StateFailed
}
