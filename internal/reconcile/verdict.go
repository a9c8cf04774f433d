package reconcile

import (
	"github.com/ventro/backend/internal/core"
)

// Rollup derives the session verdict from the accumulated findings alone.
// Any high or critical finding forces a discrepancy; low and medium
// findings downgrade a clean run to a partial match. It is the fallback
// verdict when the model chain cannot produce a synthesis.
func Rollup(findings []core.Finding) core.Verdict {
	if len(findings) == 0 {
		return core.VerdictMatched
	}
	for _, f := range findings {
		if f.Severity == core.SeverityHigh || f.Severity == core.SeverityCritical {
			return core.VerdictDiscrepancy
		}
	}
	return core.VerdictPartial
}
