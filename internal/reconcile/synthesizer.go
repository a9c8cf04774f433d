package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/llm"
)

// Completer is the slice of the provider router the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, string, error)
}

// Synthesizer asks the model chain for the session verdict: overall
// status, line-item match states, a recommendation, and the audit
// narrative. The deterministic severity rollup is the fallback when the
// chain is exhausted or the output is unusable.
type Synthesizer struct {
	completer Completer
}

func NewSynthesizer(c Completer) *Synthesizer {
	return &Synthesizer{completer: c}
}

const synthesisSystem = "You are a procurement reconciliation reviewer. " +
	"Judge the three-way match from the extracted figures and findings. " +
	"Respond with a single JSON object."

// Synthesize produces the verdict and its synthesis. A nil synthesis
// means the rollup decided.
func (s *Synthesizer) Synthesize(ctx context.Context, results []core.ExtractionResult, findings []core.Finding) (core.Verdict, *core.Synthesis) {
	raw, provider, err := s.completer.Complete(ctx, llm.CompletionRequest{
		System:      synthesisSystem,
		Prompt:      synthesisPrompt(results, findings),
		Temperature: 0.1,
		MaxTokens:   1024,
		JSONMode:    true,
	})
	if err != nil {
		slog.Warn("verdict synthesis chain exhausted, using severity rollup", "error", err)
		return Rollup(findings), nil
	}

	var syn core.Synthesis
	if uerr := json.Unmarshal([]byte(raw), &syn); uerr != nil || syn.OverallStatus == "" {
		slog.Warn("verdict synthesis output unusable, using severity rollup", "provider", provider, "error", uerr)
		return Rollup(findings), nil
	}

	for i := range syn.LineItemMatches {
		if syn.LineItemMatches[i].ID == "" {
			syn.LineItemMatches[i].ID = uuid.NewString()
		}
	}
	return verdictFromStatus(syn.OverallStatus, findings), &syn
}

func verdictFromStatus(status string, findings []core.Finding) core.Verdict {
	switch status {
	case "full_match":
		return core.VerdictMatched
	case "partial_match":
		return core.VerdictPartial
	case "mismatch", "exception":
		return core.VerdictDiscrepancy
	default:
		return Rollup(findings)
	}
}

// synthesisPrompt is the compact pre-match: every document's figures plus
// the deterministic findings, so the model judges rather than recomputes.
func synthesisPrompt(results []core.ExtractionResult, findings []core.Finding) string {
	var b strings.Builder
	b.WriteString("Three-way match evidence:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "%s %s vendor=%s total=%s\n", r.DocType, r.DocNumber, r.Vendor, r.DocumentTotal)
		for _, li := range r.LineItems {
			fmt.Fprintf(&b, "  %s qty=%s unit=%s total=%s\n", li.Description, li.Quantity, li.UnitPrice, li.LineTotal)
		}
	}
	b.WriteString("\nDeterministic findings:\n")
	if len(findings) == 0 {
		b.WriteString("- none\n")
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s: %s", f.Severity, f.Type, f.Description)
		if f.Expected != "" || f.Actual != "" {
			fmt.Fprintf(&b, " (expected %s, actual %s)", f.Expected, f.Actual)
		}
		b.WriteByte('\n')
	}
	b.WriteString(`
Respond as JSON:
{"overall_status": "full_match"|"partial_match"|"mismatch"|"exception",
 "confidence": number 0..1,
 "line_item_matches": [{"id": string, "description": string, "status": string}],
 "discrepancy_summary": [string],
 "recommendation": "approve"|"reject"|"investigate"|"partial_approve",
 "audit_narrative": string}`)
	return b.String()
}
