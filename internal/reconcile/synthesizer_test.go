package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/llm"
)

type fakeCompleter struct {
	out  string
	err  error
	last llm.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, string, error) {
	f.last = req
	return f.out, "fake", f.err
}

func TestSynthesizeParsesModelVerdict(t *testing.T) {
	fc := &fakeCompleter{out: `{
		"overall_status": "partial_match",
		"confidence": 0.82,
		"line_item_matches": [
			{"id": "m-1", "description": "Aeron Chair", "status": "price_mismatch"},
			{"description": "Floor Mat", "status": "matched"}
		],
		"discrepancy_summary": ["invoice unit price exceeds PO by 150.00"],
		"recommendation": "investigate",
		"audit_narrative": "Invoice price for Aeron Chair differs from the PO."
	}`}

	verdict, syn := NewSynthesizer(fc).Synthesize(context.Background(), nil, nil)
	require.NotNil(t, syn)
	assert.Equal(t, core.VerdictPartial, verdict)
	assert.Equal(t, "investigate", syn.Recommendation)
	assert.InDelta(t, 0.82, syn.Confidence, 1e-9)
	assert.NotEmpty(t, syn.AuditNarrative)

	// Low temperature and JSON mode on the wire.
	assert.LessOrEqual(t, fc.last.Temperature, 0.1)
	assert.True(t, fc.last.JSONMode)

	// Matches keep their id, or get one assigned.
	require.Len(t, syn.LineItemMatches, 2)
	assert.Equal(t, "m-1", syn.LineItemMatches[0].ID)
	assert.NotEmpty(t, syn.LineItemMatches[1].ID)
}

func TestSynthesizeStatusMapping(t *testing.T) {
	cases := map[string]core.Verdict{
		"full_match":    core.VerdictMatched,
		"partial_match": core.VerdictPartial,
		"mismatch":      core.VerdictDiscrepancy,
		"exception":     core.VerdictDiscrepancy,
	}
	for status, want := range cases {
		fc := &fakeCompleter{out: `{"overall_status": "` + status + `", "recommendation": "investigate"}`}
		verdict, syn := NewSynthesizer(fc).Synthesize(context.Background(), nil, nil)
		require.NotNil(t, syn, status)
		assert.Equal(t, want, verdict, status)
	}
}

func TestSynthesizeFallsBackToRollupOnChainError(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("all providers exhausted")}
	findings := []core.Finding{{Severity: core.SeverityHigh}}

	verdict, syn := NewSynthesizer(fc).Synthesize(context.Background(), nil, findings)
	assert.Nil(t, syn)
	assert.Equal(t, core.VerdictDiscrepancy, verdict)
}

func TestSynthesizeFallsBackToRollupOnBadOutput(t *testing.T) {
	// The rule-based terminal answers with extraction-shaped JSON; that is
	// not a synthesis and must not be treated as one.
	fc := &fakeCompleter{out: `{"vendor": "Acme", "extraction_method": "rule_based_fallback"}`}

	verdict, syn := NewSynthesizer(fc).Synthesize(context.Background(), nil, nil)
	assert.Nil(t, syn)
	assert.Equal(t, core.VerdictMatched, verdict)

	fc = &fakeCompleter{out: "not json at all"}
	verdict, syn = NewSynthesizer(fc).Synthesize(context.Background(), nil, []core.Finding{{Severity: core.SeverityLow}})
	assert.Nil(t, syn)
	assert.Equal(t, core.VerdictPartial, verdict)
}

func TestSynthesisPromptCarriesEvidence(t *testing.T) {
	results := []core.ExtractionResult{{
		DocType:   core.DocPurchaseOrder,
		DocNumber: "PO-7001",
		Vendor:    "Acme Industrial",
	}}
	findings := []core.Finding{{
		Severity:    core.SeverityHigh,
		Type:        core.FindingPriceDiscrepancy,
		Description: "unit price variance on row 0",
		Expected:    "1200.00 USD",
		Actual:      "1350.00 USD",
	}}

	prompt := synthesisPrompt(results, findings)
	assert.Contains(t, prompt, "PO-7001")
	assert.Contains(t, prompt, "Acme Industrial")
	assert.Contains(t, prompt, "price_discrepancy")
	assert.Contains(t, prompt, "1350.00 USD")
	assert.Contains(t, prompt, `"overall_status"`)
}
