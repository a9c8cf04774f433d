package workpaper

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

func sampleInput() Input {
	total := core.Money{Amount: decimal.NewFromFloat(45.00), Currency: "USD"}
	return Input{
		Session: core.Session{ID: "sess-1", OrgID: "org-1", State: core.StateCompleted},
		Documents: []core.Document{
			{ID: "doc-po", Type: core.DocPurchaseOrder, Filename: "po.pdf", Vendor: "Acme", DocNumber: "PO-2024-0091", Version: 1, ContentHash: "abc123"},
			{ID: "doc-inv", Type: core.DocInvoice, Filename: "inv.pdf", Vendor: "Acme", DocNumber: "INV-2024-0091", Version: 1, ContentHash: "def456"},
		},
		Results: []core.ExtractionResult{{
			DocumentID:    "doc-inv",
			DocType:       core.DocInvoice,
			Vendor:        "Acme",
			DocNumber:     "INV-2024-0091",
			Currency:      "USD",
			Method:        "groq",
			DocumentTotal: total,
			LineItems: []core.LineItem{{
				Description: "Steel Widget M6",
				Quantity:    decimal.NewFromInt(10),
				UnitPrice:   core.Money{Amount: decimal.NewFromFloat(4.50), Currency: "USD"},
				LineTotal:   total,
			}},
			Citations: []core.Citation{{Field: "document_total", DocumentID: "doc-inv", Page: 1, Snippet: "Total: 45.00"}},
		}},
		Findings: []core.Finding{{
			Type:        core.FindingPriceDiscrepancy,
			Severity:    core.SeverityHigh,
			Description: "unit price differs",
			Expected:    "4.50 USD",
			Actual:      "5.00 USD",
		}},
		Alerts: []core.SAMRAlert{{
			SessionID:      "sess-1",
			Similarity:     0.97,
			Threshold:      0.85,
			Interpretation: "answers did not track the perturbed evidence",
			CreatedAt:      time.Now(),
		}},
		Verdict: core.VerdictDiscrepancy,
		Synthesis: &core.Synthesis{
			OverallStatus:      "mismatch",
			Confidence:         0.91,
			Recommendation:     "investigate",
			AuditNarrative:     "Invoice unit price exceeds the agreed PO price.",
			DiscrepancySummary: []string{"unit price variance of 0.50 on row 0"},
			LineItemMatches:    []core.SynthesisMatch{{ID: "m-1", Description: "Steel Widget M6", Status: "price_mismatch"}},
		},
	}
}

func TestComposeRendersAllSections(t *testing.T) {
	out, err := Compose(sampleInput())
	require.NoError(t, err)

	html := string(out.HTML)
	assert.Contains(t, html, "sess-1")
	assert.Contains(t, html, "PO-2024-0091")
	assert.Contains(t, html, "Steel Widget M6")
	assert.Contains(t, html, "unit price differs")
	assert.Contains(t, html, "Reasoning integrity alert")
	assert.Contains(t, html, "Reviewer Synthesis")
	assert.Contains(t, html, "investigate")
	assert.Contains(t, html, "exceeds the agreed PO price")
	assert.Contains(t, html, "discrepancy")
	assert.Contains(t, html, `data-doc-id="doc-inv"`)
	assert.Contains(t, html, "SHA-256:"+out.Hash)
}

func TestComposeEscapesDocumentContent(t *testing.T) {
	in := sampleInput()
	in.Results[0].LineItems[0].Description = `<script>alert("xss")</script>`

	out, err := Compose(in)
	require.NoError(t, err)
	assert.NotContains(t, string(out.HTML), "<script>alert")
}

func TestVerifyBodyAcceptsUntamperedExport(t *testing.T) {
	out, err := Compose(sampleInput())
	require.NoError(t, err)

	recorded, computed, ok := VerifyBody(out.HTML)
	assert.True(t, ok)
	assert.Equal(t, out.Hash, recorded)
	assert.Equal(t, recorded, computed)
}

func TestVerifyBodyDetectsTampering(t *testing.T) {
	out, err := Compose(sampleInput())
	require.NoError(t, err)

	tampered := bytes.Replace(out.HTML, []byte("45.00"), []byte("99.00"), 1)
	require.NotEqual(t, out.HTML, tampered)

	recorded, computed, ok := VerifyBody(tampered)
	assert.False(t, ok)
	assert.Equal(t, out.Hash, recorded)
	assert.NotEqual(t, recorded, computed)
}

func TestVerifyBodyRejectsMissingFooter(t *testing.T) {
	_, _, ok := VerifyBody([]byte("<html><body>no footer</body></html>"))
	assert.False(t, ok)
}
