package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

func line(desc, part string) core.LineItem {
	return core.LineItem{
		Description: desc,
		PartNumber:  part,
		Quantity:    decimal.NewFromInt(1),
	}
}

func TestMatchLinesExactPartNumberBeatsDescriptions(t *testing.T) {
	left := []core.LineItem{line("Fastener assembly", "PN-1001")}
	right := []core.LineItem{line("Hex bolt kit, zinc plated", "PN-1001")}

	result := MatchLines(left, right)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 100.0, result.Pairs[0].Score)
	assert.Empty(t, result.UnmatchedLeft)
	assert.Empty(t, result.UnmatchedRight)
}

func TestMatchLinesByDescription(t *testing.T) {
	left := []core.LineItem{
		line("Steel Widget M6", ""),
		line("Copper Pipe 15mm", ""),
	}
	right := []core.LineItem{
		line("Copper Pipe 15mm x 3m", ""),
		line("M6 Steel Widget", ""),
	}

	result := MatchLines(left, right)
	require.Len(t, result.Pairs, 2)

	byLeft := map[int]int{}
	for _, p := range result.Pairs {
		byLeft[p.LeftIndex] = p.RightIndex
	}
	assert.Equal(t, 1, byLeft[0]) // widget pairs with reordered widget
	assert.Equal(t, 0, byLeft[1]) // pipe pairs with pipe
}

func TestMatchLinesGreedyTakesBestScoreFirst(t *testing.T) {
	left := []core.LineItem{line("Steel Widget M6", "")}
	right := []core.LineItem{
		line("Steel Widget M8", ""),
		line("Steel Widget M6", ""),
	}

	result := MatchLines(left, right)
	require.Len(t, result.Pairs, 1)
	assert.Equal(t, 1, result.Pairs[0].RightIndex, "the exact description must win over the near miss")
	assert.Equal(t, []int{0}, result.UnmatchedRight)
}

func TestMatchLinesLeavesWeakCandidatesUnmatched(t *testing.T) {
	left := []core.LineItem{line("Annual software subscription", "")}
	right := []core.LineItem{line("Copper pipe elbow joint", "")}

	result := MatchLines(left, right)
	assert.Empty(t, result.Pairs)
	assert.Equal(t, []int{0}, result.UnmatchedLeft)
	assert.Equal(t, []int{0}, result.UnmatchedRight)
}

func TestMatchLinesEachLineUsedOnce(t *testing.T) {
	left := []core.LineItem{
		line("Widget", "PN-1"),
		line("Widget", "PN-1"),
	}
	right := []core.LineItem{line("Widget", "PN-1")}

	result := MatchLines(left, right)
	require.Len(t, result.Pairs, 1)
	assert.Len(t, result.UnmatchedLeft, 1)
}

func TestUnmatchedFindings(t *testing.T) {
	po := &core.ExtractionResult{
		DocumentID: "doc-po",
		DocType:    core.DocPurchaseOrder,
		LineItems:  []core.LineItem{line("Widget", ""), line("Extra item on PO", "")},
	}
	inv := &core.ExtractionResult{
		DocumentID: "doc-inv",
		DocType:    core.DocInvoice,
		LineItems:  []core.LineItem{line("Widget", "")},
	}

	match := MatchResult{
		Pairs:         []core.LinePair{{LeftIndex: 0, RightIndex: 0, Score: 100}},
		UnmatchedLeft: []int{1},
	}

	findings := UnmatchedFindings(po, inv, match)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingMissingLineItem, findings[0].Type)
	assert.Equal(t, core.SeverityHigh, findings[0].Severity)
	assert.Equal(t, "Extra item on PO", findings[0].Actual)
	assert.Equal(t, "doc-po", findings[0].Details["document_id"])
}

func TestRollupVerdict(t *testing.T) {
	assert.Equal(t, core.VerdictMatched, Rollup(nil))

	assert.Equal(t, core.VerdictPartial, Rollup([]core.Finding{
		{Severity: core.SeverityLow},
		{Severity: core.SeverityMedium},
	}))

	assert.Equal(t, core.VerdictDiscrepancy, Rollup([]core.Finding{
		{Severity: core.SeverityLow},
		{Severity: core.SeverityHigh},
	}))

	assert.Equal(t, core.VerdictDiscrepancy, Rollup([]core.Finding{
		{Severity: core.SeverityCritical},
	}))
}
