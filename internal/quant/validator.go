// Package quant performs the deterministic arithmetic checks of the
// reconciliation pipeline. No model output is trusted for math: every
// total is recomputed from extracted line items with exact decimals.
package quant

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ventro/backend/internal/core"
)

// Validator runs intra- and cross-document checks over a triplet's
// extraction results.
type Validator struct {
	rates *RateTable
}

func NewValidator(rates *RateTable) *Validator {
	if rates == nil {
		rates = NewRateTable("USD", nil)
	}
	return &Validator{rates: rates}
}

// ValidateDocument recomputes line and document totals within one result.
func (v *Validator) ValidateDocument(res *core.ExtractionResult) []core.Finding {
	var findings []core.Finding

	sum := decimal.Zero
	for i, li := range res.LineItems {
		expected := li.UnitPrice.Mul(li.Quantity)
		if !expected.WithinTolerance(li.LineTotal, core.CentTolerance) {
			findings = append(findings, core.Finding{
				Type:        core.FindingLineItemTotalMismatch,
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("line %d of %s: quantity x unit price does not equal line total", i+1, res.DocumentID),
				Expected:    expected.String(),
				Actual:      li.LineTotal.String(),
				Details: map[string]interface{}{
					"document_id": res.DocumentID,
					"line_index":  i,
					"quantity":    li.Quantity.String(),
					"unit_price":  li.UnitPrice.Amount.String(),
				},
			})
		}
		sum = sum.Add(li.LineTotal.Amount)
	}

	if len(res.LineItems) > 0 && !res.DocumentTotal.IsZero() {
		computed := core.Money{Amount: sum.Round(2), Currency: res.Currency}
		if !computed.WithinTolerance(res.DocumentTotal, core.CentTolerance) {
			findings = append(findings, core.Finding{
				Type:        core.FindingDocumentTotalMismatch,
				Severity:    core.SeverityHigh,
				Description: fmt.Sprintf("document %s: sum of line totals does not equal stated total", res.DocumentID),
				Expected:    computed.String(),
				Actual:      res.DocumentTotal.String(),
				Details:     map[string]interface{}{"document_id": res.DocumentID},
			})
		}
	}
	return findings
}

// quantityEpsilon absorbs rounding noise in extracted quantities; only a
// variance above it is a mismatch.
var quantityEpsilon = decimal.New(1, -2) // 0.01

// ValidateCross compares matched lines between two documents. The checks
// are scoped by leg: quantities on the receiving legs (PO-GRN and
// GRN-Invoice), unit prices on the pricing leg (PO-Invoice). pairs
// carries the resolved line correspondences from the matcher; when
// empty, lines are compared positionally as a fallback.
func (v *Validator) ValidateCross(left, right *core.ExtractionResult, pairs []core.LinePair) []core.Finding {
	var findings []core.Finding

	checkQuantity := left.DocType == core.DocGoodsReceiptNote || right.DocType == core.DocGoodsReceiptNote
	checkPrice := pricingLeg(left.DocType, right.DocType)

	if len(pairs) == 0 {
		n := len(left.LineItems)
		if len(right.LineItems) < n {
			n = len(right.LineItems)
		}
		for i := 0; i < n; i++ {
			pairs = append(pairs, core.LinePair{LeftIndex: i, RightIndex: i})
		}
	}

	for _, p := range pairs {
		if p.LeftIndex >= len(left.LineItems) || p.RightIndex >= len(right.LineItems) {
			continue
		}
		l := left.LineItems[p.LeftIndex]
		r := right.LineItems[p.RightIndex]

		if checkQuantity && l.Quantity.Sub(r.Quantity).Abs().GreaterThan(quantityEpsilon) {
			findings = append(findings, core.Finding{
				Type:     core.FindingCrossDocQuantityMismatch,
				Severity: core.SeverityHigh,
				Description: fmt.Sprintf("quantity for %q differs between %s and %s",
					l.Description, left.DocType, right.DocType),
				Expected: l.Quantity.String(),
				Actual:   r.Quantity.String(),
				Details: map[string]interface{}{
					"left_document":  left.DocumentID,
					"right_document": right.DocumentID,
					"left_index":     p.LeftIndex,
					"right_index":    p.RightIndex,
				},
			})
		}

		if !checkPrice {
			continue
		}
		ok, err := v.rates.Comparable(l.UnitPrice, r.UnitPrice)
		if err != nil {
			findings = append(findings, core.Finding{
				Type:        core.FindingPriceDiscrepancy,
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("cannot compare prices for %q: %v", l.Description, err),
				Details: map[string]interface{}{
					"left_document":  left.DocumentID,
					"right_document": right.DocumentID,
				},
			})
			continue
		}
		if !ok {
			findings = append(findings, core.Finding{
				Type:     core.FindingPriceDiscrepancy,
				Severity: core.SeverityHigh,
				Description: fmt.Sprintf("unit price for %q differs between %s and %s",
					l.Description, left.DocType, right.DocType),
				Expected: l.UnitPrice.String(),
				Actual:   r.UnitPrice.String(),
				Details: map[string]interface{}{
					"left_document":  left.DocumentID,
					"right_document": right.DocumentID,
					"left_index":     p.LeftIndex,
					"right_index":    p.RightIndex,
				},
			})
		}
	}
	return findings
}

func pricingLeg(a, b core.DocumentType) bool {
	return (a == core.DocPurchaseOrder && b == core.DocInvoice) ||
		(a == core.DocInvoice && b == core.DocPurchaseOrder)
}

// ValidateTriplet runs every check over PO, GRN, and invoice results.
// pairsFor resolves matcher line pairs between two documents, keyed by
// document id; a nil func falls back to positional comparison throughout.
func (v *Validator) ValidateTriplet(results []core.ExtractionResult, pairsFor func(leftDoc, rightDoc string) []core.LinePair) []core.Finding {
	var findings []core.Finding
	for i := range results {
		findings = append(findings, v.ValidateDocument(&results[i])...)
	}

	byType := map[core.DocumentType]*core.ExtractionResult{}
	for i := range results {
		byType[results[i].DocType] = &results[i]
	}

	crossPairs := [][2]core.DocumentType{
		{core.DocPurchaseOrder, core.DocGoodsReceiptNote},
		{core.DocPurchaseOrder, core.DocInvoice},
		{core.DocGoodsReceiptNote, core.DocInvoice},
	}
	for _, cp := range crossPairs {
		left, right := byType[cp[0]], byType[cp[1]]
		if left == nil || right == nil {
			continue
		}
		var pairs []core.LinePair
		if pairsFor != nil {
			pairs = pairsFor(left.DocumentID, right.DocumentID)
		}
		findings = append(findings, v.ValidateCross(left, right, pairs)...)
	}
	return findings
}
