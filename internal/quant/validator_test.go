package quant

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

func usd(s string) core.Money {
	d, _ := decimal.NewFromString(s)
	return core.Money{Amount: d, Currency: "USD"}
}

func cur(s, c string) core.Money {
	d, _ := decimal.NewFromString(s)
	return core.Money{Amount: d, Currency: c}
}

func qty(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func cleanResult(docID string, docType core.DocumentType) core.ExtractionResult {
	return core.ExtractionResult{
		DocumentID: docID,
		DocType:    docType,
		Currency:   "USD",
		LineItems: []core.LineItem{
			{Description: "Steel Widget M6", Quantity: qty("10"), UnitPrice: usd("4.50"), LineTotal: usd("45.00")},
			{Description: "Copper Pipe 15mm", Quantity: qty("3"), UnitPrice: usd("12.00"), LineTotal: usd("36.00")},
		},
		DocumentTotal: usd("81.00"),
	}
}

func TestValidateDocumentCleanPass(t *testing.T) {
	v := NewValidator(nil)
	res := cleanResult("doc-1", core.DocInvoice)
	assert.Empty(t, v.ValidateDocument(&res))
}

func TestValidateDocumentCatchesLineTotalMismatch(t *testing.T) {
	v := NewValidator(nil)
	res := cleanResult("doc-1", core.DocInvoice)
	res.LineItems[0].LineTotal = usd("46.00") // 10 x 4.50 is 45.00
	res.DocumentTotal = usd("82.00")

	findings := v.ValidateDocument(&res)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingLineItemTotalMismatch, findings[0].Type)
	assert.Equal(t, core.SeverityMedium, findings[0].Severity)
	assert.Equal(t, "45.00 USD", findings[0].Expected)
	assert.Equal(t, "46.00 USD", findings[0].Actual)
}

func TestValidateDocumentCatchesDocumentTotalMismatch(t *testing.T) {
	v := NewValidator(nil)
	res := cleanResult("doc-1", core.DocInvoice)
	res.DocumentTotal = usd("90.00") // lines sum to 81.00

	findings := v.ValidateDocument(&res)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingDocumentTotalMismatch, findings[0].Type)
	assert.Equal(t, core.SeverityHigh, findings[0].Severity)
}

func TestValidateDocumentToleratesOneCentDrift(t *testing.T) {
	v := NewValidator(nil)
	res := cleanResult("doc-1", core.DocInvoice)
	res.DocumentTotal = usd("81.01")
	assert.Empty(t, v.ValidateDocument(&res))
}

func TestValidateCrossQuantityMismatch(t *testing.T) {
	v := NewValidator(nil)
	po := cleanResult("doc-po", core.DocPurchaseOrder)
	grn := cleanResult("doc-grn", core.DocGoodsReceiptNote)
	grn.LineItems[0].Quantity = qty("8") // short delivery

	findings := v.ValidateCross(&po, &grn, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingCrossDocQuantityMismatch, findings[0].Type)
	assert.Equal(t, "10", findings[0].Expected)
	assert.Equal(t, "8", findings[0].Actual)
}

func TestValidateCrossPriceDiscrepancy(t *testing.T) {
	v := NewValidator(nil)
	po := cleanResult("doc-po", core.DocPurchaseOrder)
	inv := cleanResult("doc-inv", core.DocInvoice)
	inv.LineItems[1].UnitPrice = usd("13.50") // vendor raised the price

	findings := v.ValidateCross(&po, &inv, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingPriceDiscrepancy, findings[0].Type)
	assert.Equal(t, core.SeverityHigh, findings[0].Severity)
}

func TestValidateCrossQuantityTolerance(t *testing.T) {
	v := NewValidator(nil)
	po := cleanResult("doc-po", core.DocPurchaseOrder)
	grn := cleanResult("doc-grn", core.DocGoodsReceiptNote)

	// Variance at or below epsilon is rounding noise, not a mismatch.
	grn.LineItems[0].Quantity = qty("9.995")
	assert.Empty(t, v.ValidateCross(&po, &grn, nil))

	grn.LineItems[0].Quantity = qty("9.98")
	findings := v.ValidateCross(&po, &grn, nil)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingCrossDocQuantityMismatch, findings[0].Type)
}

func TestValidateCrossScopesChecksByLeg(t *testing.T) {
	v := NewValidator(nil)
	po := cleanResult("doc-po", core.DocPurchaseOrder)

	// A price difference on the receiving leg is not this check's
	// business; the pricing leg is PO vs invoice.
	grn := cleanResult("doc-grn", core.DocGoodsReceiptNote)
	grn.LineItems[0].UnitPrice = usd("5.00")
	assert.Empty(t, v.ValidateCross(&po, &grn, nil))

	// Conversely, a quantity difference between PO and invoice belongs
	// to the receiving legs and is not flagged here.
	inv := cleanResult("doc-inv", core.DocInvoice)
	inv.LineItems[0].Quantity = qty("12")
	assert.Empty(t, v.ValidateCross(&po, &inv, nil))
}

func TestValidateCrossUsesMatcherPairs(t *testing.T) {
	v := NewValidator(nil)
	po := cleanResult("doc-po", core.DocPurchaseOrder)
	inv := cleanResult("doc-inv", core.DocInvoice)
	// Invoice lists its lines in the opposite order; positional comparison
	// would flag both lines, the matcher pairs flag neither.
	inv.LineItems[0], inv.LineItems[1] = inv.LineItems[1], inv.LineItems[0]

	pairs := []core.LinePair{
		{LeftIndex: 0, RightIndex: 1},
		{LeftIndex: 1, RightIndex: 0},
	}
	assert.Empty(t, v.ValidateCross(&po, &inv, pairs))
	assert.NotEmpty(t, v.ValidateCross(&po, &inv, nil))
}

func TestValidateTripletRunsAllCrossPairs(t *testing.T) {
	v := NewValidator(nil)
	results := []core.ExtractionResult{
		cleanResult("doc-po", core.DocPurchaseOrder),
		cleanResult("doc-grn", core.DocGoodsReceiptNote),
		cleanResult("doc-inv", core.DocInvoice),
	}
	assert.Empty(t, v.ValidateTriplet(results, nil))

	// A quantity error on the GRN shows up in both pairs that include it.
	results[1].LineItems[0].Quantity = qty("9")
	findings := v.ValidateTriplet(results, nil)
	count := 0
	for _, f := range findings {
		if f.Type == core.FindingCrossDocQuantityMismatch {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestComparableSameCurrency(t *testing.T) {
	rt := NewRateTable("USD", nil)

	ok, err := rt.Comparable(usd("100.00"), usd("100.01"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.Comparable(usd("100.00"), usd("100.02"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComparableCrossCurrencyRelativeBand(t *testing.T) {
	rt := NewRateTable("USD", map[string]decimal.Decimal{
		"EUR": decimal.NewFromFloat(1.10),
	})

	// 100 EUR converts to 110 USD; anything within 0.5% passes.
	ok, err := rt.Comparable(cur("100.00", "EUR"), usd("110.30"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rt.Comparable(cur("100.00", "EUR"), usd("112.00"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComparableUnknownCurrency(t *testing.T) {
	rt := NewRateTable("USD", nil)
	_, err := rt.Comparable(cur("50.00", "XYZ"), usd("50.00"))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}
