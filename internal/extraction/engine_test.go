package extraction

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/vector"
)

// brittleEmbedder refuses text carrying the marker, so any document whose
// body contains it fails indexing and therefore extraction.
type brittleEmbedder struct {
	marker string
}

func (e brittleEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.marker != "" && strings.Contains(text, e.marker) {
		return nil, errors.New("embedding backend rejected input")
	}
	return []float32{1, 0, 0}, nil
}

func testEngine(t *testing.T, marker string) *Engine {
	t.Helper()
	router := llm.NewRouter(nil, 3, time.Minute, time.Second)
	return NewEngine(router, brittleEmbedder{marker: marker}, vector.NewMemoryStore(), 5*time.Second)
}

const invoiceText = "INVOICE\nInvoice No: INV-2024-0091\nVendor: Acme Industrial\nTotal: 1,249.50"

func TestExtractTripletToleratesOneFailedDocument(t *testing.T) {
	engine := testEngine(t, "UNREADABLE")
	docs := []core.Document{
		{ID: "doc-inv", Type: core.DocInvoice, Filename: "inv.pdf"},
		{ID: "doc-po", Type: core.DocPurchaseOrder, Filename: "po.pdf"},
	}
	texts := map[string]string{
		"doc-inv": invoiceText,
		"doc-po":  "UNREADABLE scanner noise",
	}

	results, err := engine.ExtractTriplet(context.Background(), docs, texts)
	require.NoError(t, err, "one failed document must not abort the set")
	require.Len(t, results, 2)

	assert.Equal(t, "doc-inv", results[0].DocumentID)
	assert.False(t, results[0].Partial)

	// The failed slot is a partial stub, not a hole.
	assert.Equal(t, "doc-po", results[1].DocumentID)
	assert.Equal(t, core.DocPurchaseOrder, results[1].DocType)
	assert.True(t, results[1].Partial)
	assert.Empty(t, results[1].LineItems)
}

func TestExtractTripletErrsWhenEveryDocumentFails(t *testing.T) {
	engine := testEngine(t, "UNREADABLE")
	docs := []core.Document{
		{ID: "doc-a", Type: core.DocInvoice},
		{ID: "doc-b", Type: core.DocPurchaseOrder},
	}
	texts := map[string]string{
		"doc-a": "UNREADABLE",
		"doc-b": "UNREADABLE",
	}

	_, err := engine.ExtractTriplet(context.Background(), docs, texts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extracting")
}

func TestExtractDocumentFallsBackToRuleBased(t *testing.T) {
	engine := testEngine(t, "")
	doc := core.Document{ID: "doc-inv", Type: core.DocInvoice, Filename: "inv.pdf"}

	res, err := engine.ExtractDocument(context.Background(), doc, invoiceText)
	require.NoError(t, err)
	assert.Equal(t, "doc-inv", res.DocumentID)
	assert.Equal(t, llm.MethodRuleBased, res.Method)
	assert.Equal(t, "INV-2024-0091", res.DocNumber)
}
