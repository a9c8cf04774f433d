package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

// mapEmbedder returns a fixed vector per text, simulating documents that
// cluster by vendor.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (e *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if vec, ok := e.vectors[text]; ok {
		return vec, nil
	}
	return nil, errors.New("no vector for " + text)
}

func doc(id string, docType core.DocumentType, vendor, number string) core.Document {
	return core.Document{ID: id, OrgID: "org-1", Type: docType, Vendor: vendor, DocNumber: number, Filename: id + ".pdf"}
}

func TestGroupKeyNormalization(t *testing.T) {
	a := doc("a", core.DocPurchaseOrder, "Acme Industrial", "PO-2024-0091")
	b := doc("b", core.DocInvoice, "ACME INDUSTRIAL", "po-2024-0091-r2")
	// Dashed numbers collapse to their first two segments, so the revision
	// suffix does not split the pair.
	assert.Equal(t, groupKey(a), groupKey(b))

	assert.Empty(t, groupKey(doc("c", core.DocInvoice, "", "INV-1")), "no vendor, no key")
	assert.Empty(t, groupKey(doc("d", core.DocInvoice, "Acme", "")), "no number, no key")
}

func TestMatchByExactKey(t *testing.T) {
	m := NewMatcher(&mapEmbedder{})
	docs := []core.Document{
		doc("d1", core.DocPurchaseOrder, "Acme", "PO-2024-0091"),
		doc("d2", core.DocGoodsReceiptNote, "Acme", "PO-2024-0091"),
		doc("d3", core.DocInvoice, "Acme", "PO-2024-0091"),
	}

	result := m.Match(context.Background(), docs)
	require.Len(t, result.Triplets, 1)
	assert.Empty(t, result.Unmatched)

	tr := result.Triplets[0]
	assert.Equal(t, "exact_key", tr.Method)
	assert.Equal(t, 1.0, tr.Score)
	assert.Equal(t, "d1", tr.PO.ID)
	assert.Equal(t, "d2", tr.GRN.ID)
	assert.Equal(t, "d3", tr.Invoice.ID)
}

func TestSingletonKeyGroupsFallThrough(t *testing.T) {
	// A lone invoice with a key must not form a one-document "group"; with
	// no embeddings available it lands in unmatched.
	m := NewMatcher(&mapEmbedder{})
	docs := []core.Document{doc("d1", core.DocInvoice, "Acme", "INV-1001")}

	result := m.Match(context.Background(), docs)
	assert.Empty(t, result.Triplets)
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "d1", result.Unmatched[0].ID)
}

func TestDuplicateTypeInBucketIsLeftOver(t *testing.T) {
	m := NewMatcher(&mapEmbedder{})
	docs := []core.Document{
		doc("d1", core.DocInvoice, "Acme", "PO-2024-0091"),
		doc("d2", core.DocInvoice, "Acme", "PO-2024-0091"), // resubmission
		doc("d3", core.DocPurchaseOrder, "Acme", "PO-2024-0091"),
	}

	result := m.Match(context.Background(), docs)
	require.Len(t, result.Triplets, 1)
	assert.Equal(t, "d1", result.Triplets[0].Invoice.ID)
	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "d2", result.Unmatched[0].ID)
}

func TestMatchByEmbeddingFallback(t *testing.T) {
	po := doc("d1", core.DocPurchaseOrder, "Acme Industrial", "4500012345")
	inv := doc("d2", core.DocInvoice, "ACME IND.", "A-99812") // key phase cannot pair these
	other := doc("d3", core.DocInvoice, "Globex", "G-771")

	emb := &mapEmbedder{vectors: map[string][]float32{
		embedText(po):    {1, 0, 0.1},
		embedText(inv):   {1, 0.05, 0.1},
		embedText(other): {0, 1, 0},
	}}
	m := NewMatcher(emb)

	result := m.Match(context.Background(), []core.Document{po, inv, other})
	require.Len(t, result.Triplets, 1)

	tr := result.Triplets[0]
	assert.Equal(t, "embedding", tr.Method)
	assert.Equal(t, "d1", tr.PO.ID)
	assert.Equal(t, "d2", tr.Invoice.ID)
	assert.GreaterOrEqual(t, tr.Score, similarityFloor)

	require.Len(t, result.Unmatched, 1)
	assert.Equal(t, "d3", result.Unmatched[0].ID)
}

func TestEmbeddingGroupsBelowFloorAreRejected(t *testing.T) {
	po := doc("d1", core.DocPurchaseOrder, "Acme", "4500012345")
	inv := doc("d2", core.DocInvoice, "Globex", "G-771")

	emb := &mapEmbedder{vectors: map[string][]float32{
		embedText(po):  {1, 0},
		embedText(inv): {0.5, 1}, // cosine ~0.45, under the floor
	}}
	m := NewMatcher(emb)

	result := m.Match(context.Background(), []core.Document{po, inv})
	assert.Empty(t, result.Triplets)
	assert.Len(t, result.Unmatched, 2)
}

func TestEmbedderFailureLeavesDocumentsUnmatched(t *testing.T) {
	m := NewMatcher(&mapEmbedder{}) // fails for every text
	docs := []core.Document{
		doc("d1", core.DocPurchaseOrder, "Acme", "4500012345"),
		doc("d2", core.DocInvoice, "Acme Corp", "A-99812"),
	}

	result := m.Match(context.Background(), docs)
	assert.Empty(t, result.Triplets)
	assert.Len(t, result.Unmatched, 2)
}

func TestTripletDocumentsOrder(t *testing.T) {
	po := doc("d1", core.DocPurchaseOrder, "Acme", "X")
	grn := doc("d2", core.DocGoodsReceiptNote, "Acme", "X")
	tr := Triplet{PO: &po, GRN: &grn}

	members := tr.Documents()
	require.Len(t, members, 2)
	assert.Equal(t, "d1", members[0].ID)
	assert.Equal(t, "d2", members[1].ID)
}
