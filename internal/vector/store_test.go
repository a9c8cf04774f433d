package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ventro/backend/internal/core"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0, 2}, []float32{1, 0, 2}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 1}, []float32{-1, -1}), 1e-9)

	// Degenerate inputs must yield 0, never NaN.
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Zero(t, Cosine(nil, nil))
}

func TestMemoryStoreQueryRanksAndScopes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Index(ctx, []core.Chunk{
		{ID: "a", DocumentID: "doc-1", Text: "far", Embedding: []float32{0, 1}},
		{ID: "b", DocumentID: "doc-1", Text: "close", Embedding: []float32{1, 0.1}},
		{ID: "c", DocumentID: "doc-1", Text: "exact", Embedding: []float32{1, 0}},
		{ID: "d", DocumentID: "doc-2", Text: "other doc", Embedding: []float32{1, 0}},
	}))

	got, err := store.Query(ctx, "doc-1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Chunk.ID)
	assert.Equal(t, "b", got[1].Chunk.ID)

	// Chunks of other documents never leak into a query.
	for _, sc := range got {
		assert.Equal(t, "doc-1", sc.Chunk.DocumentID)
	}
}

func TestMemoryStoreQueryUnknownDocument(t *testing.T) {
	got, err := NewMemoryStore().Query(context.Background(), "missing", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreDeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Index(ctx, []core.Chunk{
		{ID: "a", DocumentID: "doc-1", Embedding: []float32{1}},
	}))

	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))
	got, err := store.Query(ctx, "doc-1", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
