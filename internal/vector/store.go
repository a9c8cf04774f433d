// Package vector provides chunk retrieval for extraction prompts.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/ventro/backend/internal/core"
)

// Store indexes document chunks and serves similarity queries scoped to
// a single document.
type Store interface {
	Index(ctx context.Context, chunks []core.Chunk) error
	// Query returns up to k chunks of documentID ranked by cosine
	// similarity to the query embedding, best first.
	Query(ctx context.Context, documentID string, embedding []float32, k int) ([]ScoredChunk, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type ScoredChunk struct {
	Chunk core.Chunk
	Score float64
}

// Cosine returns the cosine similarity of two vectors. Zero vectors and
// mismatched lengths yield 0 rather than NaN.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryStore is the in-process store used by the single-node deployment
// and by tests. Chunks are bucketed per document so queries never scan
// other documents.
type MemoryStore struct {
	mu     sync.RWMutex
	byDoc  map[string][]core.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byDoc: make(map[string][]core.Chunk)}
}

func (s *MemoryStore) Index(_ context.Context, chunks []core.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.byDoc[c.DocumentID] = append(s.byDoc[c.DocumentID], c)
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, documentID string, embedding []float32, k int) ([]ScoredChunk, error) {
	s.mu.RLock()
	chunks := s.byDoc[documentID]
	s.mu.RUnlock()

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		scored = append(scored, ScoredChunk{Chunk: c, Score: Cosine(embedding, c.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byDoc, documentID)
	return nil
}
