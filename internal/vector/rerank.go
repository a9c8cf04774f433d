package vector

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

const (
	// Reranking only pays off with enough candidates to reorder.
	rerankMinCandidates = 5
	rerankKeep          = 10

	embeddingWeight = 0.7
	lexicalWeight   = 0.3
)

// Rerank reorders retrieval candidates with a lexical signal blended into
// the embedding score, then keeps the top slice. Fewer than
// rerankMinCandidates pass through untouched.
func Rerank(query string, candidates []ScoredChunk) []ScoredChunk {
	if len(candidates) <= rerankMinCandidates {
		return candidates
	}

	reranked := make([]ScoredChunk, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		lex := lexicalScore(query, reranked[i].Chunk.Text)
		reranked[i].Score = embeddingWeight*reranked[i].Score + lexicalWeight*lex
	}
	sort.SliceStable(reranked, func(i, j int) bool { return reranked[i].Score > reranked[j].Score })

	if len(reranked) > rerankKeep {
		reranked = reranked[:rerankKeep]
	}
	return reranked
}

// lexicalScore measures query-term coverage in the chunk, tolerating
// OCR-level typos via normalized edit distance per term.
func lexicalScore(query, text string) float64 {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return 0
	}
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0
	}

	var covered float64
	for _, term := range terms {
		best := 0.0
		for _, w := range words {
			if term == w {
				best = 1.0
				break
			}
			maxLen := len(term)
			if len(w) > maxLen {
				maxLen = len(w)
			}
			d := levenshtein.ComputeDistance(term, w)
			if sim := 1.0 - float64(d)/float64(maxLen); sim > best {
				best = sim
			}
		}
		if best >= 0.8 {
			covered += best
		}
	}
	return covered / float64(len(terms))
}
