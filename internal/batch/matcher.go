// Package batch groups mixed piles of uploaded documents into
// PO / GRN / invoice triplets before reconciliation. Grouping runs in
// three phases: exact key matching on vendor and document number,
// embedding similarity for the leftovers, then an explicit unmatched
// report so nothing disappears silently.
package batch

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/vector"
)

// similarityFloor is the minimum average pairwise cosine for an
// embedding-phase group to be accepted.
const similarityFloor = 0.75

// Triplet is one proposed reconciliation group. Any slot may be empty;
// a group is only useful downstream with at least two documents.
type Triplet struct {
	PO      *core.Document `json:"purchase_order,omitempty"`
	GRN     *core.Document `json:"goods_receipt_note,omitempty"`
	Invoice *core.Document `json:"invoice,omitempty"`
	// How the group was formed: "exact_key" or "embedding".
	Method string `json:"method"`
	// Average pairwise cosine for embedding groups, 1.0 for exact.
	Score float64 `json:"score"`
}

func (t *Triplet) size() int {
	n := 0
	for _, d := range []*core.Document{t.PO, t.GRN, t.Invoice} {
		if d != nil {
			n++
		}
	}
	return n
}

// Documents returns the group members in PO, GRN, invoice order.
func (t *Triplet) Documents() []core.Document {
	out := make([]core.Document, 0, 3)
	for _, d := range []*core.Document{t.PO, t.GRN, t.Invoice} {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out
}

// Result is the full batch outcome.
type Result struct {
	Triplets  []Triplet       `json:"triplets"`
	Unmatched []core.Document `json:"unmatched"`
}

// Matcher groups documents. The embedder is only consulted in phase
// two, for documents the key phase could not place.
type Matcher struct {
	embedder llm.Embedder
}

func NewMatcher(embedder llm.Embedder) *Matcher {
	return &Matcher{embedder: embedder}
}

// Match partitions docs into triplets. Deterministic for a given input
// order; ties in the embedding phase resolve to the earliest candidate.
func (m *Matcher) Match(ctx context.Context, docs []core.Document) Result {
	var result Result

	remaining := m.matchByKey(docs, &result)
	remaining = m.matchByEmbedding(ctx, remaining, &result)
	result.Unmatched = remaining

	slog.Info("batch matching complete",
		"input", len(docs),
		"triplets", len(result.Triplets),
		"unmatched", len(result.Unmatched))
	return result
}

// ===== Phase 1: exact key =====

// groupKey builds the phase-one bucket key: the lowercased vendor name
// truncated to 30 characters, joined with a document-number prefix. The
// prefix keeps sequence suffixes ("PO-2024-0091" vs "INV-2024-0091")
// from splitting related documents: the first two dash-separated
// segments when the number is dashed, otherwise the first 8 characters.
func groupKey(doc core.Document) string {
	vendor := strings.ToLower(strings.TrimSpace(doc.Vendor))
	if len(vendor) > 30 {
		vendor = vendor[:30]
	}

	num := strings.ToLower(strings.TrimSpace(doc.DocNumber))
	if segs := strings.Split(num, "-"); len(segs) >= 2 {
		num = segs[0] + "-" + segs[1]
	} else if len(num) > 8 {
		num = num[:8]
	}

	if vendor == "" || num == "" {
		return ""
	}
	return vendor + "|" + num
}

func (m *Matcher) matchByKey(docs []core.Document, result *Result) []core.Document {
	buckets := make(map[string][]int)
	order := make([]string, 0)
	var remaining []core.Document

	for i, doc := range docs {
		key := groupKey(doc)
		if key == "" {
			remaining = append(remaining, doc)
			continue
		}
		if _, seen := buckets[key]; !seen {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], i)
	}

	for _, key := range order {
		group := buckets[key]
		triplet := Triplet{Method: "exact_key", Score: 1.0}
		for _, idx := range group {
			if !place(&triplet, &docs[idx]) {
				// Duplicate slot in the same bucket, likely a
				// resubmission. Leave it for the later phases.
				remaining = append(remaining, docs[idx])
			}
		}
		if triplet.size() >= 2 {
			result.Triplets = append(result.Triplets, triplet)
		} else {
			remaining = append(remaining, triplet.Documents()...)
		}
	}
	return remaining
}

// place slots a document into its triplet position, refusing duplicates.
func place(t *Triplet, doc *core.Document) bool {
	switch doc.Type {
	case core.DocPurchaseOrder:
		if t.PO == nil {
			t.PO = doc
			return true
		}
	case core.DocGoodsReceiptNote:
		if t.GRN == nil {
			t.GRN = doc
			return true
		}
	case core.DocInvoice:
		if t.Invoice == nil {
			t.Invoice = doc
			return true
		}
	}
	return false
}

// ===== Phase 2: embedding similarity =====

type embedded struct {
	doc core.Document
	vec []float32
}

// matchByEmbedding greedily pairs the remaining documents by cosine
// similarity over an embedding of their identifying fields. A group is
// kept only when its average pairwise similarity clears the floor.
func (m *Matcher) matchByEmbedding(ctx context.Context, docs []core.Document, result *Result) []core.Document {
	if len(docs) < 2 {
		return docs
	}

	byType := make(map[core.DocumentType][]embedded)
	var failed []core.Document
	for _, doc := range docs {
		vec, err := m.embedder.Embed(ctx, embedText(doc))
		if err != nil || len(vec) == 0 {
			failed = append(failed, doc)
			continue
		}
		byType[doc.Type] = append(byType[doc.Type], embedded{doc: doc, vec: vec})
	}

	used := make(map[string]bool)
	var remaining []core.Document

	// Anchor on purchase orders, then on invoices for PO-less pairs.
	for _, anchorType := range []core.DocumentType{core.DocPurchaseOrder, core.DocInvoice} {
		for i := range byType[anchorType] {
			anchor := &byType[anchorType][i]
			if used[anchor.doc.ID] {
				continue
			}

			triplet := Triplet{Method: "embedding"}
			place(&triplet, &anchor.doc)
			members := []embedded{*anchor}

			for _, otherType := range []core.DocumentType{core.DocGoodsReceiptNote, core.DocInvoice, core.DocPurchaseOrder} {
				if otherType == anchorType {
					continue
				}
				best := bestCandidate(anchor.vec, byType[otherType], used)
				if best == nil {
					continue
				}
				place(&triplet, &best.doc)
				members = append(members, *best)
			}

			if triplet.size() < 2 {
				continue
			}
			score := averagePairwise(members)
			if score < similarityFloor {
				continue
			}
			triplet.Score = score
			for _, member := range members {
				used[member.doc.ID] = true
			}
			result.Triplets = append(result.Triplets, triplet)
		}
	}

	for _, group := range byType {
		for _, member := range group {
			if !used[member.doc.ID] {
				remaining = append(remaining, member.doc)
			}
		}
	}
	remaining = append(remaining, failed...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].ID < remaining[j].ID })
	return remaining
}

func bestCandidate(anchor []float32, candidates []embedded, used map[string]bool) *embedded {
	var best *embedded
	bestScore := 0.0
	for i := range candidates {
		if used[candidates[i].doc.ID] {
			continue
		}
		score := vector.Cosine(anchor, candidates[i].vec)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	return best
}

func averagePairwise(members []embedded) float64 {
	if len(members) < 2 {
		return 0
	}
	total, pairs := 0.0, 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			total += vector.Cosine(members[i].vec, members[j].vec)
			pairs++
		}
	}
	return total / float64(pairs)
}

// embedText builds the identity string the similarity phase embeds.
func embedText(doc core.Document) string {
	parts := []string{string(doc.Type), doc.Vendor, doc.DocNumber, doc.Filename}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, strings.TrimSpace(p))
		}
	}
	return strings.Join(nonEmpty, " | ")
}
