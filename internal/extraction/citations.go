package extraction

import (
	"strconv"
	"strings"

	"github.com/ventro/backend/internal/core"
)

// AttachCitations locates each extracted field's value in the evidence
// chunks. Matching is done on normalized text: full value first, then
// individual fragments of the value. Fields that cannot be located carry
// no citation, which the workpaper renders as "uncited".
func AttachCitations(result *core.ExtractionResult, chunks []core.Chunk) []core.Citation {
	var citations []core.Citation

	cite := func(field, value string) {
		if c, ok := locate(field, value, chunks); ok {
			citations = append(citations, c)
		}
	}

	cite("vendor", result.Vendor)
	cite("doc_number", result.DocNumber)
	cite("date", result.Date)
	if !result.DocumentTotal.IsZero() {
		cite("document_total", result.DocumentTotal.Amount.StringFixed(2))
	}
	for i, li := range result.LineItems {
		prefix := "line_items[" + strconv.Itoa(i) + "]."
		cite(prefix+"description", li.Description)
		if li.PartNumber != "" {
			cite(prefix+"part_number", li.PartNumber)
		}
		if !li.UnitPrice.IsZero() {
			cite(prefix+"unit_price", li.UnitPrice.Amount.StringFixed(2))
		}
	}
	return citations
}

func locate(field, value string, chunks []core.Chunk) (core.Citation, bool) {
	needle := normalize(value)
	if needle == "" {
		return core.Citation{}, false
	}

	// Whole-value match wins.
	for _, c := range chunks {
		if idx := strings.Index(normalize(c.Text), needle); idx >= 0 {
			return core.Citation{
				Field:      field,
				DocumentID: c.DocumentID,
				Page:       c.Page,
				Snippet:    snippet(c.Text, value),
			}, true
		}
	}

	// Fall back to the longest fragment of the value that appears.
	fragments := strings.Fields(needle)
	if len(fragments) < 2 {
		return core.Citation{}, false
	}
	best := ""
	var bestChunk *core.Chunk
	for _, frag := range fragments {
		if len(frag) < 4 || len(frag) <= len(best) {
			continue
		}
		for i := range chunks {
			if strings.Contains(normalize(chunks[i].Text), frag) {
				best = frag
				bestChunk = &chunks[i]
				break
			}
		}
	}
	if bestChunk == nil {
		return core.Citation{}, false
	}
	return core.Citation{
		Field:      field,
		DocumentID: bestChunk.DocumentID,
		Page:       bestChunk.Page,
		Snippet:    snippet(bestChunk.Text, best),
	}, true
}

// normalize lowercases and collapses all whitespace runs to single
// spaces so OCR spacing differences do not defeat matching.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// snippet returns up to 120 chars of chunk text around the match, for
// display in the workpaper.
func snippet(text, value string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(value))
	if idx < 0 {
		idx = 0
	}
	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + len(value) + 40
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
