package extraction

import (
	"regexp"
	"strings"

	"github.com/ventro/backend/internal/core"
)

// Keyword cues per type; weights reflect how unambiguous each cue is.
var classifierCues = map[core.DocumentType][]struct {
	re     *regexp.Regexp
	weight float64
}{
	core.DocPurchaseOrder: {
		{regexp.MustCompile(`(?i)\bpurchase\s+order\b`), 3},
		{regexp.MustCompile(`(?i)\bPO[\s#:-]*\d`), 2},
		{regexp.MustCompile(`(?i)\bship\s+to\b`), 1},
		{regexp.MustCompile(`(?i)\bdelivery\s+date\b`), 1},
	},
	core.DocGoodsReceiptNote: {
		{regexp.MustCompile(`(?i)\bgoods\s+receipt\b`), 3},
		{regexp.MustCompile(`(?i)\bGRN[\s#:-]*\d`), 2},
		{regexp.MustCompile(`(?i)\breceived\s+(by|quantity|qty)\b`), 2},
		{regexp.MustCompile(`(?i)\bdelivery\s+note\b`), 1},
	},
	core.DocInvoice: {
		{regexp.MustCompile(`(?i)\binvoice\b`), 3},
		{regexp.MustCompile(`(?i)\bINV[\s#:-]*\d`), 2},
		{regexp.MustCompile(`(?i)\b(amount\s+due|payment\s+terms|remit\s+to)\b`), 2},
		{regexp.MustCompile(`(?i)\btax\b`), 1},
	},
}

// Classify guesses the document type from the filename and the first
// page of text. Confidence is the winning score's share of the total;
// a tie or no cues at all yields an invoice guess at zero confidence,
// which the upload handler surfaces for manual correction.
func Classify(filename, text string) (core.DocumentType, float64) {
	sample := strings.ToLower(filename) + "\n" + head(text, 4000)

	scores := map[core.DocumentType]float64{}
	total := 0.0
	for docType, cues := range classifierCues {
		for _, cue := range cues {
			if cue.re.MatchString(sample) {
				scores[docType] += cue.weight
				total += cue.weight
			}
		}
	}
	if total == 0 {
		return core.DocInvoice, 0
	}

	best, bestScore := core.DocInvoice, 0.0
	for _, docType := range []core.DocumentType{core.DocPurchaseOrder, core.DocGoodsReceiptNote, core.DocInvoice} {
		if scores[docType] > bestScore {
			best, bestScore = docType, scores[docType]
		}
	}
	return best, bestScore / total
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
