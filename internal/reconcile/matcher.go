// Package reconcile pairs line items across documents and synthesizes
// the session verdict from findings and match coverage.
package reconcile

import (
	"sort"

	"github.com/ventro/backend/internal/core"
)

// MatchThreshold is the minimum fuzzy score for a description pairing.
const MatchThreshold = 60

// MatchResult reports resolved pairs plus the leftovers on each side.
type MatchResult struct {
	Pairs          []core.LinePair `json:"pairs"`
	UnmatchedLeft  []int           `json:"unmatched_left"`
	UnmatchedRight []int           `json:"unmatched_right"`
}

type candidate struct {
	left, right, score int
}

// MatchLines pairs line items greedily by descending score. An exact
// part-number match scores a perfect 100 regardless of descriptions;
// otherwise the token-set ratio of descriptions decides, cut off at
// MatchThreshold.
func MatchLines(left, right []core.LineItem) MatchResult {
	var candidates []candidate
	for i, l := range left {
		for j, r := range right {
			score := 0
			if l.PartNumber != "" && l.PartNumber == r.PartNumber {
				score = 100
			} else {
				score = TokenSetRatio(l.Description, r.Description)
			}
			if score >= MatchThreshold {
				candidates = append(candidates, candidate{left: i, right: j, score: score})
			}
		}
	}

	// Greedy by score; ties resolve to earlier line positions so runs
	// are deterministic.
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		if candidates[a].left != candidates[b].left {
			return candidates[a].left < candidates[b].left
		}
		return candidates[a].right < candidates[b].right
	})

	usedLeft := make(map[int]bool, len(left))
	usedRight := make(map[int]bool, len(right))
	var result MatchResult
	for _, c := range candidates {
		if usedLeft[c.left] || usedRight[c.right] {
			continue
		}
		usedLeft[c.left] = true
		usedRight[c.right] = true
		result.Pairs = append(result.Pairs, core.LinePair{
			LeftIndex:  c.left,
			RightIndex: c.right,
			Score:      float64(c.score),
		})
	}

	for i := range left {
		if !usedLeft[i] {
			result.UnmatchedLeft = append(result.UnmatchedLeft, i)
		}
	}
	for j := range right {
		if !usedRight[j] {
			result.UnmatchedRight = append(result.UnmatchedRight, j)
		}
	}
	return result
}

// UnmatchedFindings converts leftover lines into missing-line findings.
func UnmatchedFindings(left, right *core.ExtractionResult, match MatchResult) []core.Finding {
	var findings []core.Finding
	add := func(res *core.ExtractionResult, other *core.ExtractionResult, indexes []int) {
		for _, idx := range indexes {
			li := res.LineItems[idx]
			findings = append(findings, core.Finding{
				Type:        core.FindingMissingLineItem,
				Severity:    core.SeverityHigh,
				Description: "line item present on " + string(res.DocType) + " has no counterpart on " + string(other.DocType),
				Actual:      li.Description,
				Details: map[string]interface{}{
					"document_id": res.DocumentID,
					"line_index":  idx,
				},
			})
		}
	}
	add(left, right, match.UnmatchedLeft)
	add(right, left, match.UnmatchedRight)
	return findings
}
