package reconcile

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Ratio is a 0-100 similarity based on normalized edit distance.
func Ratio(a, b string) int {
	if a == b {
		return 100
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	d := levenshtein.ComputeDistance(a, b)
	return int(100 * (1 - float64(d)/float64(maxLen)))
}

// TokenSetRatio compares strings as token sets, so word order and
// repeated words do not penalize descriptions like
// "Widget Steel M6" vs "M6 Steel Widget".
func TokenSetRatio(a, b string) int {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter, diffA, diffB []string
	for t := range ta {
		if tb[t] {
			inter = append(inter, t)
		} else {
			diffA = append(diffA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			diffB = append(diffB, t)
		}
	}
	sort.Strings(inter)
	sort.Strings(diffA)
	sort.Strings(diffB)

	base := strings.Join(inter, " ")
	s1 := strings.TrimSpace(base + " " + strings.Join(diffA, " "))
	s2 := strings.TrimSpace(base + " " + strings.Join(diffB, " "))

	best := Ratio(base, s1)
	if r := Ratio(base, s2); r > best {
		best = r
	}
	if r := Ratio(s1, s2); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(s)) {
		t = strings.Trim(t, ".,;:()[]")
		if t != "" {
			set[t] = true
		}
	}
	return set
}
