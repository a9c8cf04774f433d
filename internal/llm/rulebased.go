package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// MethodRuleBased marks results produced without any model. Downstream
// consumers surface it so reviewers know the numbers came from regexes.
const MethodRuleBased = "rule_based_fallback"

// RuleBasedClient is the terminal chain entry. It never fails: it scrapes
// whatever structure it can find in the prompt text with regexes and
// returns a best-effort JSON object.
type RuleBasedClient struct{}

func NewRuleBasedClient() *RuleBasedClient { return &RuleBasedClient{} }

func (c *RuleBasedClient) Name() string { return "rule_based" }

var (
	// Case folding is scoped to the label so the captured number stays
	// uppercase-only and a following word cannot pose as a number.
	docNumberRe = regexp.MustCompile(`(?i:(?:invoice|purchase\s+order|p\.?o\.?|grn|order|document)\s*(?:no\.?|number|#|num)?\s*[:#]?)\s*([A-Z0-9][A-Z0-9-]{2,24})`)
	vendorRe    = regexp.MustCompile(`(?i)(?:vendor|supplier|seller|from|bill\s+from)\s*[:]\s*([^\n,]{2,60})`)
	totalRe     = regexp.MustCompile(`(?i)(?:grand\s+total|total\s+(?:due|amount)|amount\s+due|total)\s*[:]?\s*(?:([A-Z]{3})\s*)?[$€£]?\s*([0-9][0-9,]*\.?[0-9]{0,2})`)
	dateRe      = regexp.MustCompile(`(?i)date\s*[:]\s*([0-9]{4}-[0-9]{2}-[0-9]{2}|[0-9]{1,2}[/.][0-9]{1,2}[/.][0-9]{2,4})`)
	currencyRe  = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CHF|CAD|AUD)\b`)
	// description  qty  unit_price  line_total on one line
	lineItemRe = regexp.MustCompile(`(?m)^(.{3,60}?)\s{2,}(\d+(?:\.\d+)?)\s{2,}\$?([0-9,]+\.\d{2})\s{2,}\$?([0-9,]+\.\d{2})\s*$`)
)

func (c *RuleBasedClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	text := req.Prompt
	out := map[string]interface{}{
		"_extraction_method": MethodRuleBased,
	}

	if m := docNumberRe.FindStringSubmatch(text); m != nil {
		out["doc_number"] = strings.TrimSpace(m[1])
	}
	if m := vendorRe.FindStringSubmatch(text); m != nil {
		out["vendor"] = strings.TrimSpace(m[1])
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		out["date"] = m[1]
	}
	if m := currencyRe.FindStringSubmatch(text); m != nil {
		out["currency"] = m[1]
	}
	if m := totalRe.FindStringSubmatch(text); m != nil {
		if m[1] != "" {
			out["currency"] = m[1]
		}
		out["document_total"] = strings.ReplaceAll(m[2], ",", "")
	}

	var items []map[string]string
	for _, m := range lineItemRe.FindAllStringSubmatch(text, 50) {
		items = append(items, map[string]string{
			"description": strings.TrimSpace(m[1]),
			"quantity":    m[2],
			"unit_price":  strings.ReplaceAll(m[3], ",", ""),
			"line_total":  strings.ReplaceAll(m[4], ",", ""),
		})
	}
	if len(items) > 0 {
		out["line_items"] = items
	}

	raw, err := json.Marshal(out)
	if err != nil {
		// marshal of map[string]interface{} with plain values cannot fail
		return "{}", nil
	}
	return string(raw), nil
}
