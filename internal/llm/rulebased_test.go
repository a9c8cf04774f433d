package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInvoice = `INVOICE
Invoice No: INV-2024-0091
Vendor: Acme Industrial Supplies
Date: 2024-03-15
Currency: USD

Steel Widget M6          10    4.50    45.00
Copper Pipe 15mm          3   12.00    36.00

Grand Total: 1,249.50
`

func extract(t *testing.T, text string) map[string]interface{} {
	t.Helper()
	out, err := NewRuleBasedClient().Complete(context.Background(), CompletionRequest{Prompt: text})
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	return parsed
}

func TestRuleBasedExtractsHeaderFields(t *testing.T) {
	parsed := extract(t, sampleInvoice)

	assert.Equal(t, MethodRuleBased, parsed["_extraction_method"])
	assert.Equal(t, "INV-2024-0091", parsed["doc_number"])
	assert.Equal(t, "Acme Industrial Supplies", parsed["vendor"])
	assert.Equal(t, "2024-03-15", parsed["date"])
	assert.Equal(t, "USD", parsed["currency"])
	assert.Equal(t, "1249.50", parsed["document_total"])
}

func TestRuleBasedExtractsLineItems(t *testing.T) {
	parsed := extract(t, sampleInvoice)

	items, ok := parsed["line_items"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 2)

	first := items[0].(map[string]interface{})
	assert.Equal(t, "Steel Widget M6", first["description"])
	assert.Equal(t, "10", first["quantity"])
	assert.Equal(t, "4.50", first["unit_price"])
	assert.Equal(t, "45.00", first["line_total"])
}

func TestRuleBasedNeverFails(t *testing.T) {
	out, err := NewRuleBasedClient().Complete(context.Background(), CompletionRequest{Prompt: "no structure at all"})
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	// Even an empty extraction is marked with its method.
	assert.Equal(t, MethodRuleBased, parsed["_extraction_method"])
}
