// Package extraction turns parsed document text into structured
// ExtractionResults via retrieval-augmented prompting, with evidence
// citations attached to every field that can be located in the source.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ventro/backend/internal/core"
	"github.com/ventro/backend/internal/llm"
	"github.com/ventro/backend/internal/sanitize"
	"github.com/ventro/backend/internal/vector"
)

const (
	// Documents in a triplet are extracted concurrently, one goroutine each.
	maxParallelDocs = 3

	retrieveTopK = 20

	chunkSize    = 800
	chunkOverlap = 120
)

const systemPrompt = "You are a precise financial document extraction engine. " +
	"Extract only values present in the provided text. Never invent numbers. " +
	"Respond with a single JSON object."

// Engine orchestrates retrieval, sanitization, prompting, and citation
// attachment for one organization's documents.
type Engine struct {
	router   *llm.Router
	embedder llm.Embedder
	store    vector.Store
	timeout  time.Duration
}

func NewEngine(router *llm.Router, embedder llm.Embedder, store vector.Store, timeout time.Duration) *Engine {
	return &Engine{router: router, embedder: embedder, store: store, timeout: timeout}
}

// IndexDocument chunks raw text and stores embeddings for retrieval.
// Page boundaries are marked in the source with form-feed characters.
func (e *Engine) IndexDocument(ctx context.Context, documentID, text string) ([]core.Chunk, error) {
	var chunks []core.Chunk
	page := 1
	for _, pageText := range strings.Split(text, "\f") {
		for start := 0; start < len(pageText); start += chunkSize - chunkOverlap {
			end := start + chunkSize
			if end > len(pageText) {
				end = len(pageText)
			}
			piece := strings.TrimSpace(pageText[start:end])
			if piece == "" {
				if end == len(pageText) {
					break
				}
				continue
			}
			emb, err := e.embedder.Embed(ctx, piece)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, core.Chunk{
				ID:         fmt.Sprintf("%s:%d:%d", documentID, page, start),
				DocumentID: documentID,
				Page:       page,
				Text:       piece,
				Embedding:  emb,
			})
			if end == len(pageText) {
				break
			}
		}
		page++
	}
	if err := e.store.Index(ctx, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// ExtractTriplet extracts all documents of a session concurrently. One
// failed document does not abort the set: its slot comes back as a
// partial stub, the siblings keep running, and the call errors only
// when every document fails.
func (e *Engine) ExtractTriplet(ctx context.Context, docs []core.Document, texts map[string]string) ([]core.ExtractionResult, error) {
	results := make([]core.ExtractionResult, len(docs))
	errs := make([]error, len(docs))

	var g errgroup.Group
	g.SetLimit(maxParallelDocs)
	for i := range docs {
		g.Go(func() error {
			res, err := e.ExtractDocument(ctx, docs[i], texts[docs[i].ID])
			if err != nil {
				errs[i] = fmt.Errorf("extracting %s: %w", docs[i].ID, err)
				results[i] = core.ExtractionResult{
					DocumentID: docs[i].ID,
					DocType:    docs[i].Type,
					Partial:    true,
				}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	// Per-document failures are collected in errs; the group itself
	// never carries one, so siblings are never cancelled.
	_ = g.Wait()

	failed := 0
	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		if first == nil {
			first = err
		}
		slog.Warn("document extraction failed, continuing with partial set",
			"document_id", docs[i].ID, "error", err)
	}
	if len(docs) > 0 && failed == len(docs) {
		return nil, first
	}
	return results, nil
}

// ExtractDocument runs one document through the full extraction path
// under a hard per-document deadline.
func (e *Engine) ExtractDocument(ctx context.Context, doc core.Document, text string) (core.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	chunks, err := e.retrieve(ctx, doc, text)
	if err != nil {
		return core.ExtractionResult{}, err
	}

	prompt, threats := buildPrompt(doc, chunks)
	if len(threats) > 0 {
		slog.Warn("sanitizer redacted document text", "document_id", doc.ID, "threats", threats)
	}

	raw, provider, err := e.router.Complete(ctx, llm.CompletionRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   2048,
		JSONMode:    true,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return core.ExtractionResult{
				DocumentID: doc.ID,
				DocType:    doc.Type,
				Method:     provider,
				Partial:    true,
			}, nil
		}
		return core.ExtractionResult{}, err
	}

	result, err := parseResult(raw, doc)
	if err != nil {
		return core.ExtractionResult{}, err
	}
	result.Method = provider
	if m := extractionMethodOf(raw); m != "" {
		result.Method = m
	}

	result.Citations = AttachCitations(&result, chunks)
	return result, nil
}

// retrieve returns the reranked evidence chunks for the document. Top
// candidates come back scoped to the document id only.
func (e *Engine) retrieve(ctx context.Context, doc core.Document, text string) ([]core.Chunk, error) {
	query := fmt.Sprintf("%s vendor document number date currency line items quantities unit prices totals", doc.Type)
	qvec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := e.store.Query(ctx, doc.ID, qvec, retrieveTopK)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 && text != "" {
		// Document was never indexed; index inline and retry once.
		if _, err := e.IndexDocument(ctx, doc.ID, text); err != nil {
			return nil, err
		}
		scored, err = e.store.Query(ctx, doc.ID, qvec, retrieveTopK)
		if err != nil {
			return nil, err
		}
	}

	scored = vector.Rerank(query, scored)
	chunks := make([]core.Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = s.Chunk
	}
	return chunks, nil
}

func buildPrompt(doc core.Document, chunks []core.Chunk) (string, []string) {
	var b strings.Builder
	var threats []string

	b.WriteString("Document type: ")
	b.WriteString(string(doc.Type))
	b.WriteString("\nFilename: ")
	b.WriteString(doc.Filename)
	b.WriteString("\n\nDocument text:\n")
	for _, c := range chunks {
		res := sanitize.Sanitize(c.Text)
		threats = append(threats, res.Threats...)
		b.WriteString(res.Cleaned)
		b.WriteString("\n---\n")
	}

	b.WriteString(`
Extract the following fields as JSON:
{
  "vendor": string,
  "doc_number": string,
  "date": string (ISO 8601 if possible),
  "currency": string (ISO 4217 code),
  "document_total": string (decimal),
  "line_items": [
    {"description": string, "part_number": string or null,
     "quantity": string (decimal), "unit_price": string (decimal),
     "line_total": string (decimal)}
  ]
}
Use null for fields not present in the text.`)
	return b.String(), threats
}

// wire mirrors the prompt schema; numbers arrive as strings or bare
// JSON numbers depending on provider mood.
type wire struct {
	Vendor        string     `json:"vendor"`
	DocNumber     string     `json:"doc_number"`
	Date          string     `json:"date"`
	Currency      string     `json:"currency"`
	DocumentTotal jsonNumber `json:"document_total"`
	LineItems     []struct {
		Description string     `json:"description"`
		PartNumber  string     `json:"part_number"`
		Quantity    jsonNumber `json:"quantity"`
		UnitPrice   jsonNumber `json:"unit_price"`
		LineTotal   jsonNumber `json:"line_total"`
	} `json:"line_items"`
}

type jsonNumber string

func (n *jsonNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*n = jsonNumber(s)
	return nil
}

func (n jsonNumber) decimal() decimal.Decimal {
	if n == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(string(n), ",", ""))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseResult(raw string, doc core.Document) (core.ExtractionResult, error) {
	raw = stripFences(raw)
	var w wire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return core.ExtractionResult{}, core.Wrap(core.KindValidation, "model returned unparseable JSON", err)
	}

	currency := w.Currency
	if currency == "" {
		currency = "USD"
	}
	result := core.ExtractionResult{
		DocumentID:    doc.ID,
		DocType:       doc.Type,
		Vendor:        strings.TrimSpace(w.Vendor),
		DocNumber:     strings.TrimSpace(w.DocNumber),
		Date:          w.Date,
		Currency:      currency,
		DocumentTotal: core.NewMoney(w.DocumentTotal.decimal(), currency),
	}
	for _, li := range w.LineItems {
		result.LineItems = append(result.LineItems, core.LineItem{
			Description: strings.TrimSpace(li.Description),
			PartNumber:  strings.TrimSpace(li.PartNumber),
			Quantity:    li.Quantity.decimal(),
			UnitPrice:   core.NewMoney(li.UnitPrice.decimal(), currency),
			LineTotal:   core.NewMoney(li.LineTotal.decimal(), currency),
		})
	}
	return result, nil
}

func extractionMethodOf(raw string) string {
	var peek struct {
		Method string `json:"_extraction_method"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &peek); err != nil {
		return ""
	}
	return peek.Method
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}
