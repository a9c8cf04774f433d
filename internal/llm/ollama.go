package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ventro/backend/internal/core"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama daemon. It is the second hop in
// the failover chain and also serves embeddings.
type OllamaClient struct {
	baseURL    string
	model      string
	embedModel string
	http       *http.Client
}

func NewOllamaClient(baseURL, model, embedModel string, httpClient *http.Client) *OllamaClient {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaClient{baseURL: baseURL, model: model, embedModel: embedModel, http: httpClient}
}

func (c *OllamaClient) Name() string { return "ollama" }

func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := map[string]interface{}{
		"model":  c.model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]interface{}{
			"temperature": req.Temperature,
		},
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.JSONMode {
		body["format"] = "json"
	}

	payload, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}

	var out struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", core.Wrap(core.KindTransient, "decoding ollama response", err)
	}
	if out.Error != "" {
		return "", core.Errorf(core.KindTransient, "ollama error: %s", out.Error)
	}
	return out.Response, nil
}

// Embed returns the embedding vector for text using the configured
// embedding model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := c.post(ctx, "/api/embeddings", map[string]interface{}{
		"model":  c.embedModel,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
		Error     string    `json:"error"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, core.Wrap(core.KindTransient, "decoding embedding response", err)
	}
	if out.Error != "" {
		return nil, core.Errorf(core.KindTransient, "ollama embedding error: %s", out.Error)
	}
	return out.Embedding, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "encoding ollama request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, core.Wrap(core.KindFatal, "building ollama request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, core.Wrap(core.KindTransient, "ollama request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, core.Wrap(core.KindTransient, "reading ollama response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, core.Errorf(core.KindTransient, "ollama returned %d: %s", resp.StatusCode, payload)
	}
	return payload, nil
}
