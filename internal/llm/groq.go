package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ventro/backend/internal/core"
)

const defaultGroqBaseURL = "https://api.groq.com/openai/v1"

// GroqClient talks to Groq's OpenAI-compatible chat completions API.
type GroqClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

func NewGroqClient(apiKey, model, baseURL string, httpClient *http.Client) *GroqClient {
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GroqClient{apiKey: apiKey, model: model, baseURL: baseURL, http: httpClient}
}

func (c *GroqClient) Name() string { return "groq" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GroqClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	body := chatRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSONMode {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", core.Wrap(core.KindFatal, "encoding completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return "", core.Wrap(core.KindFatal, "building completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", core.Wrap(core.KindTransient, "groq request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", core.Wrap(core.KindTransient, "reading groq response", err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", core.Errorf(core.KindTransient, "groq returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", core.Errorf(core.KindFatal, "groq returned %d: %s", resp.StatusCode, payload)
	}

	var out chatResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", core.Wrap(core.KindTransient, "decoding groq response", err)
	}
	if out.Error != nil {
		return "", core.Errorf(core.KindTransient, "groq error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", core.E(core.KindTransient, "groq returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
