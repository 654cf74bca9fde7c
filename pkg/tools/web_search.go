package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebSearchToolName is the registry key of the web search tool.
const WebSearchToolName = "web_search"

const perplexityURL = "https://api.perplexity.ai/chat/completions"

// WebSearchTool answers a search query through the Perplexity API.
type WebSearchTool struct {
	apiKey string
	model  string
	client *http.Client
	url    string
}

// NewWebSearchTool creates the web search tool. httpClient may be nil.
func NewWebSearchTool(apiKey string, httpClient *http.Client) *WebSearchTool {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &WebSearchTool{
		apiKey: apiKey,
		model:  "sonar",
		client: httpClient,
		url:    perplexityURL,
	}
}

func (t *WebSearchTool) Name() string { return WebSearchToolName }

func (t *WebSearchTool) Description() string {
	return "Search the web for up-to-date information. Returns a synthesized answer with sources."
}

func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query.",
			},
		},
		"required": []any{"query"},
	}
}

type perplexityRequest struct {
	Model    string              `json:"model"`
	Messages []perplexityMessage `json:"messages"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return &Result{Success: false, Error: "web_search requires non-empty 'query'"}, nil
	}
	if t.apiKey == "" {
		return &Result{Success: false, Error: "web search is not configured (missing API key)"}, nil
	}

	body, err := json.Marshal(perplexityRequest{
		Model: t.model,
		Messages: []perplexityMessage{
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("encode request: %v", err)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("build request: %v", err)}, nil
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("search request failed: %v", err)}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("read response: %v", err)}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("search API returned %d: %s", resp.StatusCode, truncate(string(data), 500)),
		}, nil
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("decode response: %v", err)}, nil
	}
	if len(parsed.Choices) == 0 {
		return &Result{Success: false, Error: "search API returned no choices"}, nil
	}

	return &Result{
		Success: true,
		Value: map[string]any{
			"answer":    parsed.Choices[0].Message.Content,
			"citations": parsed.Citations,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
