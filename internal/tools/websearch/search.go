// Package websearch provides the web_search tool. It prefers a
// configured SearXNG instance and falls back to DuckDuckGo's instant
// answer API.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xsota/meowgent/internal/agent"
)

const defaultResultCount = 5

// Config holds web search settings. SearXNGURL is optional; when empty
// only DuckDuckGo is used.
type Config struct {
	SearXNGURL string
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

const duckDuckGoEndpoint = "https://api.duckduckgo.com/"

// Tool implements web_search.
type Tool struct {
	config     Config
	httpClient *http.Client
	ddgURL     string
}

// New creates a web search tool.
func New(config Config) *Tool {
	return &Tool{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		ddgURL:     duckDuckGoEndpoint,
	}
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query.",
			},
			"result_count": map[string]interface{}{
				"type":        "number",
				"description": "Maximum results to return, default 5.",
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query       string `json:"query"`
		ResultCount int    `json:"result_count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return toolError("query is required"), nil
	}
	count := input.ResultCount
	if count <= 0 {
		count = defaultResultCount
	}

	var results []Result
	var err error
	if t.config.SearXNGURL != "" {
		results, err = t.searchSearXNG(ctx, query, count)
		if err != nil {
			results, err = t.searchDuckDuckGo(ctx, query, count)
		}
	} else {
		results, err = t.searchDuckDuckGo(ctx, query, count)
	}
	if err != nil {
		return toolError(fmt.Sprintf("search failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"query":   query,
		"results": results,
	}), nil
}

func (t *Tool) searchSearXNG(ctx context.Context, query string, count int) ([]Result, error) {
	base, err := url.Parse(t.config.SearXNGURL)
	if err != nil {
		return nil, fmt.Errorf("invalid searxng url: %w", err)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("categories", "general")
	base.Path = "/search"
	base.RawQuery = q.Encode()

	body, err := t.get(ctx, base.String())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, count)
	for _, r := range parsed.Results {
		if len(results) >= count {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

func (t *Tool) searchDuckDuckGo(ctx context.Context, query string, count int) ([]Result, error) {
	endpoint := fmt.Sprintf("%s?q=%s&format=json&no_html=1", t.ddgURL, url.QueryEscape(query))
	body, err := t.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Heading       string `json:"Heading"`
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var results []Result
	if parsed.AbstractText != "" && parsed.AbstractURL != "" {
		results = append(results, Result{
			Title:   parsed.Heading,
			URL:     parsed.AbstractURL,
			Snippet: parsed.AbstractText,
		})
	}
	for _, topic := range parsed.RelatedTopics {
		if len(results) >= count {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}
	return results, nil
}

func (t *Tool) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; MeowgentBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}
