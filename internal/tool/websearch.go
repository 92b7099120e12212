package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const websearchDescription = `Search the web for current information, news, articles, and documentation.

Usage notes:
  - Returns a ranked list of results with titles, URLs, and snippets.
  - Prefers the Brave Search API when BRAVE_API_KEY is set, otherwise falls
    back to DuckDuckGo's no-key instant-answer endpoint (fewer results).
  - Use this for information beyond the model's training cutoff.`

// WebSearchTool queries a configured search provider.
type WebSearchTool struct {
	client         *http.Client
	braveEndpoint  string
	duckDuckGoEndpoint string
}

// NewWebSearchTool creates a new web search tool.
func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		client:             &http.Client{Timeout: defaultTimeout},
		braveEndpoint:      envOrDefault("OPENCODE_WEB_SEARCH_BRAVE_ENDPOINT", "https://api.search.brave.com/res/v1/web/search"),
		duckDuckGoEndpoint: envOrDefault("OPENCODE_WEB_SEARCH_DUCKDUCKGO_ENDPOINT", "https://api.duckduckgo.com/"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (t *WebSearchTool) ID() string          { return "web_search" }
func (t *WebSearchTool) Description() string { return websearchDescription }

func (t *WebSearchTool) Spec() Spec {
	return Spec{Name: t.ID(), Description: t.Description(), Parameters: t.Parameters()}
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query"
			},
			"max_results": {
				"type": "integer",
				"description": "Maximum number of results to return (default 10)"
			}
		},
		"required": ["query"]
	}`)
}

type webSearchInput struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type webSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params webSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	var (
		results []webSearchResult
		err     error
		via     string
	)
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		results, err = t.searchBrave(ctx, key, params.Query, maxResults)
		via = "brave"
	} else {
		results, err = t.searchDuckDuckGo(ctx, params.Query, maxResults)
		via = "duckduckgo"
	}
	if err != nil {
		return &Result{
			Title:   fmt.Sprintf("web_search: %s", params.Query),
			Output:  fmt.Sprintf("search failed (%s): %v", via, err),
			IsError: true,
		}, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	if b.Len() == 0 {
		b.WriteString("no results")
	}

	return &Result{
		Title:  fmt.Sprintf("web_search: %s", params.Query),
		Output: b.String(),
		Metadata: map[string]any{
			"provider":    via,
			"result_count": len(results),
		},
	}, nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, apiKey, query string, max int) ([]webSearchResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", t.braveEndpoint, url.QueryEscape(query), max)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("brave search returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode brave response: %w", err)
	}
	out := make([]webSearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		out = append(out, webSearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

func (t *WebSearchTool) searchDuckDuckGo(ctx context.Context, query string, max int) ([]webSearchResult, error) {
	u := fmt.Sprintf("%s?q=%s&format=json&no_html=1&skip_disambig=1", t.duckDuckGoEndpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}

	var parsed struct {
		AbstractText string `json:"AbstractText"`
		AbstractURL  string `json:"AbstractURL"`
		Heading      string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode duckduckgo response: %w", err)
	}

	out := make([]webSearchResult, 0, max)
	if parsed.AbstractText != "" {
		out = append(out, webSearchResult{Title: parsed.Heading, URL: parsed.AbstractURL, Snippet: parsed.AbstractText})
	}
	for _, rt := range parsed.RelatedTopics {
		if rt.Text == "" {
			continue
		}
		out = append(out, webSearchResult{Title: rt.Text, URL: rt.FirstURL, Snippet: rt.Text})
		if len(out) >= max {
			break
		}
	}
	return out, nil
}
