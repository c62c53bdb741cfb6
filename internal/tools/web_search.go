package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tronrun/agentruntime/internal/providers"
)

const braveAPIBase = "https://api.search.brave.com/res/v1"

// Per-endpoint count limits.
var searchEndpoints = map[string]struct {
	path         string
	min, max     int
	defaultCount int
}{
	"web":    {"/web/search", 1, 20, 10},
	"news":   {"/news/search", 1, 50, 20},
	"videos": {"/videos/search", 1, 50, 20},
	"images": {"/images/search", 1, 200, 50},
}

// WebSearchTool queries the Brave search API. The endpoint parameter
// selects web/news/videos/images, each with its own count limits.
type WebSearchTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewWebSearchTool(apiKey string) *WebSearchTool {
	return &WebSearchTool{
		apiKey:  apiKey,
		baseURL: braveAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API base, for tests.
func (t *WebSearchTool) WithBaseURL(base string) *WebSearchTool {
	t.baseURL = strings.TrimRight(base, "/")
	return t
}

func (t *WebSearchTool) Name() string        { return "WebSearch" }
func (t *WebSearchTool) Category() string    { return CategorySearch }
func (t *WebSearchTool) IsInteractive() bool { return false }
func (t *WebSearchTool) StopsTurn() bool     { return false }

func (t *WebSearchTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "WebSearch",
		Description: "Search the web. Endpoints: web (1-20 results, default 10), news/videos (1-50, default 20), images (1-200, default 50).",
		Parameters: objectSchema(map[string]interface{}{
			"query":    map[string]interface{}{"type": "string", "description": "The search query"},
			"endpoint": map[string]interface{}{"type": "string", "enum": []interface{}{"web", "news", "videos", "images"}},
			"count":    map[string]interface{}{"type": "integer", "description": "Number of results"},
		}, "query"),
	}
}

type webSearchParams struct {
	Query    string `json:"query"`
	Endpoint string `json:"endpoint"`
	Count    int    `json:"count"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type braveResponse struct {
	Web     struct{ Results []braveResult } `json:"web"`
	Results []braveResult                   `json:"results"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error) {
	var p webSearchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Query == "" {
		return ErrorResult("query is required"), nil
	}
	if t.apiKey == "" {
		return ErrorResult("web search is not configured (missing API key)"), nil
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = "web"
	}
	spec, ok := searchEndpoints[endpoint]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown endpoint %q", endpoint)), nil
	}
	count := p.Count
	if count == 0 {
		count = spec.defaultCount
	}
	if count < spec.min {
		count = spec.min
	}
	if count > spec.max {
		count = spec.max
	}

	q := url.Values{}
	q.Set("q", p.Query)
	q.Set("count", fmt.Sprintf("%d", count))
	reqURL := t.baseURL + spec.path + "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("build request: %v", err)), nil
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return ErrorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ErrorResult(fmt.Sprintf("search returned %d: %s", resp.StatusCode, body)), nil
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ErrorResult(fmt.Sprintf("decode response: %v", err)), nil
	}
	results := parsed.Web.Results
	if len(results) == 0 {
		results = parsed.Results
	}
	if len(results) == 0 {
		return NewResult("No results found."), nil
	}

	var b strings.Builder
	for i, r := range results {
		if i >= count {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return NewResult(b.String()), nil
}
