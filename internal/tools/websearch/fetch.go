package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgegate/forgegate/internal/agent"
)

// MaxScrapeURLs bounds a single web_scrape call per §8 Boundaries
// ("batch extract URL count rejected above 20").
const MaxScrapeURLs = 20

// FetchConfig controls web_scrape defaults.
type FetchConfig struct {
	MaxChars int
}

// WebScrapeTool implements the web_scrape tool (§4.5): fetches and extracts
// readable content from up to MaxScrapeURLs URLs, returning markdown per URL
// plus a citation object for each.
type WebScrapeTool struct {
	config    FetchConfig
	extractor *ContentExtractor
}

// WebScrapeOption customizes WebScrapeTool construction.
type WebScrapeOption func(*WebScrapeTool)

// WithExtractor overrides the default content extractor (useful for tests).
func WithExtractor(extractor *ContentExtractor) WebScrapeOption {
	return func(tool *WebScrapeTool) {
		if extractor != nil {
			tool.extractor = extractor
		}
	}
}

// NewWebScrapeTool creates a new web_scrape tool with defaults applied.
func NewWebScrapeTool(config *FetchConfig, opts ...WebScrapeOption) *WebScrapeTool {
	cfg := FetchConfig{MaxChars: 10000}
	if config != nil {
		if config.MaxChars > 0 {
			cfg.MaxChars = config.MaxChars
		}
	}
	tool := &WebScrapeTool{
		config:    cfg,
		extractor: NewContentExtractor(),
	}
	for _, opt := range opts {
		opt(tool)
	}
	return tool
}

// Name returns the tool name for registration with the agent runtime.
func (t *WebScrapeTool) Name() string {
	return "web_scrape"
}

// Description returns the tool description.
func (t *WebScrapeTool) Description() string {
	return "Fetch and extract readable markdown content from up to 20 URLs without full browser automation."
}

// Schema returns the JSON schema for tool parameters.
func (t *WebScrapeTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"urls": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": fmt.Sprintf("URLs to fetch (http/https only), at most %d", MaxScrapeURLs),
			},
			"url": map[string]interface{}{
				"type":        "string",
				"description": "single URL to fetch; equivalent to urls:[url]",
			},
			"extract_mode": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"markdown", "text"},
				"description": "Extraction mode (markdown or text). Default: markdown",
			},
			"max_chars": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum characters per URL to return (default: 10000)",
				"minimum":     0,
			},
		},
	}
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return schemaBytes
}

// scrapeResult is the per-URL extraction outcome.
type scrapeResult struct {
	URL       string `json:"url"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// citation mirrors the {source:{name,url}, document, metadata} shape of
// spec §GLOSSARY "Source / citation" for SSE source events.
type citation struct {
	Source struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"source"`
}

// Execute runs the fetch + extraction with SSRF protection for every URL.
func (t *WebScrapeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(params, &raw); err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Invalid parameters: %v", err),
			IsError: true,
		}, nil
	}

	urls := readStringSliceParam(raw, "urls")
	if len(urls) == 0 {
		if single := readStringParam(raw, "url"); single != "" {
			urls = []string{single}
		}
	}
	if len(urls) == 0 {
		return &agent.ToolResult{Content: "Missing required parameter: urls", IsError: true}, nil
	}
	if len(urls) > MaxScrapeURLs {
		return &agent.ToolResult{
			Content: fmt.Sprintf("too many URLs: %d exceeds the %d-URL limit", len(urls), MaxScrapeURLs),
			IsError: true,
		}, nil
	}

	extractMode := normalizeExtractMode(readStringParam(raw, "extract_mode", "extractMode"))
	maxChars := readIntParam(raw, "max_chars", "maxChars")
	limit := t.config.MaxChars
	if maxChars > 0 && (limit == 0 || maxChars < limit) {
		limit = maxChars
	}

	results := make([]scrapeResult, 0, len(urls))
	citations := make([]citation, 0, len(urls))
	allFailed := true
	for _, url := range urls {
		content, err := t.extractor.Extract(ctx, url)
		if err != nil {
			results = append(results, scrapeResult{URL: url, Error: err.Error()})
			continue
		}
		allFailed = false

		truncated := false
		if limit > 0 && len(content) > limit {
			content = content[:limit] + "..."
			truncated = true
		}
		results = append(results, scrapeResult{URL: url, Content: content, Truncated: truncated})

		c := citation{}
		c.Source.Name = url
		c.Source.URL = url
		citations = append(citations, c)
	}

	response := map[string]interface{}{
		"extract_mode": extractMode,
		"results":      results,
		"citations":    citations,
	}
	// Single-URL calls keep a flat "content"/"truncated" shape for simpler
	// callers (and the common case of a single scrape).
	if len(results) == 1 {
		response["content"] = results[0].Content
		if results[0].Truncated {
			response["truncated"] = true
		}
	}

	payload, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("Failed to format response: %v", err),
			IsError: true,
		}, nil
	}

	return &agent.ToolResult{Content: string(payload), IsError: allFailed}, nil
}

func normalizeExtractMode(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "text" {
		return "text"
	}
	return "markdown"
}

func readStringParam(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			if str, ok := value.(string); ok {
				return strings.TrimSpace(str)
			}
		}
	}
	return ""
}

func readStringSliceParam(raw map[string]interface{}, keys ...string) []string {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		list, ok := value.([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func readIntParam(raw map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		if value, ok := raw[key]; ok {
			switch v := value.(type) {
			case float64:
				return int(v)
			case int:
				return v
			case json.Number:
				if parsed, err := v.Int64(); err == nil {
					return int(parsed)
				}
			}
		}
	}
	return 0
}
