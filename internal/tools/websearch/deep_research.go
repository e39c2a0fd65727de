package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/observability"
	"github.com/forgegate/forgegate/internal/sandbox"
)

// MaxResearchSources bounds a single deep_research call.
const MaxResearchSources = 10

// DeepResearchTool implements deep_research (§3.5): runs a web_search,
// extracts full content from each result, and writes a markdown report
// under the conversation's sandbox volume at research/<slug>.md. PDF output
// is not produced — nothing in the available ecosystem writes PDFs (the
// one PDF library seen in the examples, ledongthuc/pdf, is read-only).
type DeepResearchTool struct {
	search   *WebSearchTool
	dataRoot string
}

// NewDeepResearchTool builds deep_research, writing reports under
// dataRoot/<user>/<conversation>/volume/research (the same volume
// sandbox.Manager mounts into containers and gateway.handleVolume serves).
func NewDeepResearchTool(search *WebSearchTool, dataRoot string) *DeepResearchTool {
	return &DeepResearchTool{search: search, dataRoot: dataRoot}
}

func (t *DeepResearchTool) Name() string { return "deep_research" }

func (t *DeepResearchTool) Description() string {
	return "Researches a topic across multiple web sources and writes a cited markdown report to the conversation's volume."
}

func (t *DeepResearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"topic": {"type": "string"},
			"max_sources": {"type": "integer", "description": "default 5, max 10"}
		},
		"required": ["topic"]
	}`)
}

type researchParams struct {
	Topic      string `json:"topic"`
	MaxSources int    `json:"max_sources,omitempty"`
}

func (t *DeepResearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p researchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(p.Topic) == "" {
		return &agent.ToolResult{Content: "topic is required", IsError: true}, nil
	}

	maxSources := p.MaxSources
	if maxSources <= 0 {
		maxSources = 5
	} else if maxSources > MaxResearchSources {
		maxSources = MaxResearchSources
	}

	convID := observability.GetSessionID(ctx)
	if convID == "" {
		return &agent.ToolResult{Content: "deep_research: no conversation id in context", IsError: true}, nil
	}
	userID := observability.GetUserID(ctx)

	response, err := t.search.Search(ctx, SearchParams{
		Query:          p.Topic,
		Type:           SearchTypeWeb,
		ResultCount:    maxSources,
		ExtractContent: true,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("research search failed: %v", err), IsError: true}, nil
	}
	if len(response.Results) == 0 {
		return &agent.ToolResult{Content: "no sources found for that topic"}, nil
	}

	report := renderReport(p.Topic, response.Results)

	researchDir := filepath.Join(sandbox.VolumePath(t.dataRoot, userID, convID), "research")
	if err := os.MkdirAll(researchDir, 0o755); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to create research directory: %v", err), IsError: true}, nil
	}

	slug := slugify(p.Topic)
	reportPath := filepath.Join(researchDir, slug+".md")
	if err := os.WriteFile(reportPath, []byte(report), 0o644); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to write report: %v", err), IsError: true}, nil
	}

	downloadPath := fmt.Sprintf("/%s/%s/volume/research/%s.md", userID, convID, slug)
	return &agent.ToolResult{
		Content: fmt.Sprintf("Research report written to [%s](%s) (%d sources).", filepath.Base(reportPath), downloadPath, len(response.Results)),
	}, nil
}

func renderReport(topic string, results []SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research: %s\n\n", topic)
	for i, r := range results {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, r.Title)
		fmt.Fprintf(&b, "Source: %s\n\n", r.URL)
		body := r.Content
		if body == "" {
			body = r.Snippet
		}
		fmt.Fprintf(&b, "%s\n\n", body)
	}
	b.WriteString("## Citations\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, r.Title, r.URL)
	}
	return b.String()
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "report"
	}
	if len(out) > 60 {
		out = out[:60]
	}
	return out
}
