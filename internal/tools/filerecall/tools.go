// Package filerecall adapts internal/filerecall.UploadPipeline into the
// file_recall_search agent.Tool (§3.5, §3.7): a thin wrapper that lets the
// model search a named file-recall instance's uploaded documents.
package filerecall

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/filerecall"
)

// DefaultMaxResults bounds a search when the caller omits max_results.
const DefaultMaxResults = 5

// searcher is the slice of *filerecall.UploadPipeline this tool depends on.
type searcher interface {
	Search(ctx context.Context, instanceID, query string, maxResults int) ([]filerecall.SearchHit, error)
}

// SearchTool implements file_recall_search.
type SearchTool struct {
	pipeline searcher
}

// NewSearchTool builds file_recall_search over pipeline.
func NewSearchTool(pipeline *filerecall.UploadPipeline) *SearchTool {
	return &SearchTool{pipeline: pipeline}
}

func (t *SearchTool) Name() string { return "file_recall_search" }

func (t *SearchTool) Description() string {
	return "Searches a file-recall instance's uploaded documents for passages relevant to a query."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"instance_id": {"type": "string", "description": "the file-recall instance to search"},
			"query": {"type": "string"},
			"max_results": {"type": "integer", "description": "default 5, max 20"}
		},
		"required": ["instance_id", "query"]
	}`)
}

type searchParams struct {
	InstanceID string `json:"instance_id"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.InstanceID == "" || p.Query == "" {
		return &agent.ToolResult{Content: "instance_id and query are required", IsError: true}, nil
	}

	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	} else if maxResults > 20 {
		maxResults = 20
	}

	hits, err := t.pipeline.Search(ctx, p.InstanceID, p.Query, maxResults)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if len(hits) == 0 {
		return &agent.ToolResult{Content: "no matching passages found"}, nil
	}

	out, err := json.MarshalIndent(hits, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to format results: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(out)}, nil
}
