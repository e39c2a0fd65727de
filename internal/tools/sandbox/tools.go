// Package sandbox adapts internal/sandbox.Manager into agent.Tool
// implementations: sandbox_execute, sandbox_read_file, sandbox_write_file, and
// sandbox_list_files (§4.5, §4.6). Each tool resolves its conversation from
// context via observability.GetSessionID — the gateway's per-request
// conversation id doubles as the session id carried through the loop.
package sandbox

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

// guidance appended to OOM/timeout tool results per §7's error policy.
const resourceGuidance = "the sandbox ran out of resources; try streaming output in smaller chunks or reducing memory use"

// containerManager is the slice of *sandbox.Manager these tools depend on.
// Narrowing to an interface keeps the package testable without a live
// Docker daemon.
type containerManager interface {
	GetOrCreate(ctx context.Context, convID, userID string) (*sandbox.Handle, error)
	Exec(ctx context.Context, h *sandbox.Handle, cmd []string, workdir string, onStdout, onStderr func([]byte)) (*sandbox.ExecResult, error)
}

// ExecTool implements sandbox_execute: runs a shell command in the
// conversation's sandbox container, creating it on first use.
type ExecTool struct {
	manager containerManager
	userID  func(ctx context.Context) string
}

// NewExecTool builds a sandbox_execute tool. userID resolves the owning user id
// for container provisioning; pass nil to default to "".
func NewExecTool(manager *sandbox.Manager, userID func(ctx context.Context) string) *ExecTool {
	return &ExecTool{manager: manager, userID: userID}
}

func (t *ExecTool) Name() string { return "sandbox_execute" }

func (t *ExecTool) Description() string {
	return "Runs a shell command inside the conversation's isolated sandbox container and returns stdout/stderr/exit code."
}

func (t *ExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "array", "items": {"type": "string"}, "description": "argv, e.g. [\"python3\", \"script.py\"]"},
			"workdir": {"type": "string", "description": "working directory inside the container, default /workspace"}
		},
		"required": ["command"]
	}`)
}

type execParams struct {
	Command []string `json:"command"`
	Workdir string   `json:"workdir,omitempty"`
}

func (t *ExecTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p execParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if len(p.Command) == 0 {
		return &agent.ToolResult{Content: "command must be a non-empty argv list", IsError: true}, nil
	}

	handle, err := t.getHandle(ctx)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	workdir := p.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}

	res, err := t.manager.Exec(ctx, handle, p.Command, workdir, nil, nil)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	if res.OOMKiled {
		return &agent.ToolResult{Content: "sandbox process was OOM-killed: " + resourceGuidance, IsError: true}, nil
	}
	if res.TimedOut {
		return &agent.ToolResult{Content: "sandbox command timed out: " + resourceGuidance, IsError: true}, nil
	}

	content := fmt.Sprintf("exit_code=%d\nstdout:\n%s\nstderr:\n%s", res.ExitCode, res.Stdout, res.Stderr)
	return &agent.ToolResult{Content: content, IsError: res.ExitCode != 0}, nil
}

func (t *ExecTool) getHandle(ctx context.Context) (*sandbox.Handle, error) {
	convID := observability.GetSessionID(ctx)
	if convID == "" {
		return nil, fmt.Errorf("sandbox_execute: no conversation id in context")
	}
	var userID string
	if t.userID != nil {
		userID = t.userID(ctx)
	}
	return t.manager.GetOrCreate(ctx, convID, userID)
}

// volumeResolver is the slice of *sandbox.Manager FileTool depends on.
type volumeResolver interface {
	GetOrCreate(ctx context.Context, convID, userID string) (*sandbox.Handle, error)
}

// FileTool implements the read/write/list file operations of §4.5/§4.6,
// scoped to the conversation's sandbox volume via internal/sandbox's
// path-traversal-safe helpers.
type FileTool struct {
	manager volumeResolver
	op      string // "read", "write", "list"
}

// NewReadFileTool builds sandbox_read_file.
func NewReadFileTool(manager *sandbox.Manager) *FileTool { return &FileTool{manager: manager, op: "read"} }

// NewWriteFileTool builds sandbox_write_file.
func NewWriteFileTool(manager *sandbox.Manager) *FileTool {
	return &FileTool{manager: manager, op: "write"}
}

// NewListFilesTool builds sandbox_list_files.
func NewListFilesTool(manager *sandbox.Manager) *FileTool { return &FileTool{manager: manager, op: "list"} }

func (t *FileTool) Name() string {
	switch t.op {
	case "write":
		return "sandbox_write_file"
	case "list":
		return "sandbox_list_files"
	default:
		return "sandbox_read_file"
	}
}

func (t *FileTool) Description() string {
	switch t.op {
	case "write":
		return "Writes file contents inside the conversation's sandbox volume."
	case "list":
		return "Lists files at a path inside the conversation's sandbox volume."
	default:
		return "Reads file contents from the conversation's sandbox volume."
	}
}

func (t *FileTool) Schema() json.RawMessage {
	switch t.op {
	case "write":
		return json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"content": {"type": "string"}
			},
			"required": ["path", "content"]
		}`)
	default:
		return json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"}
			},
			"required": ["path"]
		}`)
	}
}

type fileParams struct {
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
}

func (t *FileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p fileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	convID := observability.GetSessionID(ctx)
	if convID == "" {
		return &agent.ToolResult{Content: t.Name() + ": no conversation id in context", IsError: true}, nil
	}
	handle, err := t.manager.GetOrCreate(ctx, convID, "")
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	switch t.op {
	case "write":
		if err := sandbox.WriteFile(handle.VolumePath, p.Path, []byte(p.Content)); err != nil {
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return &agent.ToolResult{Content: "wrote " + p.Path}, nil

	case "list":
		entries, err := sandbox.ListFiles(handle.VolumePath, p.Path)
		if err != nil {
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return &agent.ToolResult{Content: strings.Join(names, "\n")}, nil

	default: // read
		data, err := sandbox.ReadFile(handle.VolumePath, p.Path)
		if err != nil {
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return &agent.ToolResult{Content: string(data)}, nil
	}
}

// DiffEditTool implements sandbox_diff_edit: a literal search-and-replace
// against a file in the conversation's sandbox volume (§4.6).
type DiffEditTool struct {
	manager volumeResolver
}

// NewDiffEditTool builds a sandbox_diff_edit tool.
func NewDiffEditTool(manager *sandbox.Manager) *DiffEditTool { return &DiffEditTool{manager: manager} }

func (t *DiffEditTool) Name() string { return "sandbox_diff_edit" }

func (t *DiffEditTool) Description() string {
	return "Replaces a literal search string with a replacement string in a file inside the conversation's sandbox volume."
}

func (t *DiffEditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string"},
			"search": {"type": "string"},
			"replace": {"type": "string"},
			"global": {"type": "boolean", "description": "replace every occurrence instead of just the first, default false"}
		},
		"required": ["path", "search", "replace"]
	}`)
}

type diffEditParams struct {
	Path    string `json:"path"`
	Search  string `json:"search"`
	Replace string `json:"replace"`
	Global  bool   `json:"global,omitempty"`
}

func (t *DiffEditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p diffEditParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Search == "" {
		return &agent.ToolResult{Content: "search must be non-empty", IsError: true}, nil
	}

	convID := observability.GetSessionID(ctx)
	if convID == "" {
		return &agent.ToolResult{Content: t.Name() + ": no conversation id in context", IsError: true}, nil
	}
	handle, err := t.manager.GetOrCreate(ctx, convID, "")
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	count, err := sandbox.DiffEdit(handle.VolumePath, p.Path, p.Search, p.Replace, p.Global)
	if err != nil {
		if err == sandbox.ErrNotFound {
			return &agent.ToolResult{Content: fmt.Sprintf("not found: %q does not appear in %s", p.Search, p.Path), IsError: true}, nil
		}
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("replaced %d occurrence(s) in %s", count, p.Path)}, nil
}

// StatsTool implements sandbox_stats: reports file count and total bytes
// used in the conversation's sandbox volume.
type StatsTool struct {
	manager volumeResolver
}

// NewStatsTool builds a sandbox_stats tool.
func NewStatsTool(manager *sandbox.Manager) *StatsTool { return &StatsTool{manager: manager} }

func (t *StatsTool) Name() string { return "sandbox_stats" }

func (t *StatsTool) Description() string {
	return "Reports file count and total bytes used in the conversation's sandbox volume."
}

func (t *StatsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *StatsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	convID := observability.GetSessionID(ctx)
	if convID == "" {
		return &agent.ToolResult{Content: t.Name() + ": no conversation id in context", IsError: true}, nil
	}
	handle, err := t.manager.GetOrCreate(ctx, convID, "")
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	var fileCount int
	var totalBytes int64
	err = filepath.Walk(handle.VolumePath, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			fileCount++
			totalBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"file_count":  fileCount,
		"total_bytes": totalBytes,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}
