package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/observability"
	"github.com/forgegate/forgegate/internal/sandbox"
)

// sidecar is the JSON metadata written alongside every persisted image
// (§3.5's "persist output + JSON side-car").
type sidecar struct {
	Prompt      string    `json:"prompt"`
	Operation   string    `json:"operation"` // generate, edit, blend
	SourcePaths []string  `json:"source_paths,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// imageRoot resolves (and creates) the conversation's volume/images
// directory.
func imageRoot(dataRoot, userID, convID string) (string, error) {
	dir := filepath.Join(sandbox.VolumePath(dataRoot, userID, convID), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create images directory: %w", err)
	}
	return dir, nil
}

// persist writes img plus its sidecar under dir, named id.<ext>/id.json,
// and returns the markdown-linkable download path.
func persist(dataRoot, userID, convID, dir string, img *Image, sc sidecar) (string, error) {
	id := fmt.Sprintf("img-%d", time.Now().UnixNano())
	ext := ".png"
	if img.MimeType == "image/jpeg" {
		ext = ".jpg"
	}

	imgPath := filepath.Join(dir, id+ext)
	if err := os.WriteFile(imgPath, img.Data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	scData, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), scData, 0o644); err != nil {
		return "", fmt.Errorf("write sidecar: %w", err)
	}

	return fmt.Sprintf("/%s/%s/volume/images/%s%s", userID, convID, id, ext), nil
}

// readSource loads a workspace-relative image path from the conversation's
// volume (the "pre-fetch referenced local images" step of §3.5).
func readSource(dataRoot, userID, convID, workspacePath string) (Image, error) {
	data, err := sandbox.ReadFile(sandbox.VolumePath(dataRoot, userID, convID), workspacePath)
	if err != nil {
		return Image{}, fmt.Errorf("read source image %s: %w", workspacePath, err)
	}
	mime := "image/png"
	if ext := filepath.Ext(workspacePath); ext == ".jpg" || ext == ".jpeg" {
		mime = "image/jpeg"
	}
	return Image{Data: data, MimeType: mime}, nil
}

func convAndUser(ctx context.Context) (convID, userID string, ok bool) {
	convID = observability.GetSessionID(ctx)
	if convID == "" {
		return "", "", false
	}
	return convID, observability.GetUserID(ctx), true
}

// GenerationTool implements image_generation.
type GenerationTool struct {
	backend  Backend
	dataRoot string
}

// NewGenerationTool builds image_generation over backend.
func NewGenerationTool(backend Backend, dataRoot string) *GenerationTool {
	return &GenerationTool{backend: backend, dataRoot: dataRoot}
}

func (t *GenerationTool) Name() string { return "image_generation" }

func (t *GenerationTool) Description() string {
	return "Generates a new image from a text prompt and saves it to the conversation's volume."
}

func (t *GenerationTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"prompt": {"type": "string"}},
		"required": ["prompt"]
	}`)
}

type generateParams struct {
	Prompt string `json:"prompt"`
}

func (t *GenerationTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p generateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Prompt == "" {
		return &agent.ToolResult{Content: "prompt is required", IsError: true}, nil
	}
	convID, userID, ok := convAndUser(ctx)
	if !ok {
		return &agent.ToolResult{Content: "image_generation: no conversation id in context", IsError: true}, nil
	}

	img, err := t.backend.Generate(ctx, p.Prompt)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	dir, err := imageRoot(t.dataRoot, userID, convID)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	link, err := persist(t.dataRoot, userID, convID, dir, img, sidecar{Prompt: p.Prompt, Operation: "generate", CreatedAt: time.Now()})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("![generated image](%s)", link)}, nil
}

// EditTool implements image_edit.
type EditTool struct {
	backend  Backend
	dataRoot string
}

// NewEditTool builds image_edit over backend.
func NewEditTool(backend Backend, dataRoot string) *EditTool {
	return &EditTool{backend: backend, dataRoot: dataRoot}
}

func (t *EditTool) Name() string { return "image_edit" }

func (t *EditTool) Description() string {
	return "Edits an existing image (referenced by its volume path) according to a text prompt."
}

func (t *EditTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"source_path": {"type": "string", "description": "workspace-relative path to the source image"},
			"prompt": {"type": "string"}
		},
		"required": ["source_path", "prompt"]
	}`)
}

type editParams struct {
	SourcePath string `json:"source_path"`
	Prompt     string `json:"prompt"`
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p editParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.SourcePath == "" || p.Prompt == "" {
		return &agent.ToolResult{Content: "source_path and prompt are required", IsError: true}, nil
	}
	convID, userID, ok := convAndUser(ctx)
	if !ok {
		return &agent.ToolResult{Content: "image_edit: no conversation id in context", IsError: true}, nil
	}

	source, err := readSource(t.dataRoot, userID, convID, p.SourcePath)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	img, err := t.backend.Edit(ctx, p.Prompt, source)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	dir, err := imageRoot(t.dataRoot, userID, convID)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	link, err := persist(t.dataRoot, userID, convID, dir, img, sidecar{
		Prompt: p.Prompt, Operation: "edit", SourcePaths: []string{p.SourcePath}, CreatedAt: time.Now(),
	})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("![edited image](%s)", link)}, nil
}

// BlendTool implements image_blend.
type BlendTool struct {
	backend  Backend
	dataRoot string
}

// NewBlendTool builds image_blend over backend.
func NewBlendTool(backend Backend, dataRoot string) *BlendTool {
	return &BlendTool{backend: backend, dataRoot: dataRoot}
}

func (t *BlendTool) Name() string { return "image_blend" }

func (t *BlendTool) Description() string {
	return "Blends a base image with one or more reference images under a text prompt."
}

func (t *BlendTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"base_path": {"type": "string"},
			"reference_paths": {"type": "array", "items": {"type": "string"}},
			"prompt": {"type": "string"}
		},
		"required": ["base_path", "reference_paths", "prompt"]
	}`)
}

type blendParams struct {
	BasePath       string   `json:"base_path"`
	ReferencePaths []string `json:"reference_paths"`
	Prompt         string   `json:"prompt"`
}

func (t *BlendTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p blendParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.BasePath == "" || len(p.ReferencePaths) == 0 || p.Prompt == "" {
		return &agent.ToolResult{Content: "base_path, reference_paths, and prompt are required", IsError: true}, nil
	}
	convID, userID, ok := convAndUser(ctx)
	if !ok {
		return &agent.ToolResult{Content: "image_blend: no conversation id in context", IsError: true}, nil
	}

	base, err := readSource(t.dataRoot, userID, convID, p.BasePath)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	refs := make([]Image, 0, len(p.ReferencePaths))
	for _, rp := range p.ReferencePaths {
		img, err := readSource(t.dataRoot, userID, convID, rp)
		if err != nil {
			return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		refs = append(refs, img)
	}

	img, err := t.backend.Blend(ctx, p.Prompt, base, refs)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	dir, err := imageRoot(t.dataRoot, userID, convID)
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	sources := append([]string{p.BasePath}, p.ReferencePaths...)
	link, err := persist(t.dataRoot, userID, convID, dir, img, sidecar{
		Prompt: p.Prompt, Operation: "blend", SourcePaths: sources, CreatedAt: time.Now(),
	})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("![blended image](%s)", link)}, nil
}
