package pipeline

import (
	"fmt"
	"strings"
)

// SystemPromptOptions holds the dynamic sections the pipeline's
// system-prompt-assembly step may append to or prepend onto whatever
// system message the caller already sent.
type SystemPromptOptions struct {
	// CustomPrompt is prepended to any existing system message when configured.
	CustomPrompt string

	// UserMemories are rendered into a [USER_MEMORIES] block when non-empty.
	UserMemories []string

	// SandboxEnabled appends the download-URL convention note for files
	// created under /workspace.
	SandboxEnabled bool

	// DownloadURLTemplate is the pattern files in /workspace resolve to,
	// e.g. "https://example.com/{user}/{conv}/volume/{path}".
	DownloadURLTemplate string
}

// AssembleSystemPrompt implements step 4 of the request pipeline: prepend a
// custom system prompt to the existing system message (if any), append a
// [USER_MEMORIES] block when memories exist, and append a sandbox
// download-URL note when sandboxing is enabled.
func AssembleSystemPrompt(existing string, opts SystemPromptOptions) string {
	var parts []string

	if custom := strings.TrimSpace(opts.CustomPrompt); custom != "" {
		parts = append(parts, custom)
	}

	if existing = strings.TrimSpace(existing); existing != "" {
		parts = append(parts, existing)
	}

	if memories := normalizeMemoryLines(opts.UserMemories); len(memories) > 0 {
		block := fmt.Sprintf("[USER_MEMORIES]\n%s\n[/USER_MEMORIES]", strings.Join(memories, "\n"))
		parts = append(parts, block)
	}

	if opts.SandboxEnabled {
		note := "Files written to /workspace in the sandbox are retrievable by the user at a stable download URL"
		if tmpl := strings.TrimSpace(opts.DownloadURLTemplate); tmpl != "" {
			note = fmt.Sprintf("%s of the form %s.", note, tmpl)
		} else {
			note += "."
		}
		parts = append(parts, note)
	}

	return strings.Join(parts, "\n\n")
}

func normalizeMemoryLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, "- "+line)
	}
	return out
}
