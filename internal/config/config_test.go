package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forgegate.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
auth:
  bearer_secret: topsecret
server:
  host: 0.0.0.0
  extra_unknown_field: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
auth:
  bearer_secret: topsecret
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
      default_model: claude-sonnet-4-20250514
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Gateway.MaxToolIterations != 5 {
		t.Errorf("Gateway.MaxToolIterations = %d, want default 5", cfg.Gateway.MaxToolIterations)
	}
	if cfg.Gateway.MaxUserMessageTokens != 8192 {
		t.Errorf("Gateway.MaxUserMessageTokens = %d, want default 8192", cfg.Gateway.MaxUserMessageTokens)
	}
	if cfg.Compaction.ThresholdTokens != 65536 {
		t.Errorf("Compaction.ThresholdTokens = %d, want default 65536", cfg.Compaction.ThresholdTokens)
	}
	if cfg.Compaction.MaxSummaryTokens != 1024 {
		t.Errorf("Compaction.MaxSummaryTokens = %d, want default 1024", cfg.Compaction.MaxSummaryTokens)
	}
	if cfg.Memory.MaxChars != 2000 {
		t.Errorf("Memory.MaxChars = %d, want default 2000", cfg.Memory.MaxChars)
	}
	if cfg.LLM.CompactionProvider != "anthropic" {
		t.Errorf("LLM.CompactionProvider = %q, want fallback to default_provider", cfg.LLM.CompactionProvider)
	}
}

func TestLoadRequiresBearerSecret(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "bearer_secret") {
		t.Errorf("expected bearer_secret error, got %v", err)
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
auth:
  bearer_secret: topsecret
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Errorf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesWebSearchProvider(t *testing.T) {
	path := writeConfig(t, `
auth:
  bearer_secret: topsecret
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
tools:
  web_search:
    provider: altavista
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "web_search.provider") {
		t.Errorf("expected web_search.provider error, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
auth:
  bearer_secret: placeholder
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)
	t.Setenv("FORGEGATE_BEARER_SECRET", "from-env")
	t.Setenv("FORGEGATE_PORT", "9999")
	t.Setenv("FORGEGATE_ALLOWED_INSTANCES", " 10.0.0.0/8 , gateway-b ")
	t.Setenv("FORGEGATE_MAX_TOOL_ITERATIONS", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.BearerSecret != "from-env" {
		t.Errorf("BearerSecret = %q, want env override", cfg.Auth.BearerSecret)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if len(cfg.Auth.AllowedInstances) != 2 || cfg.Auth.AllowedInstances[0] != "10.0.0.0/8" {
		t.Errorf("AllowedInstances = %+v", cfg.Auth.AllowedInstances)
	}
	if cfg.Gateway.MaxToolIterations != 3 {
		t.Errorf("MaxToolIterations = %d, want 3", cfg.Gateway.MaxToolIterations)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	mainPath := filepath.Join(dir, "forgegate.yaml")

	if err := os.WriteFile(basePath, []byte(strings.TrimSpace(`
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: sk-test
`)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(mainPath, []byte(strings.TrimSpace(`
$include: base.yaml
auth:
  bearer_secret: topsecret
`)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test" {
		t.Errorf("included provider config not merged: %+v", cfg.LLM.Providers)
	}
}
