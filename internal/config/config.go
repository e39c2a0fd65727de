package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the complete configuration for a forgegate gateway process.
// It is loaded once at startup via Load and is immutable for the process
// lifetime — no hot-reload, unlike the teacher's per-channel plugin config.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Tools      ToolsConfig      `yaml:"tools"`
	Compaction CompactionConfig `yaml:"compaction"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP listener and public surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MetricsPort serves /metrics. 0 uses the same listener as Port.
	MetricsPort int `yaml:"metrics_port"`

	// PublicDomain is the externally-visible domain, used for absolute
	// links returned by the file-recall volume endpoints.
	PublicDomain string `yaml:"public_domain"`

	// CORS enables permissive CORS headers on API routes.
	CORS bool `yaml:"cors"`

	// Debug enables verbose request logging and relaxes production defaults.
	Debug bool `yaml:"debug"`
}

// AuthConfig configures the bearer-secret and source-instance allow-list
// gates applied in §4.8 step 1.
type AuthConfig struct {
	// BearerSecret is the shared secret every request's Authorization
	// header must present. Required; no default.
	BearerSecret string `yaml:"bearer_secret"`

	// AllowedInstances is the source-instance allow-list: exact strings,
	// CIDRs, or "*". See gateway.AllowListMatches.
	AllowedInstances []string `yaml:"allowed_instances"`
}

// GatewayConfig configures request-pipeline limits (§4.8).
type GatewayConfig struct {
	// MaxToolIterations bounds the Tool-Use Loop. Default: 5.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// MaxInputTokens bounds the full transcript handed to a provider.
	MaxInputTokens int `yaml:"max_input_tokens"`

	// MaxUserMessageTokens bounds a single incoming user message. Default: 8192.
	MaxUserMessageTokens int `yaml:"max_user_message_tokens"`
}

// DatabaseConfig configures the embedded persistence store (§3.11, §4.1).
type DatabaseConfig struct {
	// DataRoot is the root directory for the sqlite file, sandbox volumes,
	// and file-recall blobs.
	DataRoot string `yaml:"data_root"`

	// Path is the sqlite DB file path. Defaults to <data_root>/forgegate.db.
	Path string `yaml:"path"`

	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig configures the provider registry (§3.3, §4.3).
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// CompactionProvider/CompactionModel select the cheap model used for
	// rolling-summary compaction calls (§4.9). Falls back to DefaultProvider
	// when unset.
	CompactionProvider string `yaml:"compaction_provider"`
	CompactionModel    string `yaml:"compaction_model"`
}

// LLMProviderConfig configures one wire adapter.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// ToolsConfig configures built-in tool adapters (§3.6, §4.6).
type ToolsConfig struct {
	WebSearch      WebSearchConfig      `yaml:"web_search"`
	ImageGeneration ImageGenerationConfig `yaml:"image_generation"`
	Sandbox        SandboxConfig        `yaml:"sandbox"`
}

// WebSearchConfig configures the web_search/web_scrape/deep_research tools.
type WebSearchConfig struct {
	Provider string `yaml:"provider"` // "searxng", "brave", "duckduckgo"
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// ImageGenerationConfig configures image_generation/image_edit/image_blend.
type ImageGenerationConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// SandboxConfig configures the per-conversation container manager (§4.5).
type SandboxConfig struct {
	Image         string        `yaml:"image"`
	MemoryLimitMB int64         `yaml:"memory_limit_mb"`
	CPUQuota      float64       `yaml:"cpu_quota"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ExecTimeout   time.Duration `yaml:"exec_timeout"`
}

// CompactionConfig configures the rolling-summary algorithm (§4.9).
type CompactionConfig struct {
	// ThresholdTokens triggers compaction above this estimated size. Default: 65536.
	ThresholdTokens int `yaml:"threshold_tokens"`

	// MaxSummaryTokens bounds the summarizer's own output. Default: 1024.
	MaxSummaryTokens int `yaml:"max_summary_tokens"`
}

// MemoryConfig configures the per-user memory budget (§3.8, §4.6).
type MemoryConfig struct {
	// MaxChars bounds sum(len(content)) across a user's memory rows. Default: 2000.
	MaxChars int `yaml:"max_chars"`
}

// LoggingConfig configures the structured logger (§1.1).
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads path (resolving $include directives and os.ExpandEnv
// interpolation via loader.go), applies environment overrides and
// defaults, validates, and returns the Config.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Database.DataRoot == "" {
		cfg.Database.DataRoot = "./data"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = cfg.Database.DataRoot + "/forgegate.db"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 25
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.CompactionProvider == "" {
		cfg.LLM.CompactionProvider = cfg.LLM.DefaultProvider
	}

	if cfg.Gateway.MaxToolIterations <= 0 {
		cfg.Gateway.MaxToolIterations = 5
	}
	if cfg.Gateway.MaxUserMessageTokens <= 0 {
		cfg.Gateway.MaxUserMessageTokens = 8192
	}

	if cfg.Compaction.ThresholdTokens <= 0 {
		cfg.Compaction.ThresholdTokens = 65536
	}
	if cfg.Compaction.MaxSummaryTokens <= 0 {
		cfg.Compaction.MaxSummaryTokens = 1024
	}

	if cfg.Memory.MaxChars <= 0 {
		cfg.Memory.MaxChars = 2000
	}

	if cfg.Tools.Sandbox.IdleTimeout == 0 {
		cfg.Tools.Sandbox.IdleTimeout = 5 * time.Minute
	}
	if cfg.Tools.Sandbox.ExecTimeout == 0 {
		cfg.Tools.Sandbox.ExecTimeout = 2 * time.Minute
	}
	if cfg.Tools.Sandbox.MemoryLimitMB == 0 {
		cfg.Tools.Sandbox.MemoryLimitMB = 512
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := strings.TrimSpace(os.Getenv("FORGEGATE_BEARER_SECRET")); v != "" {
		cfg.Auth.BearerSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_DATA_ROOT")); v != "" {
		cfg.Database.DataRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_DB_PATH")); v != "" {
		cfg.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_ALLOWED_INSTANCES")); v != "" {
		cfg.Auth.AllowedInstances = splitAndTrim(v, ",")
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_MAX_TOOL_ITERATIONS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.MaxToolIterations = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_MAX_INPUT_TOKENS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.MaxInputTokens = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_MAX_USER_MESSAGE_TOKENS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.MaxUserMessageTokens = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_COMPACTION_THRESHOLD_TOKENS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.ThresholdTokens = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_COMPACTION_MAX_SUMMARY_TOKENS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Compaction.MaxSummaryTokens = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_PUBLIC_DOMAIN")); v != "" {
		cfg.Server.PublicDomain = v
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_CORS")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Server.CORS = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FORGEGATE_DEBUG")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Server.Debug = parsed
		}
	}
}

func splitAndTrim(value, sep string) []string {
	parts := strings.Split(value, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ConfigValidationError aggregates every validation failure found in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if strings.TrimSpace(cfg.Auth.BearerSecret) == "" {
		issues = append(issues, "auth.bearer_secret is required")
	}
	if cfg.Gateway.MaxToolIterations <= 0 {
		issues = append(issues, "gateway.max_tool_iterations must be > 0")
	}
	if cfg.Gateway.MaxUserMessageTokens <= 0 {
		issues = append(issues, "gateway.max_user_message_tokens must be > 0")
	}
	if cfg.Compaction.ThresholdTokens <= 0 {
		issues = append(issues, "compaction.threshold_tokens must be > 0")
	}
	if cfg.Memory.MaxChars <= 0 {
		issues = append(issues, "memory.max_chars must be > 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if provider := strings.ToLower(strings.TrimSpace(cfg.Tools.WebSearch.Provider)); provider != "" {
		switch provider {
		case "searxng", "brave", "duckduckgo":
		default:
			issues = append(issues, "tools.web_search.provider must be \"searxng\", \"brave\", or \"duckduckgo\"")
		}
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
