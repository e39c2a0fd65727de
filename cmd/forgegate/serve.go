package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/agent/providers"
	"github.com/forgegate/forgegate/internal/compaction"
	"github.com/forgegate/forgegate/internal/config"
	"github.com/forgegate/forgegate/internal/filerecall"
	"github.com/forgegate/forgegate/internal/gateway"
	"github.com/forgegate/forgegate/internal/memory"
	"github.com/forgegate/forgegate/internal/observability"
	"github.com/forgegate/forgegate/internal/pipeline"
	"github.com/forgegate/forgegate/internal/sandbox"
	"github.com/forgegate/forgegate/internal/store"
	filerecalltools "github.com/forgegate/forgegate/internal/tools/filerecall"
	"github.com/forgegate/forgegate/internal/tools/imagegen"
	memorytools "github.com/forgegate/forgegate/internal/tools/memory"
	sandboxtools "github.com/forgegate/forgegate/internal/tools/sandbox"
	"github.com/forgegate/forgegate/internal/tools/websearch"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the gateway.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forgegate gateway",
		Long: `Start the forgegate gateway with all configured providers and tools.

The server will:
1. Load configuration from the specified file
2. Open the embedded persistence store, applying pending migrations
3. Initialize the configured LLM providers and tool registry
4. Start the HTTP/SSE gateway (chat, file-recall, volume serving, health)

Graceful shutdown is handled on SIGINT/SIGTERM: the sandbox manager reaps
live containers before the store is closed.`,
		Example: `  # Start with default config
  forgegate serve

  # Start with a custom config
  forgegate serve --config /etc/forgegate/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "forgegate.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	slog.Info("starting forgegate gateway", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: logLevel, Format: cfg.Logging.Format})

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	llmProviders, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}
	defaultProvider, ok := llmProviders[strings.ToLower(cfg.LLM.DefaultProvider)]
	if !ok {
		return fmt.Errorf("default provider %q not configured", cfg.LLM.DefaultProvider)
	}

	registry := agent.NewToolRegistry()
	var sandboxManager *sandbox.Manager
	if cfg.Tools.Sandbox.Image != "" {
		sandboxManager, err = sandbox.New(ctx, sandbox.Config{DataRoot: cfg.Database.DataRoot}, logger)
		if err != nil {
			slog.Warn("sandbox unavailable, sandbox_* tools disabled", "error", err)
			sandboxManager = nil
		}
	}

	memStore := memory.NewStore(s, cfg.Memory.MaxChars)
	frStore := filerecall.NewInstanceStore(s)
	frUpload := filerecall.NewUploadPipeline(s, nil, cfg.Database.DataRoot+"/file-recall", filerecall.DefaultAllowedExtensions)

	registerTools(registry, cfg, sandboxManager, memStore, frUpload)

	loop := agent.NewLoop(defaultProvider, registry, agent.LoopConfig{
		MaxIterations: cfg.Gateway.MaxToolIterations,
		Logger:        logger,
	})

	compactionProvider, ok := llmProviders[strings.ToLower(cfg.LLM.CompactionProvider)]
	if !ok {
		compactionProvider = defaultProvider
	}
	summarizer := compaction.NewLLMSummarizer(compactionProvider, cfg.LLM.CompactionModel)
	compactor := compaction.NewCompactor(summarizer, compaction.Config{
		ThresholdTokens:  cfg.Compaction.ThresholdTokens,
		MaxSummaryTokens: cfg.Compaction.MaxSummaryTokens,
	})

	pl := pipeline.New(pipeline.Config{
		AllowedInstances:     cfg.Auth.AllowedInstances,
		DataRoot:             cfg.Database.DataRoot,
		MaxInputTokens:       cfg.Gateway.MaxInputTokens,
		MaxUserMessageTokens: cfg.Gateway.MaxUserMessageTokens,
		EnableCompaction:     true,
	}, compactor)

	srv := gateway.New(gateway.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		BearerSecret:     cfg.Auth.BearerSecret,
		AllowedInstances: cfg.Auth.AllowedInstances,
		// VolumeRoot matches sandbox.Manager's own volume path convention
		// (dataRoot/user/conv/volume), so /:user/:folder/volume/* resolves
		// to the same on-disk files the sandbox wrote.
		VolumeRoot: cfg.Database.DataRoot,
	}, gateway.Deps{
		Pipeline:        pl,
		Loop:            loop,
		ToolRegistry:    registry,
		Store:           s,
		Memory:          memStore,
		FileRecall:      frStore,
		FileRecallFiles: frUpload,
		Logger:          logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	slog.Info("forgegate gateway started", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutdown signal received, draining")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if sandboxManager != nil {
		sandboxManager.Shutdown(shutdownCtx, 20*time.Second)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("forgegate gateway stopped gracefully")
	return nil
}

// buildProviders constructs one agent.LLMProvider per entry in
// cfg.LLM.Providers, keyed by lowercased provider name (§1.3/§3.3).
func buildProviders(cfg *config.Config) (map[string]agent.LLMProvider, error) {
	out := make(map[string]agent.LLMProvider, len(cfg.LLM.Providers))
	for name, pcfg := range cfg.LLM.Providers {
		key := strings.ToLower(name)
		switch key {
		case "anthropic":
			p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       pcfg.APIKey,
				BaseURL:      pcfg.BaseURL,
				DefaultModel: pcfg.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			out[key] = p
		case "openai":
			out[key] = providers.NewOpenAIProvider(pcfg.APIKey)
		case "google":
			p, err := providers.NewGoogleProvider(providers.GoogleConfig{
				APIKey:       pcfg.APIKey,
				DefaultModel: pcfg.DefaultModel,
			})
			if err != nil {
				return nil, fmt.Errorf("google provider: %w", err)
			}
			out[key] = p
		default:
			slog.Warn("unknown provider in config, skipping", "provider", name)
		}
	}
	return out, nil
}

// registerTools registers every built-in tool adapter permitted by cfg.
func registerTools(
	registry *agent.ToolRegistry,
	cfg *config.Config,
	sandboxManager *sandbox.Manager,
	memStore *memory.Store,
	frUpload *filerecall.UploadPipeline,
) {
	if strings.TrimSpace(cfg.Tools.WebSearch.Provider) != "" {
		backend := websearch.SearchBackend(strings.ToLower(cfg.Tools.WebSearch.Provider))
		searchTool := websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:         cfg.Tools.WebSearch.BaseURL,
			BraveAPIKey:        cfg.Tools.WebSearch.APIKey,
			DefaultBackend:     backend,
			ExtractContent:     true,
			DefaultResultCount: 5,
		})
		registry.Register(searchTool)
		registry.Register(websearch.NewWebScrapeTool(&websearch.FetchConfig{MaxChars: 20000}))
		registry.Register(websearch.NewDeepResearchTool(searchTool, cfg.Database.DataRoot))
	}

	if sandboxManager != nil {
		userIDFromContext := func(ctx context.Context) string { return observability.GetUserID(ctx) }
		registry.Register(sandboxtools.NewExecTool(sandboxManager, userIDFromContext))
		registry.Register(sandboxtools.NewReadFileTool(sandboxManager))
		registry.Register(sandboxtools.NewWriteFileTool(sandboxManager))
		registry.Register(sandboxtools.NewListFilesTool(sandboxManager))
	}

	if strings.TrimSpace(cfg.Tools.ImageGeneration.APIKey) != "" {
		backend := imagegen.NewOpenAIBackend(cfg.Tools.ImageGeneration.APIKey, cfg.Tools.ImageGeneration.Model)
		registry.Register(imagegen.NewGenerationTool(backend, cfg.Database.DataRoot))
		registry.Register(imagegen.NewEditTool(backend, cfg.Database.DataRoot))
		registry.Register(imagegen.NewBlendTool(backend, cfg.Database.DataRoot))
	}

	registry.Register(memorytools.NewRetrieveTool(memStore))
	registry.Register(memorytools.NewCreateTool(memStore))
	registry.Register(memorytools.NewUpdateTool(memStore))
	registry.Register(memorytools.NewDeleteTool(memStore))

	registry.Register(filerecalltools.NewSearchTool(frUpload))
}
