// Package gateway implements the HTTP surface of §3.12/§4.10: bearer
// auth and source-instance allow-list gating, the OpenAI-compatible
// chat endpoint (streaming and non-streaming), the file-recall admin
// and per-instance API, static volume serving, and /health and
// /metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgegate/forgegate/internal/agent"
	"github.com/forgegate/forgegate/internal/filerecall"
	"github.com/forgegate/forgegate/internal/memory"
	"github.com/forgegate/forgegate/internal/observability"
	"github.com/forgegate/forgegate/internal/pipeline"
	"github.com/forgegate/forgegate/internal/store"
)

// requestTimeout is the relaxed request/header timeout §4.10 mandates
// for long-running agentic turns, in contrast to the teacher's 5-second
// ReadHeaderTimeout tuned for short request/response RPCs.
const requestTimeout = 10 * time.Minute

// Config bounds the Server's network surface and auth gate.
type Config struct {
	Host             string
	Port             int
	BearerSecret     string
	AllowedInstances []string
	VolumeRoot       string
}

// Deps are the collaborators a Server dispatches requests to. All fields
// are required except Memory/FileRecall/FileRecallUpload, which may be
// nil to run with those subsystems disabled.
type Deps struct {
	Pipeline        *pipeline.Pipeline
	Loop            *agent.Loop
	ToolRegistry    *agent.ToolRegistry
	Store           *store.Store
	Memory          *memory.Store
	FileRecall      *filerecall.InstanceStore
	FileRecallFiles *filerecall.UploadPipeline
	Logger          *observability.Logger
}

// Server is the long-lived HTTP/SSE gateway process.
type Server struct {
	cfg    Config
	deps   Deps
	http   *http.Server
	listen net.Listener

	startTime time.Time
}

// New builds a Server. Call Start to begin listening.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	}
	return &Server{cfg: cfg, deps: deps, startTime: time.Now()}
}

// Start builds the mux, binds the listener, and serves in a background
// goroutine. It returns once the listener is bound (or failed to bind).
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	chat := s.withAuth(http.HandlerFunc(s.handleChat))
	mux.Handle("/api/v1/chat", chat)
	mux.Handle("/process", s.withAuth(http.HandlerFunc(s.handleProcess)))

	// Admin file-recall routes: bearer-gated, same secret as chat.
	mux.Handle("/api/v1/file-recall/instances", s.withAuth(http.HandlerFunc(s.handleInstancesCollection)))
	mux.Handle("/api/v1/file-recall/instances/", s.withAuth(http.HandlerFunc(s.handleInstanceItem)))

	// Per-instance file-recall routes: gated by the instance's own
	// X-Access-Token rather than the gateway bearer secret (§6).
	mux.HandleFunc("/api/v1/file-recall/", s.handleFileRecallInstanceRoute)

	mux.HandleFunc("/", s.handleVolume)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: requestTimeout,
		ReadTimeout:       requestTimeout,
		WriteTimeout:      requestTimeout,
	}

	s.http = server
	s.listen = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.deps.Logger.Error(ctx, "gateway server error", "error", err)
		}
	}()

	s.deps.Logger.Info(ctx, "gateway listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests and closes the listener (§5: graceful
// SIGINT handling, exit 0 once drained).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		s.deps.Logger.Warn(ctx, "gateway shutdown error", "error", err)
		return err
	}
	return nil
}
