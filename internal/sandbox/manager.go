// Package sandbox manages the per-conversation Docker containers that back
// the sandbox_* tools: one container per conversation id, created on first
// use, reaped after a period of inactivity, and always torn down on process
// shutdown.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/forgegate/forgegate/internal/observability"
)

const (
	memoryLimitBytes = 1 << 30 // 1 GiB
	nanoCPUs         = 2_000_000_000
	pidsLimitValue   = 100
	idleReapAfter    = 5 * time.Minute
	execKillAfter    = 5 * time.Minute
	networkName      = "forgegate-sandbox"
	sandboxImage     = "forgegate/sandbox-runtime:latest"
)

var invalidNameChar = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// sanitize converts an arbitrary id into a Docker-safe name component.
func sanitize(id string) string {
	s := invalidNameChar.ReplaceAllString(id, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// VolumePath computes the host-side volume directory for a conversation's
// sandbox, without requiring a container to exist yet. Non-exec tools that
// only need to read/write the volume (deep_research, image_generation) use
// this directly instead of going through GetOrCreate.
func VolumePath(dataRoot, userID, convID string) string {
	return fmt.Sprintf("%s/%s/%s/volume", dataRoot, sanitize(userID), sanitize(convID))
}

// ExitClass classifies how a sandbox command terminated.
type ExitClass int

const (
	ExitNormal ExitClass = iota
	ExitNonZero
	ExitOOM
	ExitTimeout
)

// ExecResult is the outcome of one Manager.Exec call.
type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	OOMKiled bool
	TimedOut bool
	Class    ExitClass
}

// Handle identifies a tracked, live container for one conversation.
type Handle struct {
	ConversationID string
	ContainerID    string
	VolumePath     string
}

type entry struct {
	handle   Handle
	timer    *time.Timer
	creating chan struct{} // closed once creation completes; nil once steady-state
}

// Manager owns the lifecycle of all sandbox containers for this process.
type Manager struct {
	client   *dockerclient.Client
	dataRoot string
	log      *observability.Logger

	mu      sync.Mutex
	entries map[string]*entry // keyed by conversation id
}

// Config configures a Manager.
type Config struct {
	DataRoot   string
	DockerHost string // empty uses the default from the environment
}

// New creates a Manager and verifies the Docker daemon is reachable.
func New(ctx context.Context, cfg Config, log *observability.Logger) (*Manager, error) {
	opts := []dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(cfg.DockerHost))
	} else {
		opts = append(opts, dockerclient.FromEnv)
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("sandbox: create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("sandbox: ping docker daemon: %w", err)
	}
	if err := ensureNetwork(ctx, cli); err != nil {
		cli.Close()
		return nil, err
	}
	return &Manager{
		client:   cli,
		dataRoot: cfg.DataRoot,
		log:      log,
		entries:  make(map[string]*entry),
	}, nil
}

func ensureNetwork(ctx context.Context, cli *dockerclient.Client) error {
	nets, err := cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("sandbox: list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == networkName {
			return nil
		}
	}
	_, err = cli.NetworkCreate(ctx, networkName, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("sandbox: create network: %w", err)
	}
	return nil
}

// GetOrCreate implements the acquisition state machine from the container
// manager's specification: reuse a live tracked container, drop and
// recreate a dead one, and forcibly remove any orphan with the same
// deterministic name before creating fresh.
func (m *Manager) GetOrCreate(ctx context.Context, convID, userID string) (*Handle, error) {
	m.mu.Lock()
	if e, ok := m.entries[convID]; ok {
		m.mu.Unlock()
		if m.isRunning(ctx, e.handle.ContainerID) {
			m.refreshIdle(e)
			h := e.handle
			return &h, nil
		}
		m.mu.Lock()
		delete(m.entries, convID)
	}
	m.mu.Unlock()

	name := fmt.Sprintf("sandbox-%s", sanitize(convID))
	if err := m.removeOrphan(ctx, name); err != nil {
		m.log.Warn(ctx, "sandbox: failed removing orphan container", "name", name, "error", err)
	}

	volumePath := VolumePath(m.dataRoot, userID, convID)
	containerID, err := m.create(ctx, name, volumePath)
	if err != nil {
		return nil, err
	}

	h := Handle{ConversationID: convID, ContainerID: containerID, VolumePath: volumePath}
	e := &entry{handle: h}
	m.mu.Lock()
	m.entries[convID] = e
	m.mu.Unlock()
	m.refreshIdle(e)

	return &h, nil
}

func (m *Manager) removeOrphan(ctx context.Context, name string) error {
	inspect, err := m.client.ContainerInspect(ctx, name)
	if err != nil {
		return nil // not found is the expected common case
	}
	return m.client.ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true})
}

func (m *Manager) create(ctx context.Context, name, volumePath string) (string, error) {
	containerCfg := &container.Config{
		Image:      sandboxImage,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/workspace",
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    container.NetworkMode(networkName),
		NanoCPUs:       nanoCPUs,
		Memory:         memoryLimitBytes,
		MemorySwap:     memoryLimitBytes, // equal to Memory disables swap
		PidsLimit:      int64Ptr(pidsLimitValue),
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp":     "rw,size=512m,mode=1777",
			"/var/tmp": "rw,size=256m,mode=1777",
		},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: volumePath, Target: "/workspace"},
		},
	}

	resp, err := m.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("sandbox: create container: %w", err)
	}
	if err := m.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("sandbox: start container: %w", err)
	}
	return resp.ID, nil
}

func (m *Manager) isRunning(ctx context.Context, containerID string) bool {
	inspect, err := m.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

func (m *Manager) refreshIdle(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	convID := e.handle.ConversationID
	e.timer = time.AfterFunc(idleReapAfter, func() {
		m.reap(context.Background(), convID)
	})
}

func (m *Manager) reap(ctx context.Context, convID string) {
	m.mu.Lock()
	e, ok := m.entries[convID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.entries, convID)
	m.mu.Unlock()

	if err := m.client.ContainerRemove(ctx, e.handle.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		m.log.Warn(ctx, "sandbox: idle reap failed", "conversation_id", convID, "error", err)
	}
}

// Exec runs a command in the conversation's container, wrapping it with a
// kill-after-5-minutes guard, and classifies the exit per the spec's
// {normal, non-zero, OOM, timeout} taxonomy.
func (m *Manager) Exec(ctx context.Context, h *Handle, cmd []string, workdir string, onStdout, onStderr func([]byte)) (*ExecResult, error) {
	if workdir == "" {
		workdir = "/workspace"
	}

	m.mu.Lock()
	if e, ok := m.entries[h.ConversationID]; ok {
		m.refreshIdle(e)
	}
	m.mu.Unlock()

	wrapped := append([]string{"timeout", "-k", "5", fmt.Sprintf("%ds", int(execKillAfter.Seconds()))}, cmd...)

	execCfg := container.ExecOptions{
		Cmd:          wrapped,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	}
	execID, err := m.client.ContainerExecCreate(ctx, h.ContainerID, execCfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox: exec create: %w", err)
	}

	attach, err := m.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("sandbox: exec attach: %w", err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf chunkWriter
	stdoutBuf.onChunk = onStdout
	stderrBuf.onChunk = onStderr

	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attach.Reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("sandbox: stream exec output: %w", err)
	}

	inspect, err := m.client.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return nil, fmt.Errorf("sandbox: exec inspect: %w", err)
	}

	result := &ExecResult{
		Stdout:   stdoutBuf.buf,
		Stderr:   stderrBuf.buf,
		ExitCode: inspect.ExitCode,
	}
	result.Class, result.OOMKiled, result.TimedOut = classifyExit(ctx, m.client, h.ContainerID, inspect.ExitCode)
	return result, nil
}

func classifyExit(ctx context.Context, cli *dockerclient.Client, containerID string, exitCode int) (ExitClass, bool, bool) {
	if exitCode == 0 {
		return ExitNormal, false, false
	}
	if inspect, err := cli.ContainerInspect(ctx, containerID); err == nil && inspect.State != nil && inspect.State.OOMKilled {
		return ExitOOM, true, false
	}
	if exitCode == 137 {
		return ExitTimeout, false, true
	}
	return ExitNonZero, false, false
}

// Shutdown stops and removes every tracked container within the grace
// period, used during process shutdown.
func (m *Manager) Shutdown(ctx context.Context, grace time.Duration) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		ids = append(ids, e.handle.ContainerID)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = m.client.ContainerRemove(shutdownCtx, id, container.RemoveOptions{Force: true})
		}(id)
	}
	wg.Wait()
}

func int64Ptr(v int64) *int64 { return &v }

type chunkWriter struct {
	buf     []byte
	onChunk func([]byte)
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if w.onChunk != nil {
		cp := make([]byte, len(p))
		copy(cp, p)
		w.onChunk(cp)
	}
	return len(p), nil
}
