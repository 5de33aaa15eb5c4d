package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	containerNamePrefix = "rustyclaw-sandbox-"

	labelScope     = "rustyclaw.scope"
	labelScopeID   = "rustyclaw.scope_id"
	labelCreatedAt = "rustyclaw.created_at"
)

// ContainerMetadata tracks one cached sandbox container.
type ContainerMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scope     Scope     `json:"scope"`
	ScopeID   string    `json:"scope_id"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// Config carries the sandbox settings the manager needs.
type Config struct {
	Mode         Mode
	Scope        Scope
	Workspace    WorkspaceMode
	Image        string
	Network      bool
	SetupCommand string
	BaseDir      string // rustyclaw home; sandboxes/<scope_id> live here
	AgentDir     string // agent workspace for ro/rw mounts
	DefaultAgent string // scope_id used when Scope is agent
}

// Manager owns the container cache and the sandbox/host decision.
type Manager struct {
	backend Backend
	policy  SecurityPolicy
	config  Config
	logger  *slog.Logger

	mu         sync.RWMutex
	containers map[string]*ContainerMetadata
}

// NewManager creates a sandbox manager over the given backend. backend
// may be nil only when the mode is off.
func NewManager(backend Backend, config Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil && config.Mode != ModeOff {
		return nil, fmt.Errorf("sandbox mode %s requires a container backend", config.Mode)
	}
	if config.DefaultAgent == "" {
		config.DefaultAgent = "agent"
	}
	m := &Manager{
		backend:    backend,
		policy:     SecurityPolicy{Mode: config.Mode},
		config:     config,
		logger:     logger.With("component", "sandbox"),
		containers: make(map[string]*ContainerMetadata),
	}
	m.logger.Info("sandbox manager initialized",
		"mode", config.Mode, "scope", config.Scope, "workspace", config.Workspace)
	return m, nil
}

// Available reports whether sandboxed execution can be offered.
func (m *Manager) Available() bool {
	return m.backend != nil && m.policy.Mode != ModeOff
}

// ShouldSandbox exposes the mode matrix.
func (m *Manager) ShouldSandbox(isMainSession bool) bool {
	return m.backend != nil && m.policy.ShouldSandbox(isMainSession)
}

// Execute runs argv under the sandbox policy: on the host when the
// matrix says so, otherwise inside the scope's cached container.
func (m *Manager) Execute(ctx context.Context, sessionID string, isMainSession bool, argv []string) (ExecResult, error) {
	if !m.ShouldSandbox(isMainSession) {
		return RunOnHost(ctx, argv)
	}
	return m.ExecuteSandboxed(ctx, sessionID, argv)
}

// ExecuteSandboxed always routes through a container, regardless of the
// mode matrix. Used when an approver forces a sandbox run.
func (m *Manager) ExecuteSandboxed(ctx context.Context, sessionID string, argv []string) (ExecResult, error) {
	if m.backend == nil {
		return ExecResult{}, fmt.Errorf("no container backend configured")
	}
	containerID, err := m.getOrCreate(ctx, m.scopeID(sessionID))
	if err != nil {
		return ExecResult{}, err
	}
	return m.backend.Exec(ctx, containerID, argv)
}

// scopeID maps a session onto the container cache key.
func (m *Manager) scopeID(sessionID string) string {
	switch m.config.Scope {
	case ScopeShared:
		return "shared"
	case ScopeAgent:
		return m.config.DefaultAgent
	default:
		return sessionID
	}
}

// getOrCreate returns the scope's container id, creating the container
// if it is missing or has disappeared underneath the cache.
func (m *Manager) getOrCreate(ctx context.Context, scopeID string) (string, error) {
	m.mu.RLock()
	meta, cached := m.containers[scopeID]
	m.mu.RUnlock()

	if cached {
		exists, err := m.backend.ContainerExists(ctx, meta.ID)
		if err != nil {
			return "", fmt.Errorf("check container: %w", err)
		}
		if exists {
			m.touch(scopeID)
			return meta.ID, nil
		}
		m.logger.Debug("cached container disappeared, recreating", "scope_id", scopeID)
		m.mu.Lock()
		delete(m.containers, scopeID)
		m.mu.Unlock()
	}

	id, err := m.create(ctx, scopeID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	m.mu.Lock()
	m.containers[scopeID] = &ContainerMetadata{
		ID:        id,
		Name:      containerNamePrefix + scopeID,
		Scope:     m.config.Scope,
		ScopeID:   scopeID,
		Image:     m.config.Image,
		CreatedAt: now,
		LastUsed:  now,
	}
	m.mu.Unlock()
	return id, nil
}

func (m *Manager) create(ctx context.Context, scopeID string) (string, error) {
	binds, err := m.workspaceBinds(scopeID)
	if err != nil {
		return "", err
	}

	spec := ContainerSpec{
		Image:          m.config.Image,
		Binds:          binds,
		NetworkEnabled: m.config.Network,
		Labels: map[string]string{
			labelScope:     string(m.config.Scope),
			labelScopeID:   scopeID,
			labelCreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}

	name := containerNamePrefix + scopeID
	id, err := m.backend.CreateContainer(ctx, name, spec)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := m.backend.StartContainer(ctx, id); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	if cmd := strings.TrimSpace(m.config.SetupCommand); cmd != "" {
		m.logger.Info("running setup command in container", "container", name)
		result, err := m.backend.Exec(ctx, id, []string{"sh", "-c", cmd})
		if err != nil {
			return "", fmt.Errorf("run setup command: %w", err)
		}
		if result.ExitCode != 0 {
			return "", fmt.Errorf("setup command failed with exit code %d: %s", result.ExitCode, result.Stderr)
		}
	}

	m.logger.Info("created sandbox container", "name", name, "id", id)
	return id, nil
}

// workspaceBinds renders the mounts for the configured workspace mode.
func (m *Manager) workspaceBinds(scopeID string) ([]string, error) {
	switch m.config.Workspace {
	case WorkspaceNone:
		dir := filepath.Join(m.config.BaseDir, "sandboxes", scopeID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sandbox workspace: %w", err)
		}
		return []string{dir + ":/workspace"}, nil
	case WorkspaceRO:
		if err := os.MkdirAll(m.config.AgentDir, 0o755); err != nil {
			return nil, fmt.Errorf("create agent workspace: %w", err)
		}
		return []string{m.config.AgentDir + ":/agent:ro"}, nil
	case WorkspaceRW:
		if err := os.MkdirAll(m.config.AgentDir, 0o755); err != nil {
			return nil, fmt.Errorf("create agent workspace: %w", err)
		}
		return []string{m.config.AgentDir + ":/workspace:rw"}, nil
	default:
		return nil, fmt.Errorf("invalid workspace mode: %s", m.config.Workspace)
	}
}

func (m *Manager) touch(scopeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if meta, ok := m.containers[scopeID]; ok {
		meta.LastUsed = time.Now().UTC()
	}
}

// List returns a snapshot of all cached containers.
func (m *Manager) List() []ContainerMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ContainerMetadata, 0, len(m.containers))
	for _, meta := range m.containers {
		out = append(out, *meta)
	}
	return out
}

// Remove deletes a scope's container and drops it from the cache.
func (m *Manager) Remove(ctx context.Context, scopeID string) error {
	m.mu.RLock()
	meta, ok := m.containers[scopeID]
	m.mu.RUnlock()
	if ok {
		if err := m.backend.RemoveContainer(ctx, meta.ID); err != nil {
			return fmt.Errorf("remove container: %w", err)
		}
	}
	m.mu.Lock()
	delete(m.containers, scopeID)
	m.mu.Unlock()
	m.logger.Info("removed sandbox container", "scope_id", scopeID)
	return nil
}

// Recover repopulates the cache from labelled containers left over from
// a previous run. Metadata is best-effort.
func (m *Manager) Recover(ctx context.Context) error {
	if m.backend == nil {
		return nil
	}
	containers, err := m.backend.ListContainers(ctx, labelScopeID)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range containers {
		scopeID := info.Labels[labelScopeID]
		if scopeID == "" {
			scopeID = strings.TrimPrefix(info.Name, containerNamePrefix)
		}
		if scopeID == "" || scopeID == info.Name {
			continue
		}
		createdAt := time.Now().UTC()
		if raw := info.Labels[labelCreatedAt]; raw != "" {
			if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
				createdAt = parsed
			}
		}
		m.containers[scopeID] = &ContainerMetadata{
			ID:        info.ID,
			Name:      info.Name,
			Scope:     m.config.Scope,
			ScopeID:   scopeID,
			Image:     m.config.Image,
			CreatedAt: createdAt,
			LastUsed:  time.Now().UTC(),
		}
	}
	m.logger.Info("recovered sandbox containers", "count", len(m.containers))
	return nil
}

// Describe summarises the sandbox configuration for display.
func (m *Manager) Describe() string {
	return fmt.Sprintf("Sandbox Configuration:\nMode: %s\nPolicy: %s", m.policy.Mode, m.policy.Describe())
}
