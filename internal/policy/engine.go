// Package policy enforces tool access control.
//
// Every tool name maps to an access level. Unknown tools are denied.
// Sessions can enter elevated mode, which lets elevated-level tools run
// without interactive approval.
package policy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// AccessLevel is a tool's access control level.
type AccessLevel string

const (
	// Allow means the tool always runs.
	Allow AccessLevel = "allow"
	// Deny means the tool never runs.
	Deny AccessLevel = "deny"
	// Elevated means the tool runs only in elevated mode, otherwise it
	// requires interactive approval.
	Elevated AccessLevel = "elevated"
)

// ParseAccessLevel parses a level string, case-insensitively.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	case "elevated":
		return Elevated, nil
	default:
		return "", fmt.Errorf("invalid access level: %s", s)
	}
}

// Decision is the outcome of an access check.
type Decision struct {
	Kind DecisionKind

	// Reason explains a denial.
	Reason string

	// SandboxAvailable tells the approval UI whether a sandbox run can
	// be offered for this call.
	SandboxAvailable bool
}

// DecisionKind enumerates access check outcomes.
type DecisionKind int

const (
	// Allowed means execute immediately.
	Allowed DecisionKind = iota
	// Denied means the tool is blocked by policy.
	Denied
	// RequiresApproval means the call needs an out-of-band approval.
	RequiresApproval
)

// Engine maps tool names to access levels and tracks per-session
// elevated mode.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]AccessLevel
	elevated map[string]struct{}
	logger   *slog.Logger
}

// NewEngine creates an engine seeded with the default policies.
func NewEngine(logger *slog.Logger) *Engine {
	return NewEngineWithPolicies(defaultPolicies(), logger)
}

// NewEngineWithPolicies creates an engine with an explicit policy table.
func NewEngineWithPolicies(policies map[string]AccessLevel, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	table := make(map[string]AccessLevel, len(policies))
	for name, level := range policies {
		table[name] = level
	}
	return &Engine{
		policies: table,
		elevated: make(map[string]struct{}),
		logger:   logger.With("component", "policy"),
	}
}

// defaultPolicies mirrors the shipped access table: code execution,
// web and filesystem tools are elevated; messaging tools are allowed.
func defaultPolicies() map[string]AccessLevel {
	return map[string]AccessLevel{
		"exec":   Elevated,
		"bash":   Elevated,
		"python": Elevated,

		"send_message":  Allow,
		"list_channels": Allow,

		"web_fetch":  Elevated,
		"web_search": Elevated,

		"read_file":     Elevated,
		"write_file":    Elevated,
		"list_files":    Elevated,
		"memory_append": Allow,
		"memory_search": Allow,
	}
}

// Decide returns the access decision for a tool call from a session.
func (e *Engine) Decide(sessionID, toolName string, sandboxAvailable bool) Decision {
	e.mu.RLock()
	level, known := e.policies[toolName]
	_, elevated := e.elevated[sessionID]
	e.mu.RUnlock()

	if !known {
		level = Deny
	}

	switch level {
	case Allow:
		return Decision{Kind: Allowed}
	case Deny:
		return Decision{
			Kind:   Denied,
			Reason: fmt.Sprintf("Tool '%s' is denied by policy. Use '/elevated on' to request elevated access.", toolName),
		}
	default: // Elevated
		if elevated {
			e.logger.Debug("tool allowed via elevated mode", "tool", toolName, "session", sessionID)
			return Decision{Kind: Allowed}
		}
		return Decision{Kind: RequiresApproval, SandboxAvailable: sandboxAvailable}
	}
}

// SetPolicy sets or replaces the access level for a tool at runtime.
func (e *Engine) SetPolicy(toolName string, level AccessLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[toolName] = level
}

// RemovePolicy drops a tool from the table; subsequent calls are denied.
func (e *Engine) RemovePolicy(toolName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.policies, toolName)
}

// Level returns the access level for a tool; unknown tools report Deny.
func (e *Engine) Level(toolName string) AccessLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if level, ok := e.policies[toolName]; ok {
		return level
	}
	return Deny
}

// SetElevated enables or disables elevated mode for a session.
func (e *Engine) SetElevated(sessionID string, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enabled {
		e.elevated[sessionID] = struct{}{}
	} else {
		delete(e.elevated, sessionID)
	}
	e.logger.Debug("elevated mode changed", "session", sessionID, "enabled", enabled)
}

// IsElevated reports whether a session is in elevated mode.
func (e *Engine) IsElevated(sessionID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.elevated[sessionID]
	return ok
}

// Policies returns a snapshot of the policy table.
func (e *Engine) Policies() map[string]AccessLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make(map[string]AccessLevel, len(e.policies))
	for name, level := range e.policies {
		snapshot[name] = level
	}
	return snapshot
}

// Describe renders the policy table for display.
func (e *Engine) Describe() string {
	policies := e.Policies()
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{"Tool Policies:"}
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("  %s: %s", name, policies[name]))
	}
	return strings.Join(lines, "\n")
}
