// Package sandbox caches execution containers per scope and decides,
// per call, whether a command runs on the host or inside a container.
//
// The container backend itself (Docker or compatible) sits behind the
// Backend interface; this package owns the cache, the security mode
// matrix and idle/age pruning.
package sandbox

import (
	"fmt"
	"strings"
)

// Mode controls when sandboxing applies.
type Mode string

const (
	// ModeOff never sandboxes; everything runs on the host.
	ModeOff Mode = "off"
	// ModeNonMain sandboxes every session except the main one.
	ModeNonMain Mode = "non_main"
	// ModeAll sandboxes every session.
	ModeAll Mode = "all"
)

// ParseMode parses a sandbox mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff:
		return ModeOff, nil
	case ModeNonMain:
		return ModeNonMain, nil
	case ModeAll:
		return ModeAll, nil
	default:
		return "", fmt.Errorf("invalid sandbox mode: %s", s)
	}
}

// Scope selects how containers are shared.
type Scope string

const (
	// ScopeSession keys one container per session.
	ScopeSession Scope = "session"
	// ScopeAgent keys one container per agent.
	ScopeAgent Scope = "agent"
	// ScopeShared keys a single shared container.
	ScopeShared Scope = "shared"
)

// ParseScope parses a container scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeSession:
		return ScopeSession, nil
	case ScopeAgent:
		return ScopeAgent, nil
	case ScopeShared:
		return ScopeShared, nil
	default:
		return "", fmt.Errorf("invalid sandbox scope: %s", s)
	}
}

// WorkspaceMode controls what the container sees of the agent workspace.
type WorkspaceMode string

const (
	// WorkspaceNone mounts an isolated per-scope directory at /workspace.
	WorkspaceNone WorkspaceMode = "none"
	// WorkspaceRO mounts the agent workspace read-only at /agent.
	WorkspaceRO WorkspaceMode = "ro"
	// WorkspaceRW mounts the agent workspace read-write at /workspace.
	WorkspaceRW WorkspaceMode = "rw"
)

// ParseWorkspaceMode parses a workspace mode string.
func ParseWorkspaceMode(s string) (WorkspaceMode, error) {
	switch WorkspaceMode(strings.ToLower(strings.TrimSpace(s))) {
	case WorkspaceNone:
		return WorkspaceNone, nil
	case WorkspaceRO:
		return WorkspaceRO, nil
	case WorkspaceRW:
		return WorkspaceRW, nil
	default:
		return "", fmt.Errorf("invalid workspace mode: %s", s)
	}
}

// SecurityPolicy is the sandboxing decision matrix.
type SecurityPolicy struct {
	Mode Mode
}

// ShouldSandbox reports whether a session's commands go to a container.
func (p SecurityPolicy) ShouldSandbox(isMainSession bool) bool {
	switch p.Mode {
	case ModeOff:
		return false
	case ModeNonMain:
		return !isMainSession
	case ModeAll:
		return true
	default:
		return false
	}
}

// Describe returns a human-readable summary of the mode.
func (p SecurityPolicy) Describe() string {
	switch p.Mode {
	case ModeOff:
		return "Sandboxing disabled - all code runs on host"
	case ModeNonMain:
		return "Non-main sessions run in sandbox, main session runs on host"
	case ModeAll:
		return "All sessions run in sandbox"
	default:
		return "Unknown sandbox mode"
	}
}
