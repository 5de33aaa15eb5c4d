// Package approval correlates interactive tool-approval requests with
// asynchronous responses arriving out-of-band (typically over a
// WebSocket control connection).
//
// The executor suspends on Wait while the approver submits a decision.
// Each request resolves at most once: the first Submit wins and later
// submissions for the same request id are silently ignored.
package approval

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Pending describes an approval request awaiting a decision.
type Pending struct {
	RequestID        string    `json:"request_id"`
	SessionID        string    `json:"session_id"`
	ToolName         string    `json:"tool_name"`
	Arguments        string    `json:"arguments"`
	Policy           string    `json:"policy"`
	SandboxAvailable bool      `json:"sandbox_available"`
	CreatedAt        time.Time `json:"created_at"`
}

// Response is the approver's decision.
type Response struct {
	Approved           bool      `json:"approved"`
	UseSandbox         bool      `json:"use_sandbox"`
	RememberForSession bool      `json:"remember_for_session"`
	CreatedAt          time.Time `json:"created_at"`
}

type pendingEntry struct {
	request Pending
	done    chan struct{} // closed exactly once when a response lands
}

// Manager tracks pending approvals per session and resolved responses
// by request id.
type Manager struct {
	mu sync.RWMutex
	// bySession maps session_id → request_id → entry.
	bySession map[string]map[string]*pendingEntry
	// byRequest indexes the same entries by request_id.
	byRequest map[string]*pendingEntry
	// responses holds resolved decisions; first writer wins.
	responses map[string]*Response
	logger    *slog.Logger
}

// NewManager creates an empty approval manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bySession: make(map[string]map[string]*pendingEntry),
		byRequest: make(map[string]*pendingEntry),
		responses: make(map[string]*Response),
		logger:    logger.With("component", "approval"),
	}
}

// Create registers a pending approval and returns its fresh request id.
func (m *Manager) Create(sessionID, toolName, arguments, policy string, sandboxAvailable bool) string {
	requestID := uuid.NewString()
	entry := &pendingEntry{
		request: Pending{
			RequestID:        requestID,
			SessionID:        sessionID,
			ToolName:         toolName,
			Arguments:        arguments,
			Policy:           policy,
			SandboxAvailable: sandboxAvailable,
			CreatedAt:        time.Now().UTC(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	session, ok := m.bySession[sessionID]
	if !ok {
		session = make(map[string]*pendingEntry)
		m.bySession[sessionID] = session
	}
	session[requestID] = entry
	m.byRequest[requestID] = entry
	m.mu.Unlock()

	m.logger.Debug("approval requested", "request_id", requestID, "tool", toolName, "session", sessionID)
	return requestID
}

// Wait blocks until the request resolves, the timeout expires or the
// context is cancelled. A nil result means no decision arrived in time
// and callers treat it as a denial. No lock is held across the wait.
func (m *Manager) Wait(ctx context.Context, requestID string, timeout time.Duration) *Response {
	m.mu.RLock()
	resp := m.responses[requestID]
	entry, pending := m.byRequest[requestID]
	m.mu.RUnlock()

	if resp != nil {
		return resp
	}
	if !pending {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
		m.mu.RLock()
		resp := m.responses[requestID]
		m.mu.RUnlock()
		return resp
	case <-timer.C:
		m.logger.Warn("approval request timed out", "request_id", requestID, "timeout", timeout)
		m.remove(requestID)
		return nil
	case <-ctx.Done():
		m.remove(requestID)
		return nil
	}
}

// Submit records the approver's decision. The first submission resolves
// the request; later ones are silently ignored.
func (m *Manager) Submit(requestID string, approved, useSandbox, rememberForSession bool) {
	m.mu.Lock()
	if _, resolved := m.responses[requestID]; resolved {
		m.mu.Unlock()
		return
	}
	m.responses[requestID] = &Response{
		Approved:           approved,
		UseSandbox:         useSandbox,
		RememberForSession: rememberForSession,
		CreatedAt:          time.Now().UTC(),
	}
	if entry, ok := m.byRequest[requestID]; ok {
		close(entry.done)
		m.removeLocked(requestID)
	}
	m.mu.Unlock()

	m.logger.Debug("approval response stored", "request_id", requestID, "approved", approved)
}

// Get returns the pending request, if still open.
func (m *Manager) Get(requestID string) (Pending, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.byRequest[requestID]
	if !ok {
		return Pending{}, false
	}
	return entry.request, true
}

// ListSession returns all open requests for a session.
func (m *Manager) ListSession(sessionID string) []Pending {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Pending
	for _, entry := range m.bySession[sessionID] {
		out = append(out, entry.request)
	}
	return out
}

// ClearSession drops every pending request for a session. Waiters on
// cleared requests observe a timeout.
func (m *Manager) ClearSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for requestID := range m.bySession[sessionID] {
		delete(m.byRequest, requestID)
	}
	delete(m.bySession, sessionID)
	m.logger.Debug("cleared session approvals", "session", sessionID)
}

// ClearResponses drops all stored responses.
func (m *Manager) ClearResponses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[string]*Response)
}

// PendingCount reports the number of open requests across all sessions.
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byRequest)
}

func (m *Manager) remove(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(requestID)
}

func (m *Manager) removeLocked(requestID string) {
	entry, ok := m.byRequest[requestID]
	if !ok {
		return
	}
	delete(m.byRequest, requestID)
	if session, ok := m.bySession[entry.request.SessionID]; ok {
		delete(session, requestID)
		if len(session) == 0 {
			delete(m.bySession, entry.request.SessionID)
		}
	}
}
