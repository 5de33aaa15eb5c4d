// Package session owns conversation state: it resolves sessions,
// assembles prompts and drives the tool/LLM loop.
package session

import (
	"github.com/rustyclaw/rustyclaw/internal/llm"
)

// EventType tags a StreamEvent.
type EventType string

const (
	// EventDelta carries incremental assistant text.
	EventDelta EventType = "delta"
	// EventToolStart announces a tool invocation.
	EventToolStart EventType = "tool_start"
	// EventToolEnd carries a tool's result.
	EventToolEnd EventType = "tool_end"
	// EventDone closes a process call.
	EventDone EventType = "done"
	// EventError reports a failure; no further events follow.
	EventError EventType = "error"
)

// StreamEvent is one entry on a process call's stream.
type StreamEvent struct {
	Type EventType `json:"type"`

	// Text is set for delta events.
	Text string `json:"text,omitempty"`

	// ToolName is set for tool_start and tool_end.
	ToolName string `json:"tool_name,omitempty"`

	// Result is set for tool_end.
	Result string `json:"result,omitempty"`

	// Model and Usage are set for done.
	Model string     `json:"model,omitempty"`
	Usage *llm.Usage `json:"usage,omitempty"`

	// Err is set for error events.
	Err string `json:"error,omitempty"`
}

// Reply is the outcome of one process call.
type Reply struct {
	MessageID string    `json:"message_id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	Usage     llm.Usage `json:"usage"`
	LatencyMs int64     `json:"latency_ms"`
}
