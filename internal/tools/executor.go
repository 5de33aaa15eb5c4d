package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rustyclaw/rustyclaw/internal/approval"
	"github.com/rustyclaw/rustyclaw/internal/policy"
	"github.com/rustyclaw/rustyclaw/internal/sandbox"
	"github.com/rustyclaw/rustyclaw/internal/skills"
	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

// DefaultApprovalTimeout bounds the interactive approval wait.
const DefaultApprovalTimeout = 120 * time.Second

// defaultAttemptTimeout bounds a single built-in tool attempt.
const defaultAttemptTimeout = 30 * time.Second

// Call is one tool invocation from the session loop.
type Call struct {
	Name          string
	Arguments     string // raw JSON
	SessionID     string
	IsMainSession bool
}

// Messenger sends outbound messages through a channel adapter.
type Messenger interface {
	Send(ctx context.Context, channel, recipient, text string) error
	Channels() []string
}

// ApprovalNotifier delivers an approval request to the out-of-band
// approver. Delivery is fire-and-forget: failures do not cancel the
// pending entry, the wait simply expires.
type ApprovalNotifier func(pending approval.Pending)

// Executor dispatches tool calls under policy, approval, retry and
// sandbox control.
type Executor struct {
	policies  *policy.Engine
	approvals *approval.Manager
	sandboxes *sandbox.Manager
	registry  *skills.Registry
	memory    *workspace.Memory
	messenger Messenger

	retry           RetryPolicy
	approvalTimeout time.Duration
	notifier        ApprovalNotifier
	logger          *slog.Logger
}

// Options configures an Executor. Nil collaborators disable the
// corresponding tools.
type Options struct {
	Policies        *policy.Engine
	Approvals       *approval.Manager
	Sandboxes       *sandbox.Manager
	Registry        *skills.Registry
	Memory          *workspace.Memory
	Messenger       Messenger
	Retry           RetryPolicy
	ApprovalTimeout time.Duration
	Notifier        ApprovalNotifier
	Logger          *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(opts Options) *Executor {
	if opts.Retry.MaxRetries <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.ApprovalTimeout <= 0 {
		opts.ApprovalTimeout = DefaultApprovalTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		policies:        opts.Policies,
		approvals:       opts.Approvals,
		sandboxes:       opts.Sandboxes,
		registry:        opts.Registry,
		memory:          opts.Memory,
		messenger:       opts.Messenger,
		retry:           opts.Retry,
		approvalTimeout: opts.ApprovalTimeout,
		notifier:        opts.Notifier,
		logger:          opts.Logger.With("component", "executor"),
	}
}

// Execute runs one tool call to completion: policy check, optional
// interactive approval, then the retry loop around the dispatch target.
func (e *Executor) Execute(ctx context.Context, call Call) ExecutionResult {
	start := time.Now()
	sandboxAvailable := e.sandboxes != nil && e.sandboxes.Available()

	forceSandbox := false
	decision := e.policies.Decide(call.SessionID, call.Name, sandboxAvailable)
	switch decision.Kind {
	case policy.Denied:
		return errorResult(decision.Reason, start, 1, e.retry.MaxRetries)
	case policy.RequiresApproval:
		resp := e.requestApproval(ctx, call, decision)
		if resp == nil || !resp.Approved {
			return errorResult(fmt.Sprintf("Tool '%s' denied: approval not granted", call.Name), start, 1, e.retry.MaxRetries)
		}
		if resp.RememberForSession {
			e.policies.SetElevated(call.SessionID, true)
		}
		forceSandbox = resp.UseSandbox
	}

	target, err := e.resolve(call.Name)
	if err != nil {
		return errorResult(err.Error(), start, 1, e.retry.MaxRetries)
	}

	// Retry loop with exponential backoff.
	var lastErr error
	for attempt := 1; attempt <= e.retry.MaxRetries; attempt++ {
		output, err := target(ctx, call, forceSandbox)
		if err == nil {
			return ExecutionResult{
				Status:          StatusDone,
				Output:          output,
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				Attempt:         attempt,
				MaxAttempts:     e.retry.MaxRetries,
			}
		}
		lastErr = err
		e.logger.Debug("tool attempt failed", "tool", call.Name, "attempt", attempt, "error", err)

		if !e.retry.ShouldRetry(attempt) {
			return errorResult(lastErr.Error(), start, attempt, e.retry.MaxRetries)
		}
		select {
		case <-time.After(e.retry.Backoff(attempt)):
		case <-ctx.Done():
			return errorResult(ctx.Err().Error(), start, attempt, e.retry.MaxRetries)
		}
	}
	return errorResult(lastErr.Error(), start, e.retry.MaxRetries, e.retry.MaxRetries)
}

func (e *Executor) requestApproval(ctx context.Context, call Call, decision policy.Decision) *approval.Response {
	if e.approvals == nil {
		return nil
	}
	requestID := e.approvals.Create(call.SessionID, call.Name, call.Arguments,
		string(e.policies.Level(call.Name)), decision.SandboxAvailable)
	if e.notifier != nil {
		if pending, ok := e.approvals.Get(requestID); ok {
			e.notifier(pending)
		}
	}
	return e.approvals.Wait(ctx, requestID, e.approvalTimeout)
}

// target executes one attempt and returns the tool output.
type target func(ctx context.Context, call Call, forceSandbox bool) (string, error)

// resolve maps a tool name onto its dispatch target. Unknown names
// error before the retry loop starts.
func (e *Executor) resolve(name string) (target, error) {
	switch name {
	case "exec":
		return e.runExec, nil
	case "bash":
		return e.runBash, nil
	case "web_fetch":
		return e.runWebFetch, nil
	case "memory_append":
		return e.runMemoryAppend, nil
	case "memory_search":
		return e.runMemorySearch, nil
	case "send_message":
		return e.runSendMessage, nil
	case "list_channels":
		return e.runListChannels, nil
	}
	if e.registry != nil {
		if skill, ok := e.registry.Get(name); ok {
			return func(ctx context.Context, call Call, forceSandbox bool) (string, error) {
				return e.runSkill(ctx, skill, call, forceSandbox)
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown tool: %s", name)
}

func (e *Executor) runMemoryAppend(ctx context.Context, call Call, _ bool) (string, error) {
	if e.memory == nil {
		return "", fmt.Errorf("memory is not configured")
	}
	var params struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
		return "", fmt.Errorf("parse memory_append parameters: %w", err)
	}
	if params.Content == "" {
		return "", fmt.Errorf("memory_append requires content")
	}
	if err := e.memory.Append(params.Content); err != nil {
		return "", err
	}
	return "Memory saved.", nil
}

func (e *Executor) runMemorySearch(ctx context.Context, call Call, _ bool) (string, error) {
	if e.memory == nil {
		return "", fmt.Errorf("memory is not configured")
	}
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
		return "", fmt.Errorf("parse memory_search parameters: %w", err)
	}
	matches, err := e.memory.Search(params.Query)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No matching memories.", nil
	}
	out := ""
	for _, match := range matches {
		out += match + "\n"
	}
	return out, nil
}

func (e *Executor) runSendMessage(ctx context.Context, call Call, _ bool) (string, error) {
	if e.messenger == nil {
		return "", fmt.Errorf("no messaging channels are configured")
	}
	var params struct {
		Channel   string `json:"channel"`
		Recipient string `json:"recipient"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
		return "", fmt.Errorf("parse send_message parameters: %w", err)
	}
	if err := e.messenger.Send(ctx, params.Channel, params.Recipient, params.Text); err != nil {
		return "", err
	}
	return fmt.Sprintf("Message sent to %s via %s.", params.Recipient, params.Channel), nil
}

func (e *Executor) runListChannels(ctx context.Context, call Call, _ bool) (string, error) {
	if e.messenger == nil {
		return "No messaging channels are configured.", nil
	}
	channels := e.messenger.Channels()
	if len(channels) == 0 {
		return "No messaging channels are configured.", nil
	}
	out := "Channels:\n"
	for _, name := range channels {
		out += "  " + name + "\n"
	}
	return out, nil
}

func errorResult(message string, start time.Time, attempt, maxAttempts int) ExecutionResult {
	return ExecutionResult{
		Status:          StatusError,
		Error:           message,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
		Attempt:         attempt,
		MaxAttempts:     maxAttempts,
	}
}
