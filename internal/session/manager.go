package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rustyclaw/rustyclaw/internal/approval"
	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/events"
	"github.com/rustyclaw/rustyclaw/internal/llm"
	"github.com/rustyclaw/rustyclaw/internal/storage"
	"github.com/rustyclaw/rustyclaw/internal/tools"
	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

// transcriptWindow caps how many persisted messages feed the prompt.
const transcriptWindow = 50

// MainChannel marks the operator's own chat; its sessions count as the
// main session for sandboxing decisions.
const MainChannel = "main"

// Manager drives the conversation loop for every session.
type Manager struct {
	store     storage.Store
	provider  llm.Provider
	router    *llm.ModelRouter
	cache     *llm.ModelCache
	executor  *tools.Executor
	approvals *approval.Manager
	workspace *workspace.Workspace
	memory    *workspace.Memory
	bus       *events.Bus
	cfg       config.SessionsConfig
	llmCfg    config.LLMConfig
	logger    *slog.Logger
}

// Options wires a Manager.
type Options struct {
	Store     storage.Store
	Provider  llm.Provider
	Router    *llm.ModelRouter
	Cache     *llm.ModelCache
	Executor  *tools.Executor
	Approvals *approval.Manager
	Workspace *workspace.Workspace
	Memory    *workspace.Memory
	Bus       *events.Bus
	Sessions  config.SessionsConfig
	LLM       config.LLMConfig
	Logger    *slog.Logger
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sessions.StepBudget <= 0 {
		opts.Sessions.StepBudget = 8
	}
	return &Manager{
		store:     opts.Store,
		provider:  opts.Provider,
		router:    opts.Router,
		cache:     opts.Cache,
		executor:  opts.Executor,
		approvals: opts.Approvals,
		workspace: opts.Workspace,
		memory:    opts.Memory,
		bus:       opts.Bus,
		cfg:       opts.Sessions,
		llmCfg:    opts.LLM,
		logger:    opts.Logger.With("component", "session"),
	}
}

// Resolve finds the unique session for (user, channel) under the
// configured scope, creating one if absent. The session's updated_at is
// touched so the same session wins the next lookup.
func (m *Manager) Resolve(ctx context.Context, userID, channel string) (*storage.Session, error) {
	sess, err := m.store.FindSession(ctx, userID, channel, m.cfg.Scope)
	if err == nil {
		sess.UpdatedAt = time.Now().UTC()
		if err := m.store.UpdateSession(ctx, sess); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		return sess, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("find session: %w", err)
	}

	now := time.Now().UTC()
	sess = &storage.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		Scope:     m.cfg.Scope,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{Type: events.SessionCreated, Name: sess.ID})
	}
	m.logger.Info("created session", "session", sess.ID, "user", userID, "channel", channel)
	return sess, nil
}

// Process runs one user turn: append, prompt, route, then the tool/LLM
// loop until the reply carries no tool calls or the step budget runs
// out. A non-nil sink receives StreamEvents in emission order; sends
// honour ctx so a disconnected consumer aborts the turn.
func (m *Manager) Process(ctx context.Context, sessionID, userText string, sink chan<- StreamEvent) (*Reply, error) {
	start := time.Now()

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	isMain := sess.Channel == MainChannel || m.cfg.Scope == "main"

	if err := m.append(ctx, sessionID, "user", userText, "", 0); err != nil {
		return nil, err
	}

	systemPrompt := NewPromptBuilder(m.workspace, m.memory, m.executor.Definitions()).Build()
	model := m.router.Route(userText)
	if m.cache != nil {
		m.cache.MarkUsed(model)
	}

	conversation, err := m.loadTranscript(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var finalText string
	var usage llm.Usage
	for step := 0; step < m.cfg.StepBudget; step++ {
		resp, err := m.complete(ctx, &llm.Request{
			Model:    model,
			System:   systemPrompt,
			Messages: conversation,
			Tools:    m.executor.Definitions(),
		}, sink)
		if err != nil {
			m.emit(ctx, sink, StreamEvent{Type: EventError, Err: "model request failed"})
			return nil, fmt.Errorf("llm call: %w", err)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			finalText = resp.Text
			break
		}

		conversation = append(conversation, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			if !m.emit(ctx, sink, StreamEvent{Type: EventToolStart, ToolName: call.Name}) {
				return nil, ctx.Err()
			}
			result := m.executor.Execute(ctx, tools.Call{
				Name:          call.Name,
				Arguments:     call.Arguments,
				SessionID:     sessionID,
				IsMainSession: isMain,
			})
			if err := m.append(ctx, sessionID, "tool", result.Text(), "", 0); err != nil {
				return nil, err
			}
			conversation = append(conversation, llm.Message{
				Role:       llm.RoleTool,
				Content:    result.Text(),
				ToolCallID: call.ID,
			})
			if !m.emit(ctx, sink, StreamEvent{Type: EventToolEnd, ToolName: call.Name, Result: result.Text()}) {
				return nil, ctx.Err()
			}
		}
		// Re-enter the model with the extended transcript; the last
		// budgeted step's text stands even if tools were requested.
		finalText = resp.Text
	}

	messageID := uuid.NewString()
	if err := m.appendWithID(ctx, messageID, sessionID, "assistant", finalText, model, usage.TotalTokens()); err != nil {
		return nil, err
	}
	m.emit(ctx, sink, StreamEvent{Type: EventDone, Model: model, Usage: &usage})

	return &Reply{
		MessageID: messageID,
		SessionID: sessionID,
		Content:   finalText,
		Model:     model,
		Usage:     usage,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// complete performs one model round, streaming deltas to sink when
// present.
func (m *Manager) complete(ctx context.Context, req *llm.Request, sink chan<- StreamEvent) (*llm.Response, error) {
	callCtx := ctx
	if m.llmCfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.llmCfg.RequestTimeout)
		defer cancel()
	}

	if sink == nil {
		return m.provider.Complete(callCtx, req)
	}

	chunks, err := m.provider.Stream(callCtx, req)
	if err != nil {
		return nil, err
	}
	resp := &llm.Response{Model: req.Model}
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			return nil, chunk.Err
		case chunk.Text != "":
			resp.Text += chunk.Text
			if !m.emit(ctx, sink, StreamEvent{Type: EventDelta, Text: chunk.Text}) {
				return nil, ctx.Err()
			}
		case chunk.ToolCall != nil:
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		case chunk.Done:
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}
	return resp, nil
}

// Clear drops all messages for a session and discards its approvals.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSessionMessages(ctx, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if m.approvals != nil {
		m.approvals.ClearSession(sessionID)
	}
	m.logger.Info("cleared session", "session", sessionID)
	return nil
}

// loadTranscript converts the persisted window into model messages.
// Persisted tool results replay as user-context lines since their call
// ids do not survive storage.
func (m *Manager) loadTranscript(ctx context.Context, sessionID string) ([]llm.Message, error) {
	msgs, err := m.store.GetMessages(ctx, sessionID, transcriptWindow)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	// Cap by a character budget derived from max_tokens.
	budget := m.cfg.MaxTokens * 4
	total := 0
	firstKept := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		total += len(msgs[i].Content)
		if total > budget {
			firstKept = i + 1
			break
		}
	}

	var out []llm.Message
	for _, msg := range msgs[firstKept:] {
		switch msg.Role {
		case "assistant":
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: msg.Content})
		case "tool":
			out = append(out, llm.Message{Role: llm.RoleUser, Content: "Tool result:\n" + msg.Content})
		case "system":
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: msg.Content})
		default:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: msg.Content})
		}
	}
	return out, nil
}

func (m *Manager) append(ctx context.Context, sessionID, role, content, model string, tokens int) error {
	return m.appendWithID(ctx, uuid.NewString(), sessionID, role, content, model, tokens)
}

func (m *Manager) appendWithID(ctx context.Context, id, sessionID, role, content, model string, tokens int) error {
	err := m.store.AddMessage(ctx, &storage.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Model:     model,
		Tokens:    tokens,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("append %s message: %w", role, err)
	}
	return nil
}

// emit sends an event to the sink, honouring ctx. Returns false when
// the consumer is gone and the turn should abort.
func (m *Manager) emit(ctx context.Context, sink chan<- StreamEvent, event StreamEvent) bool {
	if sink == nil {
		return true
	}
	select {
	case sink <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
