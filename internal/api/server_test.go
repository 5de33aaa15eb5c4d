package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyclaw/rustyclaw/internal/approval"
	"github.com/rustyclaw/rustyclaw/internal/auth"
	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/events"
	"github.com/rustyclaw/rustyclaw/internal/llm"
	"github.com/rustyclaw/rustyclaw/internal/observability"
	"github.com/rustyclaw/rustyclaw/internal/pairing"
	"github.com/rustyclaw/rustyclaw/internal/policy"
	"github.com/rustyclaw/rustyclaw/internal/router"
	"github.com/rustyclaw/rustyclaw/internal/session"
	"github.com/rustyclaw/rustyclaw/internal/skills"
	"github.com/rustyclaw/rustyclaw/internal/storage"
	"github.com/rustyclaw/rustyclaw/internal/tools"
	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

// echoProvider replies with a fixed line; enough to drive the HTTP
// surface.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: "echo reply", Model: req.Model, Usage: llm.Usage{InputTokens: 3, OutputTokens: 2}}, nil
}

func (p echoProvider) Stream(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	chunks := make(chan llm.Chunk, 4)
	chunks <- llm.Chunk{Text: "echo "}
	chunks <- llm.Chunk{Text: "reply"}
	chunks <- llm.Chunk{Done: true, Usage: &llm.Usage{InputTokens: 3, OutputTokens: 2}}
	close(chunks)
	return chunks, nil
}

type testEnv struct {
	server  *Server
	ts      *httptest.Server
	store   storage.Store
	pairing *pairing.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	dir := t.TempDir()
	ws := workspace.New(filepath.Join(dir, "workspace"))
	if err := ws.InitDefault(); err != nil {
		t.Fatalf("InitDefault: %v", err)
	}

	policies := policy.NewEngine(nil)
	approvals := approval.NewManager(nil)
	bus := events.NewBus()
	registry := skills.NewRegistry(policies, bus, nil)

	executor := tools.NewExecutor(tools.Options{
		Policies:  policies,
		Approvals: approvals,
		Registry:  registry,
		Memory:    workspace.NewMemory(filepath.Join(dir, "workspace")),
		Retry:     tools.RetryPolicy{MaxRetries: 2, InitialBackoffMs: 1, MaxBackoffMs: 2},
	})

	llmCfg := config.LLMConfig{
		Provider: "openai",
		Models:   config.LLMModels{Primary: "M-primary", Code: "M-code", Fast: "M-fast"},
		Routing: &config.RoutingConfig{
			Rules: []config.RoutingRule{{Pattern: "function|code|implement", Model: "M-code"}},
		},
	}
	modelRouter, err := llm.NewModelRouter(&llmCfg)
	if err != nil {
		t.Fatalf("NewModelRouter: %v", err)
	}
	cache, err := llm.NewModelCache(&config.CacheConfig{Type: "ram", MaxModels: 3})
	if err != nil {
		t.Fatalf("NewModelCache: %v", err)
	}

	sessions := session.NewManager(session.Options{
		Store:     store,
		Provider:  echoProvider{},
		Router:    modelRouter,
		Cache:     cache,
		Executor:  executor,
		Approvals: approvals,
		Workspace: ws,
		Memory:    workspace.NewMemory(filepath.Join(dir, "workspace")),
		Bus:       bus,
		Sessions:  config.SessionsConfig{Scope: "per-sender", MaxTokens: 128000, StepBudget: 4},
		LLM:       llmCfg,
	})

	pairings := pairing.NewManager(store, nil)
	server := NewServer(Options{
		Config:    config.APIConfig{Host: "127.0.0.1", Port: 0},
		Router:    router.New(sessions, nil),
		Store:     store,
		Auth:      auth.NewService(nil, "test-secret", store),
		Pairing:   pairings,
		Skills:    registry,
		SkillsDir: filepath.Join(dir, "skills"),
		Policies:  policies,
		Approvals: approvals,
		Workspace: ws,
		Models:    llmCfg.Models,
		Cache:     cache,
		Executor:  executor,
		Metrics:   observability.NewMetrics(),
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: server, ts: ts, store: store, pairing: pairings}
}

// bootstrap claims the admin account and returns its bearer token.
func (e *testEnv) bootstrap(t *testing.T) string {
	t.Helper()
	code, err := e.pairing.CheckAndStartSetup(context.Background())
	if err != nil || code == "" {
		t.Fatalf("CheckAndStartSetup = %q, %v", code, err)
	}
	status, body := e.post(t, "/api/setup", "", map[string]any{"code": code, "username": "root"})
	if status != http.StatusOK {
		t.Fatalf("setup status = %d, body %s", status, body)
	}
	var resp struct {
		User  storage.User `json:"user"`
		Token string       `json:"token"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode setup response: %v", err)
	}
	if resp.User.Role != "admin" || resp.Token == "" {
		t.Fatalf("setup response = %+v", resp)
	}
	return resp.Token
}

func (e *testEnv) request(t *testing.T, method, path, token string, payload any) (int, []byte) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func (e *testEnv) post(t *testing.T, path, token string, payload any) (int, []byte) {
	return e.request(t, http.MethodPost, path, token, payload)
}

func (e *testEnv) get(t *testing.T, path, token string) (int, []byte) {
	return e.request(t, http.MethodGet, path, token, nil)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.get(t, "/health", "")
	if status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	var resp map[string]string
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" || resp["gateway"] != "rustyclaw" {
		t.Errorf("health = %v", resp)
	}
}

func TestSetupGating(t *testing.T) {
	env := newTestEnv(t)

	// Privileged endpoints fail closed during setup mode.
	status, _ := env.get(t, "/api/sessions", "anything")
	if status != http.StatusServiceUnavailable {
		t.Errorf("pre-setup privileged status = %d, want 503", status)
	}

	token := env.bootstrap(t)

	// A second setup attempt is rejected.
	status, body := env.post(t, "/api/setup", "", map[string]any{"code": "ABC12345", "username": "root"})
	if status != http.StatusBadRequest || !strings.Contains(string(body), "Admin account already exists") {
		t.Errorf("second setup = %d %s", status, body)
	}

	// The minted token now works.
	status, _ = env.get(t, "/api/sessions", token)
	if status != http.StatusOK {
		t.Errorf("post-setup sessions status = %d", status)
	}
}

func TestAuthRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap(t)
	status, body := env.get(t, "/api/sessions", "not-a-token")
	if status != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", status)
	}
	var envl errorEnvelope
	if err := json.Unmarshal(body, &envl); err != nil || envl.ErrorCode != 401 {
		t.Errorf("error envelope = %s", body)
	}
}

func TestChatRoutesToCodeModel(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	status, body := env.post(t, "/api/chat", token, map[string]any{
		"message": "Write a function to add two numbers",
		"stream":  false,
	})
	if status != http.StatusOK {
		t.Fatalf("chat status = %d, body %s", status, body)
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode chat response: %v", err)
	}
	if resp.Response != "echo reply" || resp.SessionID == "" || resp.MessageID == "" {
		t.Errorf("chat response = %+v", resp)
	}

	// The routed model lands on the persisted assistant message.
	status, body = env.get(t, fmt.Sprintf("/api/messages/%s", resp.MessageID), token)
	if status != http.StatusOK {
		t.Fatalf("get message status = %d", status)
	}
	var msg storage.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Model != "M-code" {
		t.Errorf("assistant model = %q, want M-code", msg.Model)
	}
}

func TestChatStreamEmitsSSE(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	raw, _ := json.Marshal(map[string]any{"message": "stream me a long enough sentence to avoid the fast model please and thank you very much indeed, truly", "stream": true})
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/api/chat", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	text := buf.String()
	if !strings.Contains(text, "data: echo ") {
		t.Errorf("missing delta frames:\n%s", text)
	}
	if !strings.Contains(text, "event: done") {
		t.Errorf("missing done event:\n%s", text)
	}
}

func TestToolRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	create := map[string]any{
		"name":        "shout",
		"description": "Upper-cases its input",
		"runtime":     "bash",
		"body":        "echo $SKILL_ARGS | tr a-z A-Z",
		"parameters":  map[string]any{"type": "object"},
		"policy":      "allow",
	}
	status, body := env.post(t, "/api/tools", token, create)
	if status != http.StatusCreated {
		t.Fatalf("create tool = %d %s", status, body)
	}

	// Duplicate creation conflicts.
	status, _ = env.post(t, "/api/tools", token, create)
	if status != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", status)
	}

	// Visible in definitions.
	status, body = env.get(t, "/api/tools/definitions/all", token)
	if status != http.StatusOK || !strings.Contains(string(body), "shout") {
		t.Fatalf("definitions = %d %s", status, body)
	}

	// Callable via the test endpoint.
	status, body = env.post(t, "/api/tools/shout/test", token, map[string]any{"arguments": map[string]any{"x": 1}})
	if status != http.StatusOK {
		t.Fatalf("test tool = %d %s", status, body)
	}
	var result tools.ExecutionResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.IsError() {
		t.Errorf("tool test failed: %+v", result)
	}

	// Delete, then it is gone from definitions.
	status, _ = env.request(t, http.MethodDelete, "/api/tools/shout", token, nil)
	if status != http.StatusNoContent {
		t.Fatalf("delete tool = %d", status)
	}
	status, body = env.get(t, "/api/tools/definitions/all", token)
	if status != http.StatusOK || strings.Contains(string(body), "shout") {
		t.Errorf("definitions after delete still contain tool: %s", body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	status, body := env.post(t, "/api/sessions", token, map[string]any{"channel": "web"})
	if status != http.StatusCreated {
		t.Fatalf("create session = %d %s", status, body)
	}
	var sess storage.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	status, _ = env.get(t, "/api/sessions/"+sess.ID, token)
	if status != http.StatusOK {
		t.Errorf("get session = %d", status)
	}

	status, _ = env.request(t, http.MethodDelete, "/api/sessions/"+sess.ID, token, nil)
	if status != http.StatusNoContent {
		t.Errorf("delete session = %d", status)
	}
	status, _ = env.get(t, "/api/sessions/"+sess.ID, token)
	if status != http.StatusNotFound {
		t.Errorf("get deleted session = %d", status)
	}
}

func TestInviteAndJoin(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	status, body := env.post(t, "/api/auth/invite", token, map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("invite = %d %s", status, body)
	}
	var invite inviteResponse
	if err := json.Unmarshal(body, &invite); err != nil {
		t.Fatalf("decode invite: %v", err)
	}
	if !strings.Contains(invite.URI, invite.Code) {
		t.Errorf("invite uri %q missing code", invite.URI)
	}

	status, body = env.post(t, "/api/auth/join", "", map[string]any{"code": invite.Code, "label": "phone"})
	if status != http.StatusOK {
		t.Fatalf("join = %d %s", status, body)
	}
	var joined authResponse
	if err := json.Unmarshal(body, &joined); err != nil {
		t.Fatalf("decode join: %v", err)
	}
	if joined.Token == "" || joined.User.Role != "user" {
		t.Errorf("join response = %+v", joined)
	}

	// Single use.
	status, _ = env.post(t, "/api/auth/join", "", map[string]any{"code": invite.Code, "label": "again"})
	if status != http.StatusBadRequest {
		t.Errorf("second join = %d, want 400", status)
	}
}

func TestModelsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	status, _ := env.post(t, "/api/models/M-fast/load", token, nil)
	if status != http.StatusOK {
		t.Fatalf("load model = %d", status)
	}
	status, body := env.get(t, "/api/models", token)
	if status != http.StatusOK {
		t.Fatalf("list models = %d", status)
	}
	var resp struct {
		Models []modelInfo `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	loaded := map[string]bool{}
	for _, m := range resp.Models {
		loaded[m.Name] = m.Loaded
	}
	if !loaded["M-fast"] {
		t.Errorf("M-fast not loaded after POST load: %v", loaded)
	}

	status, _ = env.post(t, "/api/models/unknown/load", token, nil)
	if status != http.StatusNotFound {
		t.Errorf("load unknown model = %d, want 404", status)
	}
}

func TestWorkspaceFiles(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	req, _ := http.NewRequest(http.MethodPut, env.ts.URL+"/api/workspace/files/user", strings.NewReader("# User\nprefers tea\n"))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put workspace file: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}

	status, body := env.get(t, "/api/workspace/files/user", token)
	if status != http.StatusOK || !strings.Contains(string(body), "prefers tea") {
		t.Errorf("get workspace file = %d %s", status, body)
	}

	status, _ = env.get(t, "/api/workspace/files/secrets", token)
	if status != http.StatusBadRequest {
		t.Errorf("unknown workspace file = %d, want 400", status)
	}
}

func TestMetricsExposed(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.get(t, "/metrics", "")
	if status != http.StatusOK {
		t.Fatalf("metrics = %d", status)
	}
	_ = body // content shape is prometheus's concern
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.bootstrap(t)

	status, _ := env.post(t, "/api/chat", token, map[string]any{"message": ""})
	if status != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", status)
	}
	status, _ = env.post(t, "/api/chat", token, map[string]any{"message": strings.Repeat("x", maxMessageChars+1)})
	if status != http.StatusBadRequest {
		t.Errorf("oversized message = %d, want 400", status)
	}
	// Foreign session ids look like 404s, not 403s.
	status, _ = env.post(t, "/api/chat", token, map[string]any{"message": "hi", "session_id": "not-mine"})
	if status != http.StatusNotFound {
		t.Errorf("foreign session = %d, want 404", status)
	}
}

func TestApprovalBroadcastReachesHub(t *testing.T) {
	env := newTestEnv(t)
	// No clients connected: broadcast must not block or panic.
	env.server.NotifyApproval(approval.Pending{RequestID: "r1", ToolName: "bash", CreatedAt: time.Now()})
}
