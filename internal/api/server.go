package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rustyclaw/rustyclaw/internal/approval"
	"github.com/rustyclaw/rustyclaw/internal/auth"
	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/llm"
	"github.com/rustyclaw/rustyclaw/internal/observability"
	"github.com/rustyclaw/rustyclaw/internal/pairing"
	"github.com/rustyclaw/rustyclaw/internal/policy"
	"github.com/rustyclaw/rustyclaw/internal/router"
	"github.com/rustyclaw/rustyclaw/internal/skills"
	"github.com/rustyclaw/rustyclaw/internal/storage"
	"github.com/rustyclaw/rustyclaw/internal/tools"
	"github.com/rustyclaw/rustyclaw/internal/version"
	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 10 << 20

// Server is the HTTP/WebSocket API front end.
type Server struct {
	cfg       config.APIConfig
	router    *router.Router
	store     storage.Store
	auth      *auth.Service
	pairing   *pairing.Manager
	skills    *skills.Registry
	skillsDir string
	policies  *policy.Engine
	approvals *approval.Manager
	workspace *workspace.Workspace
	models    config.LLMModels
	cache     *llm.ModelCache
	exec      *tools.Executor
	metrics   *observability.Metrics
	hub       *wsHub
	logger    *slog.Logger

	httpServer *http.Server
}

// Options wires a Server.
type Options struct {
	Config    config.APIConfig
	Router    *router.Router
	Store     storage.Store
	Auth      *auth.Service
	Pairing   *pairing.Manager
	Skills    *skills.Registry
	SkillsDir string
	Policies  *policy.Engine
	Approvals *approval.Manager
	Workspace *workspace.Workspace
	Models    config.LLMModels
	Cache     *llm.ModelCache
	Executor  *tools.Executor
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		cfg:       opts.Config,
		router:    opts.Router,
		store:     opts.Store,
		auth:      opts.Auth,
		pairing:   opts.Pairing,
		skills:    opts.Skills,
		skillsDir: opts.SkillsDir,
		policies:  opts.Policies,
		approvals: opts.Approvals,
		workspace: opts.Workspace,
		models:    opts.Models,
		cache:     opts.Cache,
		exec:      opts.Executor,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "api"),
	}
	s.hub = newWSHub(s.logger)
	return s
}

// NotifyApproval pushes an approval request to connected control
// clients. Delivery is fire-and-forget.
func (s *Server) NotifyApproval(pending approval.Pending) {
	s.hub.broadcastApproval(pending)
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	// Public surface.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/setup", s.handleSetup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/join", s.handleJoin).Methods(http.MethodPost)

	// Authenticated surface.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/auth/invite", s.handleCreateInvite).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)

	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", s.handleGetMessage).Methods(http.MethodGet)

	api.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{name}/load", s.handleLoadModel).Methods(http.MethodPost)

	api.HandleFunc("/tools", s.handleCreateTool).Methods(http.MethodPost)
	api.HandleFunc("/tools", s.handleListTools).Methods(http.MethodGet)
	api.HandleFunc("/tools/definitions/all", s.handleAllDefinitions).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name}", s.handleGetTool).Methods(http.MethodGet)
	api.HandleFunc("/tools/{name}", s.handleUpdateTool).Methods(http.MethodPut)
	api.HandleFunc("/tools/{name}", s.handleDeleteTool).Methods(http.MethodDelete)
	api.HandleFunc("/tools/{name}/validate", s.handleValidateTool).Methods(http.MethodPost)
	api.HandleFunc("/tools/{name}/test", s.handleTestTool).Methods(http.MethodPost)
	api.HandleFunc("/tools/{name}/definition", s.handleToolDefinition).Methods(http.MethodGet)

	api.HandleFunc("/workspace/files", s.handleListWorkspaceFiles).Methods(http.MethodGet)
	api.HandleFunc("/workspace/files/{type}", s.handleGetWorkspaceFile).Methods(http.MethodGet)
	api.HandleFunc("/workspace/files/{type}", s.handlePutWorkspaceFile).Methods(http.MethodPut)

	return http.MaxBytesHandler(r, maxBodyBytes)
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
		"gateway": "rustyclaw",
	})
}
