package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rustyclaw/rustyclaw/internal/api"
	"github.com/rustyclaw/rustyclaw/internal/approval"
	"github.com/rustyclaw/rustyclaw/internal/auth"
	"github.com/rustyclaw/rustyclaw/internal/channels"
	"github.com/rustyclaw/rustyclaw/internal/channels/discord"
	"github.com/rustyclaw/rustyclaw/internal/channels/telegram"
	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/events"
	"github.com/rustyclaw/rustyclaw/internal/llm"
	"github.com/rustyclaw/rustyclaw/internal/observability"
	"github.com/rustyclaw/rustyclaw/internal/pairing"
	"github.com/rustyclaw/rustyclaw/internal/policy"
	"github.com/rustyclaw/rustyclaw/internal/router"
	"github.com/rustyclaw/rustyclaw/internal/sandbox"
	"github.com/rustyclaw/rustyclaw/internal/session"
	"github.com/rustyclaw/rustyclaw/internal/skills"
	"github.com/rustyclaw/rustyclaw/internal/storage"
	"github.com/rustyclaw/rustyclaw/internal/tools"
	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg.Logging)
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ws := workspace.New(cfg.Workspace.Path)
	if err := ws.InitDefault(); err != nil {
		return err
	}
	memory := workspace.NewMemory(cfg.Workspace.Path)

	bus := events.NewBus()
	policies := policy.NewEngine(logger)
	applyPolicyOverrides(policies, cfg.Tools.Policies, logger)
	approvals := approval.NewManager(logger)
	metrics := observability.NewMetrics()

	sandboxes, pruner, err := buildSandbox(cfg, logger)
	if err != nil {
		return err
	}
	if pruner != nil {
		if err := pruner.Start(ctx); err != nil {
			return err
		}
	}
	if err := sandboxes.Recover(ctx); err != nil {
		logger.Warn("sandbox recovery failed", "error", err)
	}

	registry := skills.NewRegistry(policies, bus, logger)
	skillsDir := filepath.Join(config.BaseDir(), "skills")
	watcher := skills.NewWatcher(skillsDir, registry, skills.DefaultDebounce, logger)
	if err := watcher.Start(ctx); err != nil {
		return err
	}

	channelRegistry := channels.NewRegistry()

	// The API server is created after the executor but receives
	// approval notifications from it; bind late through the pointer.
	var apiServer *api.Server
	executor := tools.NewExecutor(tools.Options{
		Policies:  policies,
		Approvals: approvals,
		Sandboxes: sandboxes,
		Registry:  registry,
		Memory:    memory,
		Messenger: channelRegistry,
		Retry: tools.RetryPolicy{
			MaxRetries:       cfg.Tools.MaxRetries,
			InitialBackoffMs: cfg.Tools.InitialBackoffMs,
			MaxBackoffMs:     cfg.Tools.MaxBackoffMs,
		},
		ApprovalTimeout: cfg.Tools.ApprovalTimeout,
		Notifier: func(pending approval.Pending) {
			if apiServer != nil {
				apiServer.NotifyApproval(pending)
			}
		},
		Logger: logger,
	})

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	modelRouter, err := llm.NewModelRouter(&cfg.LLM)
	if err != nil {
		return err
	}
	modelCache, err := llm.NewModelCache(&cfg.LLM.Cache)
	if err != nil {
		return err
	}

	sessions := session.NewManager(session.Options{
		Store:     store,
		Provider:  provider,
		Router:    modelRouter,
		Cache:     modelCache,
		Executor:  executor,
		Approvals: approvals,
		Workspace: ws,
		Memory:    memory,
		Bus:       bus,
		Sessions:  cfg.Sessions,
		LLM:       cfg.LLM,
		Logger:    logger,
	})
	messageRouter := router.New(sessions, logger)

	pairings := pairing.NewManager(store, logger)
	authService := auth.NewService(cfg.API.Tokens, cfg.API.TokenSecret, store)
	if err := bootstrapAdmin(ctx, cfg, store, logger); err != nil {
		return err
	}
	if _, err := pairings.CheckAndStartSetup(ctx); err != nil {
		return err
	}

	if cfg.Channels.Telegram.Enabled {
		channelRegistry.Register(telegram.New(cfg.Channels.Telegram, messageRouter, logger))
	}
	if cfg.Channels.Discord.Enabled {
		channelRegistry.Register(discord.New(cfg.Channels.Discord, messageRouter, logger))
	}
	if err := channelRegistry.StartAll(ctx); err != nil {
		return err
	}

	apiServer = api.NewServer(api.Options{
		Config:    cfg.API,
		Router:    messageRouter,
		Store:     store,
		Auth:      authService,
		Pairing:   pairings,
		Skills:    registry,
		SkillsDir: skillsDir,
		Policies:  policies,
		Approvals: approvals,
		Workspace: ws,
		Models:    cfg.LLM.Models,
		Cache:     modelCache,
		Executor:  executor,
		Metrics:   metrics,
		Logger:    logger,
	})
	return apiServer.Start(ctx)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewSQLiteStore(cfg.Storage.Path)
	}
}

// buildSandbox assembles the sandbox manager. Without a container
// backend compiled in, sandboxed modes degrade to host execution with a
// warning; the mode matrix still runs for tests and future drivers.
func buildSandbox(cfg *config.Config, logger *slog.Logger) (*sandbox.Manager, *sandbox.Pruner, error) {
	mode, err := sandbox.ParseMode(cfg.Sandbox.Mode)
	if err != nil {
		return nil, nil, err
	}
	scope, err := sandbox.ParseScope(cfg.Sandbox.Scope)
	if err != nil {
		return nil, nil, err
	}
	wsMode, err := sandbox.ParseWorkspaceMode(cfg.Sandbox.Workspace)
	if err != nil {
		return nil, nil, err
	}

	backend := sandbox.DetectBackend(logger)
	if backend == nil && mode != sandbox.ModeOff {
		logger.Warn("no container runtime found; sandboxing disabled", "requested_mode", mode)
		mode = sandbox.ModeOff
	}

	manager, err := sandbox.NewManager(backend, sandbox.Config{
		Mode:         mode,
		Scope:        scope,
		Workspace:    wsMode,
		Image:        cfg.Sandbox.Image,
		Network:      cfg.Sandbox.Network,
		SetupCommand: cfg.Sandbox.SetupCommand,
		BaseDir:      config.BaseDir(),
		AgentDir:     cfg.Workspace.Path,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	pruner := sandbox.NewPruner(manager, sandbox.PruningConfig{
		Enabled:              cfg.Sandbox.Pruning.PruningEnabled() && backend != nil,
		IdleHours:            cfg.Sandbox.Pruning.IdleHours,
		MaxAgeDays:           cfg.Sandbox.Pruning.MaxAgeDays,
		CheckIntervalMinutes: cfg.Sandbox.Pruning.CheckIntervalMinutes,
	}, logger)
	return manager, pruner, nil
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return llm.NewAnthropicProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	default:
		return llm.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL), nil
	}
}

func applyPolicyOverrides(policies *policy.Engine, overrides map[string]string, logger *slog.Logger) {
	for name, raw := range overrides {
		level, err := policy.ParseAccessLevel(raw)
		if err != nil {
			logger.Warn("ignoring invalid policy override", "tool", name, "level", raw)
			continue
		}
		policies.SetPolicy(name, level)
	}
}

// bootstrapAdmin creates the initial admin from config credentials when
// the user table is empty, skipping the interactive setup-code flow.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) error {
	if cfg.Admin.Username == "" || cfg.Admin.Password == "" {
		return nil
	}
	count, err := store.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash := cfg.Admin.Password
	if !auth.IsHashed(hash) {
		hash, err = auth.HashPassword(cfg.Admin.Password)
		if err != nil {
			return err
		}
		logger.Warn("admin account created with a config-file password; change it after first login")
	}

	now := time.Now().UTC()
	if err := store.CreateUser(ctx, &storage.User{
		ID:           uuid.NewString(),
		Username:     cfg.Admin.Username,
		Role:         "admin",
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	logger.Info("admin account bootstrapped from config", "username", cfg.Admin.Username)
	return nil
}
