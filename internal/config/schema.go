// Package config defines the RustyClaw configuration schema and loader.
//
// Configuration lives in a single YAML document (by default
// ~/.rustyclaw/config.yaml). String values support ${VAR} environment
// interpolation at load time.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration document.
type Config struct {
	Gateway   GatewayConfig          `yaml:"gateway"`
	LLM       LLMConfig              `yaml:"llm"`
	Channels  ChannelsConfig         `yaml:"channels"`
	Sessions  SessionsConfig         `yaml:"sessions"`
	Storage   StorageConfig          `yaml:"storage"`
	Logging   LoggingConfig          `yaml:"logging"`
	Sandbox   SandboxConfig          `yaml:"sandbox"`
	Tools     ToolsConfig            `yaml:"tools"`
	API       APIConfig              `yaml:"api"`
	Workspace WorkspaceConfig        `yaml:"workspace"`
	Agents    map[string]AgentConfig `yaml:"agents"`

	// Admin optionally bootstraps the first admin account from config
	// instead of the interactive setup-code flow.
	Admin AdminConfig `yaml:"admin"`

	// ConfigPath records where the document was loaded from. Not serialized.
	ConfigPath string `yaml:"-"`
}

// GatewayConfig controls the gateway process itself.
type GatewayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// LLMConfig selects the model backend and routing behaviour.
type LLMConfig struct {
	// Provider is "anthropic" or "openai" (any OpenAI-compatible server,
	// including Ollama).
	Provider string         `yaml:"provider"`
	BaseURL  string         `yaml:"base_url"`
	APIKey   string         `yaml:"api_key"`
	Models   LLMModels      `yaml:"models"`
	Cache    CacheConfig    `yaml:"cache"`
	Routing  *RoutingConfig `yaml:"routing"`

	// RequestTimeout bounds a single completion call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMModels names the configured models.
type LLMModels struct {
	Primary string `yaml:"primary"`
	Code    string `yaml:"code"`
	Fast    string `yaml:"fast"`
}

// CacheConfig controls hot-model tracking.
type CacheConfig struct {
	// Type is "ram", "ssd" or "none".
	Type      string `yaml:"type"`
	MaxModels int    `yaml:"max_models"`
	Eviction  string `yaml:"eviction"`
}

// RoutingConfig holds ordered regex routing rules.
type RoutingConfig struct {
	Default string        `yaml:"default"`
	Rules   []RoutingRule `yaml:"rules"`
}

// RoutingRule routes messages matching Pattern to Model.
type RoutingRule struct {
	Pattern string `yaml:"pattern"`
	Model   string `yaml:"model"`
}

// ChannelsConfig enables and configures the channel adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Token        string  `yaml:"token"`
	AllowedUsers []int64 `yaml:"allowed_users"`
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Token         string   `yaml:"token"`
	AllowedUsers  []string `yaml:"allowed_users"`
	AllowedGuilds []string `yaml:"allowed_guilds"`
}

// SessionsConfig controls conversation scoping.
type SessionsConfig struct {
	// Scope is one of "per-sender", "per-channel-peer", "per-peer", "main".
	Scope string `yaml:"scope"`

	// MaxTokens caps the transcript window handed to the model.
	MaxTokens int `yaml:"max_tokens"`

	// CompactionEnabled is accepted but currently a no-op.
	CompactionEnabled bool `yaml:"compaction_enabled"`

	// ChannelRouting is "isolated", "shared" or "bridged".
	ChannelRouting string `yaml:"channel_routing"`

	// StepBudget is the maximum tool-call rounds per user turn.
	StepBudget int `yaml:"step_budget"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Type is "sqlite" or "memory".
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SandboxConfig controls container sandboxing of tool execution.
type SandboxConfig struct {
	// Mode is "off", "non_main" or "all".
	Mode string `yaml:"mode"`

	// Scope is "session", "agent" or "shared".
	Scope string `yaml:"scope"`

	// Workspace is "none", "ro" or "rw".
	Workspace string `yaml:"workspace"`

	Image        string        `yaml:"image"`
	Network      bool          `yaml:"network"`
	SetupCommand string        `yaml:"setup_command"`
	Pruning      PruningConfig `yaml:"pruning"`
}

// PruningConfig controls background container cleanup. Enabled is a
// pointer so an absent key defaults to on.
type PruningConfig struct {
	Enabled              *bool `yaml:"enabled"`
	IdleHours            int   `yaml:"idle_hours"`
	MaxAgeDays           int   `yaml:"max_age_days"`
	CheckIntervalMinutes int   `yaml:"check_interval_minutes"`
}

// PruningEnabled reports the effective flag.
func (p PruningConfig) PruningEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ToolsConfig controls tool execution behaviour.
type ToolsConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`

	// ApprovalTimeout bounds the interactive approval wait.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// Policies overrides default tool access levels, name → level.
	Policies map[string]string `yaml:"policies"`
}

// APIConfig configures the HTTP/WebSocket API.
type APIConfig struct {
	Enabled bool     `yaml:"enabled"`
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Tokens  []string `yaml:"tokens"`

	// TokenSecret signs API tokens minted by setup/join.
	TokenSecret string `yaml:"token_secret"`
}

// WorkspaceConfig points at the prompt-source workspace.
type WorkspaceConfig struct {
	Path              string `yaml:"path"`
	BootstrapMaxChars int    `yaml:"bootstrap_max_chars"`
}

// AgentConfig describes a named agent profile.
type AgentConfig struct {
	Name      string   `yaml:"name"`
	Workspace string   `yaml:"workspace"`
	Channels  []string `yaml:"channels"`
}

// AdminConfig optionally bootstraps the initial admin user.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BaseDir returns the RustyClaw home directory (~/.rustyclaw).
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rustyclaw"
	}
	return filepath.Join(home, ".rustyclaw")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18789
	}
	if c.Gateway.LogLevel == "" {
		c.Gateway.LogLevel = "info"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434/v1"
	}
	if c.LLM.Cache.Type == "" {
		c.LLM.Cache.Type = "ram"
	}
	if c.LLM.Cache.MaxModels == 0 {
		c.LLM.Cache.MaxModels = 3
	}
	if c.LLM.Cache.Eviction == "" {
		c.LLM.Cache.Eviction = "lru"
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 2 * time.Minute
	}
	if c.Sessions.Scope == "" {
		c.Sessions.Scope = "per-sender"
	}
	if c.Sessions.MaxTokens == 0 {
		c.Sessions.MaxTokens = 128000
	}
	if c.Sessions.ChannelRouting == "" {
		c.Sessions.ChannelRouting = "isolated"
	}
	if c.Sessions.StepBudget == 0 {
		c.Sessions.StepBudget = 8
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(BaseDir(), "data.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "pretty"
	}
	if c.Sandbox.Mode == "" {
		c.Sandbox.Mode = "non_main"
	}
	if c.Sandbox.Scope == "" {
		c.Sandbox.Scope = "session"
	}
	if c.Sandbox.Workspace == "" {
		c.Sandbox.Workspace = "none"
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "debian:bookworm-slim"
	}
	if c.Sandbox.Pruning.IdleHours == 0 {
		c.Sandbox.Pruning.IdleHours = 24
	}
	if c.Sandbox.Pruning.MaxAgeDays == 0 {
		c.Sandbox.Pruning.MaxAgeDays = 7
	}
	if c.Sandbox.Pruning.CheckIntervalMinutes == 0 {
		c.Sandbox.Pruning.CheckIntervalMinutes = 60
	}
	if c.Tools.MaxRetries == 0 {
		c.Tools.MaxRetries = 10
	}
	if c.Tools.InitialBackoffMs == 0 {
		c.Tools.InitialBackoffMs = 100
	}
	if c.Tools.MaxBackoffMs == 0 {
		c.Tools.MaxBackoffMs = 5000
	}
	if c.Tools.ApprovalTimeout == 0 {
		c.Tools.ApprovalTimeout = 120 * time.Second
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == 0 {
		c.API.Port = 18789
	}
	if c.Workspace.Path == "" {
		c.Workspace.Path = filepath.Join(BaseDir(), "workspace")
	}
	if c.Workspace.BootstrapMaxChars == 0 {
		c.Workspace.BootstrapMaxChars = 20000
	}
}
