package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.ConfigPath = path
	return cfg, nil
}

// Parse decodes a configuration document from raw YAML.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// interpolateEnv replaces ${VAR} references with environment values.
// Unset variables interpolate to the empty string.
func interpolateEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

var validScopes = map[string]bool{
	"per-sender":       true,
	"per-channel-peer": true,
	"per-peer":         true,
	"main":             true,
}

var validChannelRouting = map[string]bool{
	"isolated": true,
	"shared":   true,
	"bridged":  true,
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	if !validScopes[c.Sessions.Scope] {
		return fmt.Errorf("config: unknown session scope %q", c.Sessions.Scope)
	}
	if !validChannelRouting[c.Sessions.ChannelRouting] {
		return fmt.Errorf("config: unknown channel_routing %q", c.Sessions.ChannelRouting)
	}
	if strings.TrimSpace(c.LLM.Models.Primary) == "" {
		return fmt.Errorf("config: llm.models.primary is required")
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		return fmt.Errorf("config: telegram channel enabled but no token configured")
	}
	if c.Channels.Discord.Enabled && strings.TrimSpace(c.Channels.Discord.Token) == "" {
		return fmt.Errorf("config: discord channel enabled but no token configured")
	}
	switch c.Sandbox.Mode {
	case "off", "non_main", "all":
	default:
		return fmt.Errorf("config: unknown sandbox mode %q", c.Sandbox.Mode)
	}
	switch c.Sandbox.Scope {
	case "session", "agent", "shared":
	default:
		return fmt.Errorf("config: unknown sandbox scope %q", c.Sandbox.Scope)
	}
	switch c.Sandbox.Workspace {
	case "none", "ro", "rw":
	default:
		return fmt.Errorf("config: unknown sandbox workspace mode %q", c.Sandbox.Workspace)
	}
	switch c.Storage.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("config: unknown storage type %q", c.Storage.Type)
	}
	return nil
}

// Save writes the configuration back to its source path.
func (c *Config) Save() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config: no source path to save to")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}
