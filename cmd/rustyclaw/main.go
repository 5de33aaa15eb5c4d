// rustyclaw is the local-first AI-assistant gateway daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "rustyclaw",
		Short: "Local-first AI assistant gateway",
		Long:  "RustyClaw routes chat messages through an LLM backend and brokers the tool calls the model emits.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ~/.rustyclaw/config.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rustyclaw %s\n", version.Version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config path and loads the document. A missing
// file yields defaults so first runs work without any setup.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.BaseDir(), "config.yaml")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.LLM.Models.Primary = "qwen2.5:32b"
		cfg.ConfigPath = path
		return cfg, nil
	}
	return config.Load(path)
}

// setupLogging installs the default slog handler per config.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
