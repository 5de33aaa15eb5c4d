package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// PruningConfig controls background container cleanup.
type PruningConfig struct {
	Enabled              bool
	IdleHours            int
	MaxAgeDays           int
	CheckIntervalMinutes int
}

// DefaultPruningConfig returns the shipped pruning policy.
func DefaultPruningConfig() PruningConfig {
	return PruningConfig{
		Enabled:              true,
		IdleHours:            24,
		MaxAgeDays:           7,
		CheckIntervalMinutes: 60,
	}
}

// Pruner periodically removes idle or aged-out containers.
type Pruner struct {
	manager *Manager
	config  PruningConfig
	cron    *cron.Cron
	logger  *slog.Logger
}

// NewPruner creates a pruner for the manager's cache.
func NewPruner(manager *Manager, config PruningConfig, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		manager: manager,
		config:  config,
		logger:  logger.With("component", "sandbox_pruner"),
	}
}

// Start schedules the pruning cycle. No-op when pruning is disabled.
func (p *Pruner) Start(ctx context.Context) error {
	if !p.config.Enabled {
		p.logger.Info("sandbox pruning disabled")
		return nil
	}
	p.cron = cron.New()
	spec := fmt.Sprintf("@every %dm", p.config.CheckIntervalMinutes)
	if _, err := p.cron.AddFunc(spec, func() {
		if err := p.Prune(ctx); err != nil {
			p.logger.Error("prune cycle failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}
	p.cron.Start()
	go func() {
		<-ctx.Done()
		p.cron.Stop()
	}()
	p.logger.Info("sandbox pruning started",
		"idle_hours", p.config.IdleHours, "max_age_days", p.config.MaxAgeDays,
		"check_interval_minutes", p.config.CheckIntervalMinutes)
	return nil
}

// Prune removes every container whose idle time or age exceeds the
// configured limits.
func (p *Pruner) Prune(ctx context.Context) error {
	now := time.Now().UTC()
	idleLimit := time.Duration(p.config.IdleHours) * time.Hour
	ageLimit := time.Duration(p.config.MaxAgeDays) * 24 * time.Hour

	pruned := 0
	for _, meta := range p.manager.List() {
		idle := now.Sub(meta.LastUsed)
		age := now.Sub(meta.CreatedAt)
		if idle < idleLimit && age < ageLimit {
			continue
		}
		p.logger.Info("pruning sandbox container",
			"scope_id", meta.ScopeID, "idle", idle.Truncate(time.Minute), "age", age.Truncate(time.Minute))
		if err := p.manager.Remove(ctx, meta.ScopeID); err != nil {
			p.logger.Error("failed to prune container", "scope_id", meta.ScopeID, "error", err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		p.logger.Info("prune cycle complete", "removed", pruned)
	}
	return nil
}
