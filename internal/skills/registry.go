package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rustyclaw/rustyclaw/internal/events"
	"github.com/rustyclaw/rustyclaw/internal/policy"
)

// Registry is the in-process skill table. Loading a skill also registers
// its declared policy with the policy engine and publishes a
// ToolUpdated event; unloading publishes ToolRemoved.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill

	policies *policy.Engine
	bus      *events.Bus
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. policies and bus may be nil in
// tests that only exercise the table.
func NewRegistry(policies *policy.Engine, bus *events.Bus, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		skills:   make(map[string]*Skill),
		policies: policies,
		bus:      bus,
		logger:   logger.With("component", "skills"),
	}
}

// Load inserts or replaces a skill by name.
func (r *Registry) Load(skill *Skill) {
	name := skill.Manifest.Name

	r.mu.Lock()
	r.skills[name] = skill
	r.mu.Unlock()

	if r.policies != nil {
		if level, err := policy.ParseAccessLevel(skill.Manifest.Policy); err == nil {
			r.policies.SetPolicy(name, level)
		}
	}
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: events.ToolUpdated, Name: name})
	}
	r.logger.Info("loaded skill", "name", name, "runtime", skill.Manifest.Runtime, "sandbox", skill.Manifest.Sandbox)
}

// Unload removes a skill by name.
func (r *Registry) Unload(name string) {
	r.mu.Lock()
	_, ok := r.skills[name]
	delete(r.skills, name)
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.policies != nil {
		r.policies.RemovePolicy(name)
	}
	if r.bus != nil {
		r.bus.Publish(events.Event{Type: events.ToolRemoved, Name: name})
	}
	r.logger.Info("unloaded skill", "name", name)
}

// UnloadByPath removes the skill whose source path matches. Used by the
// watcher when a skill file is deleted.
func (r *Registry) UnloadByPath(path string) {
	r.mu.RLock()
	var name string
	for _, skill := range r.skills {
		if skill.SourcePath == path {
			name = skill.Manifest.Name
			break
		}
	}
	r.mu.RUnlock()
	if name != "" {
		r.Unload(name)
	}
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[name]
	return skill, ok
}

// List returns a snapshot of all skills, sorted by name.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, skill := range r.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.Name < out[j].Manifest.Name })
	return out
}

// Definitions returns tool descriptors for every loaded skill.
func (r *Registry) Definitions() []ToolDefinition {
	skills := r.List()
	defs := make([]ToolDefinition, 0, len(skills))
	for _, skill := range skills {
		defs = append(defs, skill.Definition())
	}
	return defs
}

// ScanDir parses and loads every skill file in dir. Files that fail to
// parse are logged and skipped; the scan continues.
func (r *Registry) ScanDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read skills dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isSkillFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		skill, err := ParseFile(path)
		if err != nil {
			r.logger.Warn("skipping invalid skill file", "path", path, "error", err)
			continue
		}
		r.Load(skill)
	}
	return nil
}

func isSkillFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".yaml", ".yml", ".skill":
		return true
	}
	return false
}
