package tools

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rustyclaw/rustyclaw/internal/skills"
)

// CreateToolRequest is the API payload for creating a user tool. The
// accepted tool is written to the skills directory as a manifest+body
// file, so the watcher picks it up like any other skill.
type CreateToolRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Runtime     string         `json:"runtime"`
	Body        string         `json:"body"`
	Parameters  map[string]any `json:"parameters"`
	Policy      string         `json:"policy"`
	Sandbox     bool           `json:"sandbox"`
	Network     bool           `json:"network"`
	TimeoutSecs int            `json:"timeout_secs"`
}

// Validate enforces the same bounds as the skill manifest parser, plus
// the body requirements.
func (r *CreateToolRequest) Validate() error {
	if r.Policy == "" {
		r.Policy = "allow"
	}
	if r.TimeoutSecs == 0 {
		r.TimeoutSecs = skills.DefaultTimeoutSecs
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("tool body cannot be empty")
	}
	if r.Parameters == nil {
		return fmt.Errorf("parameters cannot be null")
	}
	if _, ok := r.Parameters["type"]; !ok {
		return fmt.Errorf("parameters must include a 'type' field (JSON Schema)")
	}
	manifest := r.Manifest()
	if err := skills.ValidateManifest(&manifest); err != nil {
		return err
	}
	return nil
}

// Manifest converts the request to a skill manifest.
func (r *CreateToolRequest) Manifest() skills.Manifest {
	return skills.Manifest{
		Name:        r.Name,
		Description: r.Description,
		Parameters:  r.Parameters,
		Runtime:     skills.Runtime(r.Runtime),
		Sandbox:     r.Sandbox,
		Network:     r.Network,
		Policy:      r.Policy,
		TimeoutSecs: r.TimeoutSecs,
	}
}

// SkillFile renders the request as skill file content.
func (r *CreateToolRequest) SkillFile() (string, error) {
	manifest, err := yaml.Marshal(r.Manifest())
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	return fmt.Sprintf("---\n%s---\n%s\n", manifest, strings.TrimRight(r.Body, "\n")), nil
}
