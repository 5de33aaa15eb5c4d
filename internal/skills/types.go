// Package skills provides user-authored tools defined by manifest+body
// files, hot-loaded from the skills directory.
package skills

import (
	"encoding/json"
)

// Runtime names a supported skill runtime.
type Runtime string

const (
	RuntimeBash   Runtime = "bash"
	RuntimePython Runtime = "python"
)

// Manifest is the YAML frontmatter of a skill file.
type Manifest struct {
	// Name uniquely identifies the skill within the registry.
	Name string `yaml:"name" json:"name"`

	// Description explains what the skill does. Shown to the model.
	Description string `yaml:"description" json:"description"`

	// Parameters is the JSON Schema for the skill's arguments.
	Parameters map[string]any `yaml:"parameters" json:"parameters"`

	// Runtime is bash or python.
	Runtime Runtime `yaml:"runtime" json:"runtime"`

	// Sandbox routes execution through the sandbox manager.
	Sandbox bool `yaml:"sandbox" json:"sandbox"`

	// Network requests network access inside the sandbox.
	Network bool `yaml:"network" json:"network"`

	// Policy is the access level registered for the skill: allow, deny
	// or elevated.
	Policy string `yaml:"policy" json:"policy"`

	// TimeoutSecs bounds a single execution attempt (1..3600).
	TimeoutSecs int `yaml:"timeout_secs" json:"timeout_secs"`
}

// Skill is a loaded skill: manifest, executable body and origin.
type Skill struct {
	Manifest   Manifest `json:"manifest"`
	Body       string   `json:"-"`
	SourcePath string   `json:"source_path"`
}

// Definition renders the skill as an LLM tool descriptor.
func (s *Skill) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        s.Manifest.Name,
		Description: s.Manifest.Description,
		Parameters:  s.Manifest.Parameters,
	}
}

// ToolDefinition is the provider-neutral tool descriptor shape.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ParametersJSON marshals the parameter schema for providers that take
// raw JSON.
func (d ToolDefinition) ParametersJSON() json.RawMessage {
	if d.Parameters == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	data, err := json.Marshal(d.Parameters)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
