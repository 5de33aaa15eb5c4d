package skills

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	// Delimiter separates the manifest block from the body.
	Delimiter = "---"

	// DefaultTimeoutSecs applies when a manifest omits timeout_secs.
	DefaultTimeoutSecs = 30

	// MaxTimeoutSecs is the upper bound for timeout_secs.
	MaxTimeoutSecs = 3600

	maxNameLength        = 100
	maxDescriptionLength = 500
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ParseFile parses a skill file from disk.
func ParseFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses skill content: a manifest block between two --- lines,
// followed by the executable body.
func Parse(data []byte, sourcePath string) (*Skill, error) {
	frontmatter, body, err := split(string(data))
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		Policy:      "allow",
		TimeoutSecs: DefaultTimeoutSecs,
	}
	if err := yaml.Unmarshal([]byte(frontmatter), &manifest); err != nil {
		return nil, fmt.Errorf("parse skill manifest: %w", err)
	}
	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}

	return &Skill{
		Manifest:   manifest,
		Body:       strings.TrimSpace(body),
		SourcePath: sourcePath,
	}, nil
}

// split separates the manifest block from the body.
func split(content string) (frontmatter, body string, err error) {
	parts := strings.SplitN(content, Delimiter, 3)
	if len(parts) < 3 {
		return "", "", fmt.Errorf("invalid skill file: manifest must sit between %s delimiters", Delimiter)
	}
	// parts[0] is the (empty) prefix before the first delimiter.
	return strings.TrimSpace(parts[1]), strings.TrimLeft(parts[2], "\n"), nil
}

// ValidateManifest enforces the manifest field constraints.
func ValidateManifest(m *Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("skill name is required")
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("skill name must match [A-Za-z0-9_-]{1,%d}: got %q", maxNameLength, m.Name)
	}
	if m.Description == "" {
		return fmt.Errorf("skill description is required")
	}
	if len(m.Description) > maxDescriptionLength {
		return fmt.Errorf("skill description too long (max %d characters)", maxDescriptionLength)
	}
	switch m.Runtime {
	case RuntimeBash, RuntimePython:
	case "":
		return fmt.Errorf("skill runtime is required")
	default:
		return fmt.Errorf("unknown skill runtime: %s", m.Runtime)
	}
	switch m.Policy {
	case "allow", "deny", "elevated":
	default:
		return fmt.Errorf("invalid skill policy: %s", m.Policy)
	}
	if m.TimeoutSecs < 1 || m.TimeoutSecs > MaxTimeoutSecs {
		return fmt.Errorf("skill timeout must be between 1 and %d seconds", MaxTimeoutSecs)
	}
	if m.Parameters != nil {
		if err := compileSchema(m.Parameters); err != nil {
			return fmt.Errorf("invalid skill parameters schema: %w", err)
		}
	}
	return nil
}

// compileSchema checks that the parameters block is a valid JSON Schema.
func compileSchema(params map[string]any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = jsonschema.CompileString("parameters.json", string(raw))
	return err
}
