package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rustyclaw/rustyclaw/internal/config"
)

// ModelRouter picks a model for each message. Selection is pure: the
// same config and message always route to the same model.
type ModelRouter struct {
	defaultModel string
	codeModel    string
	fastModel    string
	rules        []compiledRule
}

type compiledRule struct {
	pattern *regexp.Regexp
	model   string
}

// codeKeywords is the heuristic set that routes to the code model.
var codeKeywords = []string{
	"code", "function", "implement", "debug", "class",
	"def ", "fn ", "const ", "let ", "var ", "import ",
	"async ", "await ", "refactor", "bug", "error", "syntax",
}

// fastMessageLimit routes short messages to the fast model.
const fastMessageLimit = 100

// NewModelRouter compiles the routing rules from config.
func NewModelRouter(cfg *config.LLMConfig) (*ModelRouter, error) {
	router := &ModelRouter{
		defaultModel: cfg.Models.Primary,
		codeModel:    cfg.Models.Code,
		fastModel:    cfg.Models.Fast,
	}
	if cfg.Routing != nil {
		if cfg.Routing.Default != "" {
			router.defaultModel = cfg.Routing.Default
		}
		for _, rule := range cfg.Routing.Rules {
			pattern, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compile routing rule %q: %w", rule.Pattern, err)
			}
			router.rules = append(router.rules, compiledRule{pattern: pattern, model: rule.Model})
		}
	}
	return router, nil
}

// Route selects the model for a message: first matching rule, then the
// code heuristic, then the short-message fast path, then the default.
func (r *ModelRouter) Route(message string) string {
	for _, rule := range r.rules {
		if rule.pattern.MatchString(message) {
			return rule.model
		}
	}
	if r.codeModel != "" && isCodeRelated(message) {
		return r.codeModel
	}
	if r.fastModel != "" && len(message) < fastMessageLimit {
		return r.fastModel
	}
	return r.defaultModel
}

func isCodeRelated(message string) bool {
	lower := strings.ToLower(message)
	for _, keyword := range codeKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
