package session

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/rustyclaw/rustyclaw/internal/llm"
	"github.com/rustyclaw/rustyclaw/internal/workspace"
)

// PromptBuilder assembles the dynamic system prompt from workspace
// files, tool descriptors, runtime info and memory. Sections join in a
// fixed order so prompts stay stable across calls.
type PromptBuilder struct {
	workspace *workspace.Workspace
	memory    *workspace.Memory
	tools     []llm.ToolDefinition
}

// NewPromptBuilder creates a builder over the given workspace.
func NewPromptBuilder(ws *workspace.Workspace, memory *workspace.Memory, tools []llm.ToolDefinition) *PromptBuilder {
	return &PromptBuilder{workspace: ws, memory: memory, tools: tools}
}

// Build renders the complete system prompt.
func (b *PromptBuilder) Build() string {
	sections := []string{
		b.identitySection(),
		b.toolingSection(),
		b.safetySection(),
	}
	if agents, ok := b.workspace.Load(workspace.Agents); ok {
		sections = append(sections, agents)
	}
	if user, ok := b.workspace.Load(workspace.User); ok {
		sections = append(sections, user)
	}
	sections = append(sections, b.runtimeSection())
	if memory := b.memorySection(); memory != "" {
		sections = append(sections, memory)
	}
	sections = append(sections, b.timeSection())

	var kept []string
	for _, section := range sections {
		if strings.TrimSpace(section) != "" {
			kept = append(kept, strings.TrimSpace(section))
		}
	}
	return strings.Join(kept, "\n\n")
}

func (b *PromptBuilder) identitySection() string {
	var parts []string
	if identity, ok := b.workspace.Load(workspace.Identity); ok {
		parts = append(parts, identity)
	}
	if soul, ok := b.workspace.Load(workspace.Soul); ok {
		parts = append(parts, soul)
	}
	if len(parts) == 0 {
		return "You are RustyClaw, a helpful AI assistant."
	}
	return strings.Join(parts, "\n\n")
}

func (b *PromptBuilder) toolingSection() string {
	var s strings.Builder
	s.WriteString("## Available Tools\n\n")
	if len(b.tools) == 0 {
		s.WriteString("No tools are currently available.\n")
	} else {
		s.WriteString("You have access to the following tools:\n\n")
		for _, tool := range b.tools {
			fmt.Fprintf(&s, "- `%s`: %s\n", tool.Name, tool.Description)
		}
	}
	if guide, ok := b.workspace.Load(workspace.Tools); ok {
		s.WriteString("\n")
		s.WriteString(guide)
	}
	return s.String()
}

func (b *PromptBuilder) safetySection() string {
	return "## Safety Guidelines\n\n" +
		"- Always prioritize user safety and privacy\n" +
		"- Never bypass oversight mechanisms or safety controls\n" +
		"- Be transparent about your actions and limitations\n" +
		"- Ask for clarification when instructions are ambiguous"
}

func (b *PromptBuilder) runtimeSection() string {
	return fmt.Sprintf("## Runtime\n\n- **Platform**: %s (%s)\n- **Gateway**: RustyClaw",
		runtime.GOOS, runtime.GOARCH)
}

func (b *PromptBuilder) memorySection() string {
	if b.memory == nil {
		return ""
	}
	var parts []string
	if curated, ok := b.memory.Curated(); ok && strings.TrimSpace(curated) != "" {
		parts = append(parts, "## Long-Term Memory\n\n"+curated)
	}
	if today, err := b.memory.TodayLog(); err == nil && strings.TrimSpace(today) != "" {
		parts = append(parts, "## Recent Memory (Today)\n"+today)
	}
	return strings.Join(parts, "\n\n")
}

func (b *PromptBuilder) timeSection() string {
	now := time.Now()
	return fmt.Sprintf("## Current Time\n\n- **UTC**: %s\n- **Local**: %s",
		now.UTC().Format("2006-01-02 15:04:05 UTC"),
		now.Format("2006-01-02 15:04:05 MST"))
}
