package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rustyclaw/rustyclaw/internal/sandbox"
	"github.com/rustyclaw/rustyclaw/internal/skills"
)

// runSkill executes a loaded skill: through the sandbox when the
// manifest asks for it (or the approver forced it) and a sandbox is
// available, otherwise as a temp executable on the host with arguments
// in SKILL_ARGS.
func (e *Executor) runSkill(ctx context.Context, skill *skills.Skill, call Call, forceSandbox bool) (string, error) {
	timeout := time.Duration(skill.Manifest.TimeoutSecs) * time.Second
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	useSandbox := (skill.Manifest.Sandbox || forceSandbox) && e.sandboxes != nil && e.sandboxes.Available()
	if useSandbox {
		return e.runSkillSandboxed(attemptCtx, skill, call)
	}
	return runSkillLocal(attemptCtx, skill, call.Arguments)
}

func (e *Executor) runSkillSandboxed(ctx context.Context, skill *skills.Skill, call Call) (string, error) {
	var argv []string
	switch skill.Manifest.Runtime {
	case skills.RuntimePython:
		argv = []string{"python3", "-c", skill.Body}
	default:
		argv = []string{"bash", "-c", skill.Body}
	}
	result, err := e.sandboxes.ExecuteSandboxed(ctx, call.SessionID, argv)
	if err != nil {
		return "", fmt.Errorf("sandbox execution failed: %w", err)
	}
	output := formatSkillResult(result)
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s", output)
	}
	return output, nil
}

// runSkillLocal materializes the body to a temp executable with a
// runtime-appropriate shebang and runs it with SKILL_ARGS set.
func runSkillLocal(ctx context.Context, skill *skills.Skill, arguments string) (string, error) {
	script := skill.Body
	if !strings.HasPrefix(script, "#!") {
		switch skill.Manifest.Runtime {
		case skills.RuntimePython:
			script = "#!/usr/bin/env python3\n" + script
		default:
			script = "#!/bin/bash\n" + script
		}
	}

	path := filepath.Join(os.TempDir(), fmt.Sprintf("skill_%s.sh", uuid.NewString()))
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("write skill script: %w", err)
	}
	defer os.Remove(path)

	result, err := runWithEnv(ctx, []string{path}, "SKILL_ARGS="+arguments)
	if err != nil {
		return "", fmt.Errorf("execute skill: %w", err)
	}
	output := formatSkillResult(result)
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s", output)
	}
	return output, nil
}

// formatSkillResult joins stdout, stderr and the exit code the way the
// model expects skill results.
func formatSkillResult(result sandbox.ExecResult) string {
	var b strings.Builder
	if result.Stdout != "" {
		b.WriteString(result.Stdout)
	}
	if result.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n--- stderr ---\n")
		}
		b.WriteString(result.Stderr)
	}
	if result.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Exit code: %d", result.ExitCode)
	}
	if b.Len() == 0 {
		return "(skill executed but produced no output)"
	}
	return b.String()
}
