package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rustyclaw/rustyclaw/internal/sandbox"
)

// runExec executes a command via the sandbox layer and formats the
// captured output. A non-zero exit is an error so the retry loop sees it.
func (e *Executor) runExec(ctx context.Context, call Call, forceSandbox bool) (string, error) {
	var params struct {
		Command    string   `json:"command"`
		Args       []string `json:"args"`
		WorkingDir string   `json:"working_dir"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
		return "", fmt.Errorf("parse exec parameters: %w", err)
	}
	if params.Command == "" {
		return "", fmt.Errorf("exec requires a command")
	}
	argv := append([]string{params.Command}, params.Args...)

	result, err := e.runSandboxed(ctx, call, forceSandbox, argv)
	if err != nil {
		return "", err
	}
	output := formatExecResult(result)
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s", output)
	}
	return output, nil
}

// runBash executes a script via bash -c under the sandbox layer.
func (e *Executor) runBash(ctx context.Context, call Call, forceSandbox bool) (string, error) {
	var params struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &params); err != nil {
		return "", fmt.Errorf("parse bash parameters: %w", err)
	}
	if params.Script == "" {
		return "", fmt.Errorf("bash requires a script")
	}

	result, err := e.runSandboxed(ctx, call, forceSandbox, []string{"bash", "-c", params.Script})
	if err != nil {
		return "", err
	}
	output := formatBashResult(result)
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s", output)
	}
	return output, nil
}

// runSandboxed routes argv through the sandbox manager, honouring a
// forced-sandbox approval.
func (e *Executor) runSandboxed(ctx context.Context, call Call, forceSandbox bool, argv []string) (sandbox.ExecResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, defaultAttemptTimeout)
	defer cancel()

	if e.sandboxes == nil {
		return sandbox.RunOnHost(attemptCtx, argv)
	}
	if forceSandbox && e.sandboxes.Available() {
		return e.sandboxes.ExecuteSandboxed(attemptCtx, call.SessionID, argv)
	}
	return e.sandboxes.Execute(attemptCtx, call.SessionID, call.IsMainSession, argv)
}

// formatExecResult renders the exec tool's result block.
func formatExecResult(result sandbox.ExecResult) string {
	var b strings.Builder
	if result.Stdout != "" {
		b.WriteString("Output:\n")
		b.WriteString(result.Stdout)
		if !strings.HasSuffix(result.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if result.Stderr != "" {
		b.WriteString("Errors:\n")
		b.WriteString(result.Stderr)
		if !strings.HasSuffix(result.Stderr, "\n") {
			b.WriteString("\n")
		}
	}
	fmt.Fprintf(&b, "Exit code: %d", result.ExitCode)
	return b.String()
}

// formatBashResult renders the bash tool's looser result block.
func formatBashResult(result sandbox.ExecResult) string {
	var b strings.Builder
	if result.Stdout != "" {
		b.WriteString(result.Stdout)
		if !strings.HasSuffix(result.Stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if result.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("stderr:\n")
		}
		b.WriteString(result.Stderr)
		if !strings.HasSuffix(result.Stderr, "\n") {
			b.WriteString("\n")
		}
	}
	if result.ExitCode != 0 {
		fmt.Fprintf(&b, "(exit code: %d)", result.ExitCode)
	}
	return strings.TrimRight(b.String(), "\n")
}
