package tools

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/rustyclaw/rustyclaw/internal/sandbox"
)

// runWithEnv runs argv on the host with extra environment variables,
// capturing stdio and the exit code.
func runWithEnv(ctx context.Context, argv []string, extraEnv ...string) (sandbox.ExecResult, error) {
	if len(argv) == 0 {
		return sandbox.ExecResult{}, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := sandbox.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, err
	}
	return result, nil
}
