package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// ExecResult carries the captured output of one command run.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ContainerSpec describes a container to create.
type ContainerSpec struct {
	Image string

	// Binds are host→container mounts, already rendered as
	// "hostPath:containerPath[:ro]".
	Binds []string

	// NetworkEnabled selects bridge networking; otherwise none.
	NetworkEnabled bool

	Labels map[string]string
}

// ContainerInfo describes an existing container found by the backend.
type ContainerInfo struct {
	ID     string
	Name   string
	Labels map[string]string
}

// Backend is the narrow containerization contract the manager consumes.
// The concrete driver (Docker or compatible) lives outside the core.
type Backend interface {
	// CreateContainer creates (but does not start) a container and
	// returns its id. The image is pulled if absent.
	CreateContainer(ctx context.Context, name string, spec ContainerSpec) (string, error)

	// StartContainer starts a created container.
	StartContainer(ctx context.Context, id string) error

	// ContainerExists reports whether the container is still known to
	// the runtime.
	ContainerExists(ctx context.Context, id string) (bool, error)

	// Exec runs argv inside the container and captures stdio.
	Exec(ctx context.Context, id string, argv []string) (ExecResult, error)

	// RemoveContainer force-removes a container.
	RemoveContainer(ctx context.Context, id string) error

	// ListContainers returns containers carrying the given label key.
	ListContainers(ctx context.Context, labelKey string) ([]ContainerInfo, error)
}

// RunOnHost executes argv directly on the host, capturing stdio and the
// exit code. A missing binary or start failure returns an error; a
// non-zero exit does not.
func RunOnHost(ctx context.Context, argv []string) (ExecResult, error) {
	if len(argv) == 0 {
		return ExecResult{}, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, err
	}
	return result, nil
}
