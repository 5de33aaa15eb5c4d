package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// DockerCLIBackend drives a local Docker-compatible runtime through its
// CLI. It is the only concrete Backend shipped; everything above it
// talks to the Backend interface.
type DockerCLIBackend struct {
	binary string
	logger *slog.Logger
}

// DetectBackend returns a Docker CLI backend when a runtime binary is
// on PATH, or nil when none is available.
func DetectBackend(logger *slog.Logger) Backend {
	if logger == nil {
		logger = slog.Default()
	}
	for _, binary := range []string{"docker", "podman"} {
		if path, err := exec.LookPath(binary); err == nil {
			logger.Info("container runtime detected", "binary", path)
			return &DockerCLIBackend{binary: binary, logger: logger.With("component", "docker")}
		}
	}
	return nil
}

// NewDockerCLIBackend creates a backend over an explicit binary.
func NewDockerCLIBackend(binary string, logger *slog.Logger) *DockerCLIBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerCLIBackend{binary: binary, logger: logger.With("component", "docker")}
}

func (d *DockerCLIBackend) run(ctx context.Context, args ...string) (string, error) {
	result, err := RunOnHost(ctx, append([]string{d.binary}, args...))
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("%s %s: %s", d.binary, args[0], strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// CreateContainer pulls the image if needed and creates the container.
func (d *DockerCLIBackend) CreateContainer(ctx context.Context, name string, spec ContainerSpec) (string, error) {
	if _, err := d.run(ctx, "image", "inspect", spec.Image); err != nil {
		d.logger.Info("pulling sandbox image", "image", spec.Image)
		if _, err := d.run(ctx, "pull", spec.Image); err != nil {
			return "", fmt.Errorf("pull image: %w", err)
		}
	}

	args := []string{"create", "--name", name}
	for _, bind := range spec.Binds {
		args = append(args, "-v", bind)
	}
	if spec.NetworkEnabled {
		args = append(args, "--network", "bridge")
	} else {
		args = append(args, "--network", "none")
	}
	for key, value := range spec.Labels {
		args = append(args, "--label", key+"="+value)
	}
	// Keep PID 1 alive so exec has a target.
	args = append(args, spec.Image, "sleep", "infinity")

	id, err := d.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *DockerCLIBackend) StartContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "start", id)
	return err
}

func (d *DockerCLIBackend) ContainerExists(ctx context.Context, id string) (bool, error) {
	result, err := RunOnHost(ctx, []string{d.binary, "inspect", "--format", "{{.Id}}", id})
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (d *DockerCLIBackend) Exec(ctx context.Context, id string, argv []string) (ExecResult, error) {
	return RunOnHost(ctx, append([]string{d.binary, "exec", id}, argv...))
}

func (d *DockerCLIBackend) RemoveContainer(ctx context.Context, id string) error {
	_, err := d.run(ctx, "rm", "-f", id)
	return err
}

// ListContainers returns containers carrying the given label key.
func (d *DockerCLIBackend) ListContainers(ctx context.Context, labelKey string) ([]ContainerInfo, error) {
	out, err := d.run(ctx, "ps", "-a", "--filter", "label="+labelKey, "--format", "{{.ID}}\t{{.Names}}")
	if err != nil {
		return nil, err
	}
	var infos []ContainerInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "\t", 2)
		if len(fields) != 2 || fields[0] == "" {
			continue
		}
		info := ContainerInfo{ID: fields[0], Name: fields[1], Labels: map[string]string{}}
		if raw, err := d.run(ctx, "inspect", "--format", "{{json .Config.Labels}}", fields[0]); err == nil {
			var labels map[string]string
			if json.Unmarshal([]byte(raw), &labels) == nil {
				info.Labels = labels
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}
