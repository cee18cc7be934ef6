// Package executor runs code inside short-lived Docker containers. It backs
// the container runtime: every run gets its own container with networking
// disabled, all capabilities dropped and a read-only root filesystem.
package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"playground-engine/internal/errors"
	"playground-engine/internal/language"
	"playground-engine/internal/logging"
	"playground-engine/internal/sandbox"
)

const (
	workspaceDir = "/workspace"

	defaultMemoryMB = 200
)

// Config holds container resource limits that are not per request.
type Config struct {
	PidsLimit int64
	NanoCPUs  int64
}

// DockerExecutor creates container boundaries.
type DockerExecutor struct {
	cli    client.APIClient
	cfg    Config
	logger *logging.Logger
}

// NewDockerExecutor connects to the Docker daemon configured in the
// environment.
func NewDockerExecutor(cfg Config, logger *logging.Logger) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create docker client")
	}
	return newDockerExecutor(cli, cfg, logger), nil
}

func newDockerExecutor(cli client.APIClient, cfg Config, logger *logging.Logger) *DockerExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DockerExecutor{cli: cli, cfg: cfg, logger: logger.Named("executor")}
}

// NewBoundary makes sure the language image is present. The container
// itself is created when the boundary runs.
func (d *DockerExecutor) NewBoundary(ctx context.Context, spec language.Spec, limits sandbox.Limits) (sandbox.Boundary, error) {
	if spec.Image == "" {
		return nil, errors.Newf("language %s has no container image", spec.Name)
	}
	if err := ensureImage(ctx, d.cli, spec.Image); err != nil {
		return nil, err
	}
	return &containerBoundary{
		exec:   d,
		spec:   spec,
		limits: limits,
	}, nil
}

// Close releases the Docker client.
func (d *DockerExecutor) Close() error {
	return d.cli.Close()
}

// command returns the container command, chaining the compile step when
// the language has one.
func command(spec language.Spec) []string {
	if len(spec.CompileCmd) == 0 {
		return spec.RunCommand
	}
	return []string{
		"sh",
		"-c",
		fmt.Sprintf(
			"%s && exec %s",
			strings.Join(spec.CompileCmd, " "),
			strings.Join(spec.RunCommand, " "),
		),
	}
}

func memoryBytes(limits sandbox.Limits) int64 {
	mb := limits.MemoryLimitMB
	if mb <= 0 {
		mb = defaultMemoryMB
	}
	return mb * 1024 * 1024
}

func ptr[T any](v T) *T {
	return &v
}

func (d *DockerExecutor) logRemoveFailure(id string, err error) {
	d.logger.Warn("failed to remove container", zap.String("container_id", id), zap.Error(err))
}
